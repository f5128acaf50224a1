// Package config loads, normalizes, and validates padbridge configuration data.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours the PADBRIDGE_RUNTIME_DIR environment override. The
// runtime directory is the named-object namespace every primary and client on
// the host must agree on, so it is resolved here once for both sides.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
