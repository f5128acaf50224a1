// Package logging assembles structured slog loggers and formatting helpers used
// across padbridge.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes helpers that keep warnings and errors shaped the same
// way everywhere (event type, hint, impact). Every record emitted by a primary
// carries its run id so interleaved log files from successive primaries stay
// readable. The package also provides a no-op logger for tests and wiring code
// that cannot fail.
package logging
