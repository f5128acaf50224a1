// Package main hosts the padbridge CLI entrypoint and command graph.
//
// A bare invocation (or "padbridge run") becomes the primary or wakes the one
// already running. The remaining commands are short-lived clients: they
// deliver one command or query to the primary and exit. Configuration
// resolution and logger setup live in commandContext so subcommands stay
// declarative.
package main
