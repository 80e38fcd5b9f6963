// Package logging configures structured logging for the quota engine.
//
// It wraps log/slog with configuration-driven level and format selection
// (JSON for production, text for local development). Components derive
// scoped loggers with .With("component", ...) so every line carries its
// origin.
package logging
