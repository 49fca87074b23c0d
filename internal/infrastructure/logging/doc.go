// Package logging provides the structured logger used across the
// runtime: slog with JSON or text output, level filtering from config,
// and default service/version attributes. Components take a narrow
// consumer-side Logger interface; this package supplies the one real
// implementation.
package logging
