// Package logging builds the slog loggers used across scriberd.
//
// Console output goes through tint for readable, colorized lines when
// attached to a terminal; file output uses the standard JSON handler so
// the daemon log stays machine-parseable. Components obtain child
// loggers via NewComponentLogger so every record carries a component
// attribute.
package logging
