// Package services defines shared utilities consumed by the pipeline phase
// handlers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, phase names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification consistent across fetch, transcription, and delivery.
//   - Thin abstractions that make command execution from external tools
//     testable.
package services
