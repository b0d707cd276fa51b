// Package pipeline runs the fetch-and-transcribe state machine. A pool of
// workers claims queued jobs, drives them through download and transcription
// with progress checkpoints, and hands finished transcripts to delivery and
// notifications.
//
// Cancellation is cooperative: collaborators surface progress through
// callbacks, and the worker re-reads the job status at each callback so an
// externally set canceled flag stops the work at the next checkpoint.
package pipeline
