// Package notifications delivers job lifecycle events to an optional HTTP
// webhook. Finished transcripts are uploaded as multipart form-data; when no
// webhook is configured every notification is a no-op.
package notifications
