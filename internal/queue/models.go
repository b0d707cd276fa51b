package queue

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle of a transcription job.
type JobStatus string

const (
	JobQueued       JobStatus = "queued"
	JobDownloading  JobStatus = "downloading"
	JobTranscribing JobStatus = "transcribing"
	JobDone         JobStatus = "done"
	JobError        JobStatus = "error"
	// JobCanceled is written by collaborators outside the pipeline; workers
	// observe it at cancellation checkpoints and never overwrite it.
	JobCanceled JobStatus = "canceled"
)

var allJobStatuses = []JobStatus{
	JobQueued,
	JobDownloading,
	JobTranscribing,
	JobDone,
	JobError,
	JobCanceled,
}

// activeJobStatuses are the in-progress states owned by a worker claim.
var activeJobStatuses = []JobStatus{JobDownloading, JobTranscribing}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allJobStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// AllJobStatuses returns the ordered list of known job statuses.
func AllJobStatuses() []JobStatus {
	cp := make([]JobStatus, len(allJobStatuses))
	copy(cp, allJobStatuses)
	return cp
}

// IsTerminal reports whether the pipeline will never touch the job again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobDone, JobError, JobCanceled:
		return true
	default:
		return false
	}
}

// IsActive reports whether a worker claim currently owns the job.
func (s JobStatus) IsActive() bool {
	return s == JobDownloading || s == JobTranscribing
}

// Job is one unit of fetch+transcribe work persisted in SQLite.
type Job struct {
	ID             int64
	Name           string
	Slug           string
	URL            string
	Status         JobStatus
	Progress       float64
	Log            string
	MediaPath      string
	TxtPath        string
	RecipientGroup string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Uploaded reports whether the job's media was provided directly rather
// than fetched from a URL.
func (j Job) Uploaded() bool {
	return j.URL == "" && j.MediaPath != ""
}

// MessageStatus represents the lifecycle of an outbox message.
type MessageStatus string

const (
	MessageQueued  MessageStatus = "queued"
	MessageSending MessageStatus = "sending"
	MessageSent    MessageStatus = "sent"
	MessageError   MessageStatus = "error"
)

var allMessageStatuses = []MessageStatus{
	MessageQueued,
	MessageSending,
	MessageSent,
	MessageError,
}

// ParseMessageStatus converts a string into a known MessageStatus.
func ParseMessageStatus(value string) (MessageStatus, bool) {
	normalized := MessageStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allMessageStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// AllMessageStatuses returns the ordered list of known message statuses.
func AllMessageStatuses() []MessageStatus {
	cp := make([]MessageStatus, len(allMessageStatuses))
	copy(cp, allMessageStatuses)
	return cp
}

// Message is one queued mail delivery. Its lifetime is independent of the
// originating job; JobID is zero for non-job mail (e.g. smoke tests).
type Message struct {
	ID             int64
	JobID          int64
	To             string
	Subject        string
	BodyText       string
	BodyHTML       string
	AttachmentPath string
	Status         MessageStatus
	Attempts       int
	LastError      string
	SendAfter      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
