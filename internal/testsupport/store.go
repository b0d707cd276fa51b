package testsupport

import (
	"context"
	"testing"

	"scriberd/internal/config"
	"scriberd/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a fetch job for tests using the provided store.
func NewJob(t testing.TB, store *queue.Store, name, url string) *queue.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), name, url, "")
	if err != nil {
		t.Fatalf("store.NewJob: %v", err)
	}
	return job
}

// NewUploadedJob creates an uploaded-media job for tests.
func NewUploadedJob(t testing.TB, store *queue.Store, name, mediaPath string) *queue.Job {
	t.Helper()

	job, err := store.NewUploadedJob(context.Background(), name, mediaPath, "")
	if err != nil {
		t.Fatalf("store.NewUploadedJob: %v", err)
	}
	return job
}
