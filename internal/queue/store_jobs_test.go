package queue_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"scriberd/internal/queue"
	"scriberd/internal/testsupport"
)

func TestOpenCreatesSchemaAndInserts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job, err := store.NewJob(ctx, "My Talk", "https://example.com/talk", "team")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Slug != "my-talk" {
		t.Fatalf("expected slug my-talk, got %q", job.Slug)
	}
	if job.Status != queue.JobQueued {
		t.Fatalf("expected queued status, got %s", job.Status)
	}

	fetched, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.Name != "My Talk" || fetched.RecipientGroup != "team" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
	if fetched.CreatedAt.IsZero() || fetched.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to round-trip")
	}
}

func TestNewJobValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.NewJob(ctx, "", "https://example.com", ""); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := store.NewJob(ctx, "No URL", "", ""); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := store.NewUploadedJob(ctx, "No Media", "", ""); err == nil {
		t.Fatal("expected error for missing media path")
	}
}

func TestSlugCollisionsGetNumericSuffix(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first, err := store.NewJob(ctx, "My Talk", "https://example.com/1", "")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	second, err := store.NewJob(ctx, "My Talk", "https://example.com/2", "")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if first.Slug != "my-talk" || second.Slug != "my-talk-2" {
		t.Fatalf("expected my-talk/my-talk-2, got %q/%q", first.Slug, second.Slug)
	}
}

func TestSlugAvoidsLeftoverDirectories(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if err := os.MkdirAll(filepath.Join(cfg.Paths.DataDir, "my-talk"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	job, err := store.NewJob(context.Background(), "My Talk", "https://example.com", "")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.Slug != "my-talk-2" {
		t.Fatalf("expected my-talk-2, got %q", job.Slug)
	}
}

func TestUploadedJobSkipsFetch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	media := filepath.Join(t.TempDir(), "talk.mp3")
	testsupport.WriteFile(t, media, 1024)

	job, err := store.NewUploadedJob(context.Background(), "Uploaded Talk", media, "")
	if err != nil {
		t.Fatalf("NewUploadedJob failed: %v", err)
	}
	if !job.Uploaded() {
		t.Fatal("expected job to report uploaded media")
	}
	if job.MediaPath != media {
		t.Fatalf("expected media path %q, got %q", media, job.MediaPath)
	}
}

func TestClaimNextJobReturnsOldestQueued(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.NewJob(t, store, "First", "https://example.com/1")
	testsupport.NewJob(t, store, "Second", "https://example.com/2")

	claimed, err := store.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected to claim job %d, got %#v", first.ID, claimed)
	}
	if claimed.Status != queue.JobQueued {
		t.Fatalf("claim should return pre-claim contents, got status %s", claimed.Status)
	}

	stored, err := store.GetJob(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if stored.Status != queue.JobDownloading {
		t.Fatalf("expected downloading after claim, got %s", stored.Status)
	}
}

func TestClaimNextJobEmptyQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	claimed, err := store.ClaimNextJob(context.Background())
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected nil claim on empty queue, got %#v", claimed)
	}
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	const jobCount = 5
	for i := 0; i < jobCount; i++ {
		testsupport.NewJob(t, store, fmt.Sprintf("Job %d", i), fmt.Sprintf("https://example.com/%d", i))
	}

	const claimers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[int64]int)
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.ClaimNextJob(ctx)
				if err != nil {
					t.Errorf("ClaimNextJob: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobCount {
		t.Fatalf("expected %d distinct claims, got %d", jobCount, len(claimed))
	}
	for id, count := range claimed {
		if count != 1 {
			t.Fatalf("job %d claimed %d times", id, count)
		}
	}
}

func TestRequeueOrphanedJobsPreservesProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Orphan", "https://example.com/orphan")
	if _, err := store.ClaimNextJob(ctx); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if err := store.SetJobProgress(ctx, job.ID, 37.5); err != nil {
		t.Fatalf("SetJobProgress failed: %v", err)
	}

	count, err := store.RequeueOrphanedJobs(ctx)
	if err != nil {
		t.Fatalf("RequeueOrphanedJobs failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 job requeued, got %d", count)
	}

	requeued, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if requeued.Status != queue.JobQueued {
		t.Fatalf("expected queued, got %s", requeued.Status)
	}
	if requeued.Progress != 37.5 {
		t.Fatalf("expected progress preserved at 37.5, got %v", requeued.Progress)
	}
}

func TestCancelOnlyAffectsActiveJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Cancelable", "https://example.com/c")

	ok, err := store.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if !ok {
		t.Fatal("expected queued job to be cancelable")
	}

	ok, err = store.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if ok {
		t.Fatal("expected canceled job to stay terminal")
	}
}

func TestMarkJobErrorDoesNotOverwriteCanceled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Racy", "https://example.com/r")
	if _, err := store.ClaimNextJob(ctx); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if _, err := store.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if err := store.MarkJobError(ctx, job.ID, "boom"); err != nil {
		t.Fatalf("MarkJobError failed: %v", err)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != queue.JobCanceled {
		t.Fatalf("expected canceled to win, got %s", got.Status)
	}
}

func TestAppendJobLogIgnoresMissingJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if err := store.AppendJobLog(ctx, 9999, "ghost line"); err != nil {
		t.Fatalf("expected silent no-op for missing job, got %v", err)
	}

	job := testsupport.NewJob(t, store, "Logged", "https://example.com/l")
	if err := store.AppendJobLog(ctx, job.ID, "download started"); err != nil {
		t.Fatalf("AppendJobLog failed: %v", err)
	}
	if err := store.AppendJobLog(ctx, job.ID, "download finished"); err != nil {
		t.Fatalf("AppendJobLog failed: %v", err)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if !strings.Contains(got.Log, "download started") || !strings.Contains(got.Log, "download finished") {
		t.Fatalf("expected both log lines, got %q", got.Log)
	}
	if strings.Count(got.Log, "\n") != 2 {
		t.Fatalf("expected two newline-terminated lines, got %q", got.Log)
	}
}

func TestRetryJobResetsErroredJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Retry Me", "https://example.com/retry")
	if _, err := store.ClaimNextJob(ctx); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if err := store.MarkJobError(ctx, job.ID, "transient failure"); err != nil {
		t.Fatalf("MarkJobError failed: %v", err)
	}

	ok, err := store.RetryJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryJob failed: %v", err)
	}
	if !ok {
		t.Fatal("expected errored job to be retryable")
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != queue.JobQueued || got.Progress != 0 || got.ErrorMessage != "" {
		t.Fatalf("expected clean requeue, got %#v", got)
	}
}

func TestRemoveJobCascadesToOutbox(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Doomed", "https://example.com/d")
	msg, err := store.EnqueueMessage(ctx, &queue.Message{
		JobID:    job.ID,
		To:       "dest@example.com",
		Subject:  "Transcript",
		BodyText: "body",
	})
	if err != nil {
		t.Fatalf("EnqueueMessage failed: %v", err)
	}

	removed, err := store.RemoveJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("RemoveJob failed: %v", err)
	}
	if !removed {
		t.Fatal("expected job removal")
	}

	if _, err := store.GetMessage(ctx, msg.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected cascade delete of outbox row, got %v", err)
	}
}

func TestJobStatsAndListFilters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewJob(t, store, "A", "https://example.com/a")
	b := testsupport.NewJob(t, store, "B", "https://example.com/b")
	if _, err := store.ClaimNextJob(ctx); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}

	stats, err := store.JobStats(ctx)
	if err != nil {
		t.Fatalf("JobStats failed: %v", err)
	}
	if stats[queue.JobQueued] != 1 || stats[queue.JobDownloading] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}

	queued, err := store.ListJobs(ctx, queue.JobQueued)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != b.ID {
		t.Fatalf("unexpected queued list: %#v", queued)
	}

	all, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}
}
