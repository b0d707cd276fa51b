package outbox

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"scriberd/internal/logging"
	"scriberd/internal/queue"
	"scriberd/internal/services"
	"scriberd/internal/testsupport"
)

type fakeMailer struct {
	mu    sync.Mutex
	sent  []string
	fail  error
	calls int
}

func (f *fakeMailer) Send(_ context.Context, to, _, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, to)
	return nil
}

func newTestSender(t *testing.T, mailer Mailer, opts ...testsupport.ConfigOption) (*Sender, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	return NewSender(store, mailer, cfg.Outbox, logging.NewNop()), store
}

func enqueue(t *testing.T, store *queue.Store, jobID int64, to string) *queue.Message {
	t.Helper()
	msg, err := store.EnqueueMessage(context.Background(), &queue.Message{
		JobID:    jobID,
		To:       to,
		Subject:  "Transcript: Talk",
		BodyText: "Attached.",
	})
	if err != nil {
		t.Fatalf("EnqueueMessage failed: %v", err)
	}
	return msg
}

func TestProcessOneDeliversAndLogs(t *testing.T) {
	mailer := &fakeMailer{}
	sender, store := newTestSender(t, mailer)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Talk", "https://example.com/talk")
	msg := enqueue(t, store, job.ID, "dest@example.com")

	processed, err := sender.processOne(ctx, sender.logger)
	if err != nil {
		t.Fatalf("processOne failed: %v", err)
	}
	if !processed {
		t.Fatal("expected a message to be processed")
	}

	got, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Status != queue.MessageSent {
		t.Fatalf("expected sent, got %s", got.Status)
	}

	updatedJob, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if !strings.Contains(updatedJob.Log, "Email sent to dest@example.com") {
		t.Fatalf("expected delivery log line, got %q", updatedJob.Log)
	}
}

func TestProcessOneReschedulesTransientFailure(t *testing.T) {
	mailer := &fakeMailer{fail: services.Wrap(services.ErrTransient, "delivery", "send", "smtp timeout", nil)}
	sender, store := newTestSender(t, mailer)

	ctx := context.Background()
	msg := enqueue(t, store, 0, "dest@example.com")

	if _, err := sender.processOne(ctx, sender.logger); err != nil {
		t.Fatalf("processOne failed: %v", err)
	}

	got, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Status != queue.MessageQueued {
		t.Fatalf("expected requeue, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.Attempts)
	}
	if !got.SendAfter.After(time.Now().Add(30 * time.Second)) {
		t.Fatalf("expected backoff schedule in the future, got %v", got.SendAfter)
	}
	if got.LastError == "" {
		t.Fatal("expected last_error recorded")
	}
}

func TestProcessOneDeadLettersAtAttemptCap(t *testing.T) {
	mailer := &fakeMailer{fail: services.Wrap(services.ErrTransient, "delivery", "send", "smtp down", nil)}
	sender, store := newTestSender(t, mailer)
	sender.cfg.MaxAttempts = 1

	ctx := context.Background()
	msg := enqueue(t, store, 0, "dest@example.com")

	if _, err := sender.processOne(ctx, sender.logger); err != nil {
		t.Fatalf("processOne failed: %v", err)
	}

	got, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Status != queue.MessageError {
		t.Fatalf("expected dead-letter, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.Attempts)
	}
}

func TestProcessOneDeadLettersPermanentFailure(t *testing.T) {
	mailer := &fakeMailer{fail: services.Wrap(services.ErrValidation, "delivery", "send", "invalid recipient", nil)}
	sender, store := newTestSender(t, mailer)

	ctx := context.Background()
	msg := enqueue(t, store, 0, "bad@example.com")

	if _, err := sender.processOne(ctx, sender.logger); err != nil {
		t.Fatalf("processOne failed: %v", err)
	}

	got, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Status != queue.MessageError {
		t.Fatalf("expected permanent failure to dead-letter, got %s", got.Status)
	}
}

func TestProcessOneRateLimitDefersWithoutCounting(t *testing.T) {
	mailer := &fakeMailer{}
	sender, store := newTestSender(t, mailer)

	clock := time.Now()
	sender.bucket = NewTokenBucket(1, 1)
	sender.bucket.now = func() time.Time { return clock }

	ctx := context.Background()
	first := enqueue(t, store, 0, "first@example.com")
	second := enqueue(t, store, 0, "second@example.com")

	if _, err := sender.processOne(ctx, sender.logger); err != nil {
		t.Fatalf("processOne failed: %v", err)
	}
	processed, err := sender.processOne(ctx, sender.logger)
	if err != nil {
		t.Fatalf("processOne failed: %v", err)
	}
	if processed {
		t.Fatal("expected rate-limited claim to defer")
	}

	gotFirst, err := store.GetMessage(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if gotFirst.Status != queue.MessageSent {
		t.Fatalf("expected first message sent, got %s", gotFirst.Status)
	}

	gotSecond, err := store.GetMessage(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if gotSecond.Status != queue.MessageQueued {
		t.Fatalf("expected deferred message back in queue, got %s", gotSecond.Status)
	}
	if gotSecond.Attempts != 0 {
		t.Fatalf("defer must not count as an attempt, got %d", gotSecond.Attempts)
	}
	if !gotSecond.SendAfter.Equal(second.SendAfter) {
		t.Fatalf("defer must not reschedule: %v vs %v", gotSecond.SendAfter, second.SendAfter)
	}
	if mailer.calls != 1 {
		t.Fatalf("expected exactly one send, got %d", mailer.calls)
	}
}

func TestStartRecoversStuckSending(t *testing.T) {
	mailer := &fakeMailer{}
	sender, store := newTestSender(t, mailer, testsupport.WithOutboxRate(6000, 100))

	ctx := context.Background()
	enqueue(t, store, 0, "stuck@example.com")
	if claimed, err := store.ClaimNextMessage(ctx, time.Now()); err != nil || claimed == nil {
		t.Fatalf("expected claim, got %#v err=%v", claimed, err)
	}

	if err := sender.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sender.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := store.OutboxStats(ctx)
		if err != nil {
			t.Fatalf("OutboxStats failed: %v", err)
		}
		if stats[queue.MessageSent] == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected recovered message to be sent")
}
