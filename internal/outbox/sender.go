package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scriberd/internal/config"
	"scriberd/internal/logging"
	"scriberd/internal/queue"
	"scriberd/internal/services"
)

// Mailer delivers a single message over the transport.
type Mailer interface {
	Send(ctx context.Context, to, subject, bodyText, bodyHTML, attachmentPath string) error
}

// Sender runs the delivery worker pool over the outbox table.
type Sender struct {
	store  *queue.Store
	mailer Mailer
	bucket *TokenBucket
	cfg    config.Outbox
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSender wires a sender pool against the store and transport.
func NewSender(store *queue.Store, mailer Mailer, cfg config.Outbox, logger *slog.Logger) *Sender {
	return &Sender{
		store:  store,
		mailer: mailer,
		bucket: NewTokenBucket(cfg.RatePerMinute, cfg.Burst),
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "outbox"),
	}
}

// Start requeues messages stranded by a previous crash and launches the
// sender goroutines. It returns immediately.
func (s *Sender) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	requeued, err := s.store.RequeueStuckSending(ctx)
	if err != nil {
		return fmt.Errorf("recover outbox: %w", err)
	}
	if requeued > 0 {
		s.logger.Info("requeued messages stuck in sending", logging.Int64("count", requeued))
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	senders := s.cfg.Senders
	if senders < 1 {
		senders = 1
	}
	for i := 0; i < senders; i++ {
		s.wg.Add(1)
		go s.loop(runCtx, i)
	}
	s.logger.Info("outbox senders started", logging.Int("senders", senders))
	return nil
}

// Stop signals the senders and waits for in-flight deliveries to settle.
func (s *Sender) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("outbox senders stopped")
}

func (s *Sender) pollInterval() time.Duration {
	if s.cfg.PollIntervalMsec > 0 {
		return time.Duration(s.cfg.PollIntervalMsec) * time.Millisecond
	}
	return 500 * time.Millisecond
}

func (s *Sender) loop(ctx context.Context, worker int) {
	defer s.wg.Done()
	logger := s.logger.With(logging.Int(logging.FieldWorker, worker))
	interval := s.pollInterval()

	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := s.processOne(ctx, logger)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("outbox iteration failed", logging.Error(err))
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// processOne claims and handles at most one message. It reports whether a
// message was claimed so the loop can skip the idle sleep while work remains.
func (s *Sender) processOne(ctx context.Context, logger *slog.Logger) (bool, error) {
	msg, err := s.store.ClaimNextMessage(ctx, time.Now())
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	// A deferred message keeps its attempt count and schedule; the release
	// just puts it back for whichever sender has budget next.
	if !s.bucket.Take() {
		if err := s.store.ReleaseMessage(ctx, msg.ID); err != nil {
			return false, err
		}
		logger.Debug("rate limit deferred message", logging.Int64(logging.FieldMessageID, msg.ID))
		return false, nil
	}

	sendErr := s.mailer.Send(ctx, msg.To, msg.Subject, msg.BodyText, msg.BodyHTML, msg.AttachmentPath)
	if sendErr == nil {
		if err := s.store.MarkMessageSent(ctx, msg.ID); err != nil {
			return true, err
		}
		s.appendJobLog(ctx, msg, fmt.Sprintf("Email sent to %s", msg.To))
		logger.Info("message sent",
			logging.Int64(logging.FieldMessageID, msg.ID),
			logging.String("to", msg.To))
		return true, nil
	}

	return true, s.handleFailure(ctx, logger, msg, sendErr)
}

func (s *Sender) handleFailure(ctx context.Context, logger *slog.Logger, msg *queue.Message, sendErr error) error {
	attempts := msg.Attempts + 1
	lastError := truncate(sendErr.Error(), 500)

	exhausted := s.cfg.MaxAttempts > 0 && attempts >= s.cfg.MaxAttempts
	if exhausted || !services.Retryable(sendErr) {
		if err := s.store.MarkMessageError(ctx, msg.ID, attempts, lastError); err != nil {
			return err
		}
		s.appendJobLog(ctx, msg, fmt.Sprintf("Email to %s failed permanently after %d attempts: %s", msg.To, attempts, truncate(sendErr.Error(), 120)))
		logger.Error("message dead-lettered",
			logging.Int64(logging.FieldMessageID, msg.ID),
			logging.Int("attempts", attempts),
			logging.Error(sendErr))
		return nil
	}

	delay := Delay(
		time.Duration(s.cfg.RetryBaseSeconds)*time.Second,
		time.Duration(s.cfg.RetryMaxSeconds)*time.Second,
		attempts,
	)
	sendAfter := time.Now().Add(delay)
	if err := s.store.RequeueMessageFailure(ctx, msg.ID, attempts, lastError, sendAfter); err != nil {
		return err
	}
	s.appendJobLog(ctx, msg, fmt.Sprintf("Email to %s failed: %s... Retrying at %s", msg.To, truncate(sendErr.Error(), 120), sendAfter.UTC().Format("2006-01-02 15:04:05")))
	logger.Warn("message delivery failed, retry scheduled",
		logging.Int64(logging.FieldMessageID, msg.ID),
		logging.Int("attempts", attempts),
		logging.Duration("delay", delay),
		logging.Error(sendErr))
	return nil
}

func (s *Sender) appendJobLog(ctx context.Context, msg *queue.Message, line string) {
	if msg.JobID == 0 {
		return
	}
	if err := s.store.AppendJobLog(ctx, msg.JobID, line); err != nil {
		s.logger.Warn("append job log failed",
			logging.Int64(logging.FieldJobID, msg.JobID),
			logging.Error(err))
	}
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
