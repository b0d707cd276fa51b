package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scriberd/internal/config"
	"scriberd/internal/logging"
	"scriberd/internal/notifications"
	"scriberd/internal/queue"
)

// Manager coordinates the job worker pool.
type Manager struct {
	cfg         *config.Config
	store       *queue.Store
	downloader  Downloader
	transcriber Transcriber
	notifier    notifications.Service
	logger      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager constructs a pipeline manager with explicit collaborators.
func NewManager(cfg *config.Config, store *queue.Store, downloader Downloader, transcriber Transcriber, notifier notifications.Service, logger *slog.Logger) *Manager {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Manager{
		cfg:         cfg,
		store:       store,
		downloader:  downloader,
		transcriber: transcriber,
		notifier:    notifier,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Start requeues jobs orphaned by a previous crash and launches the worker
// goroutines. It returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	requeued, err := m.store.RequeueOrphanedJobs(ctx)
	if err != nil {
		return fmt.Errorf("recover queue: %w", err)
	}
	if requeued > 0 {
		m.logger.Info("requeued jobs orphaned by previous run", logging.Int64("count", requeued))
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	workers := m.cfg.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.loop(runCtx, i)
	}
	m.logger.Info("pipeline workers started", logging.Int("workers", workers))
	return nil
}

// Stop signals the workers and waits for in-flight jobs to reach a
// checkpoint.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Info("pipeline workers stopped")
}

func (m *Manager) pollInterval() time.Duration {
	if m.cfg.Pipeline.QueuePollInterval > 0 {
		return time.Duration(m.cfg.Pipeline.QueuePollInterval) * time.Second
	}
	return 2 * time.Second
}

func (m *Manager) errorRetryInterval() time.Duration {
	if m.cfg.Pipeline.ErrorRetryInterval > 0 {
		return time.Duration(m.cfg.Pipeline.ErrorRetryInterval) * time.Second
	}
	return 5 * time.Second
}

func (m *Manager) loop(ctx context.Context, worker int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int(logging.FieldWorker, worker))

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := m.store.ClaimNextJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim failed", logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.errorRetryInterval()):
			}
			continue
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.pollInterval()):
			}
			continue
		}
		m.processJob(ctx, logger, job)
	}
}
