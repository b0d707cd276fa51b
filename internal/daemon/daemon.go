package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"scriberd/internal/config"
	"scriberd/internal/deps"
	"scriberd/internal/logging"
	"scriberd/internal/notifications"
	"scriberd/internal/outbox"
	"scriberd/internal/pipeline"
	"scriberd/internal/queue"
)

// manualFileExtensions lists the media types accepted for direct uploads.
var manualFileExtensions = map[string]struct{}{
	".mp3":  {},
	".mp4":  {},
	".m4a":  {},
	".wav":  {},
	".flac": {},
	".ogg":  {},
	".webm": {},
	".mkv":  {},
}

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	pipeline *pipeline.Manager
	sender   *outbox.Sender

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, pl *pipeline.Manager, sender *outbox.Sender) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || pl == nil || sender == nil {
		return nil, errors.New("daemon requires config, store, logger, pipeline, and sender")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "scriberd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		pipeline: pl,
		sender:   sender,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the worker pools.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scriberd instance is already running")
	}

	for _, status := range deps.CheckBinaries(deps.Default(d.cfg)) {
		if status.Available || status.Optional {
			continue
		}
		d.logger.Warn("required external tool unavailable",
			logging.String("tool", status.Name),
			logging.String("detail", status.Detail))
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.pipeline.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.sender.Start(runCtx); err != nil {
		d.pipeline.Stop()
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start outbox: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("scriberd daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.pipeline.Stop()
	d.sender.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("scriberd daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon holds the lock and its pools are live.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// LockPath returns the single-instance lock file location.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// AddFile enqueues an already-local media file for transcription.
func (d *Daemon) AddFile(ctx context.Context, name, sourcePath, recipientGroup string) (*queue.Job, error) {
	trimmed := strings.TrimSpace(sourcePath)
	if trimmed == "" {
		return nil, errors.New("source path is required")
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat source file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source path %q is a directory", absPath)
	}
	ext := strings.ToLower(filepath.Ext(info.Name()))
	if _, ok := manualFileExtensions[ext]; !ok {
		return nil, fmt.Errorf("unsupported file extension %q", ext)
	}
	if name == "" {
		name = strings.TrimSuffix(info.Name(), filepath.Ext(info.Name()))
	}
	job, err := d.store.NewUploadedJob(ctx, name, absPath, recipientGroup)
	if err != nil {
		return nil, fmt.Errorf("enqueue uploaded file: %w", err)
	}
	d.logger.Info("uploaded file queued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("source", absPath))
	return job, nil
}

// TestNotification triggers a test webhook using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.WebhookURL) == "" {
		return false, "webhook url not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send test notification", err
	}
	return true, "test notification sent", nil
}
