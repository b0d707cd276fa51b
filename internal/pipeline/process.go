package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"scriberd/internal/logging"
	"scriberd/internal/mailer"
	"scriberd/internal/queue"
	"scriberd/internal/services"
)

// processJob drives one claimed job through its phases. Failures never
// propagate: the worker records them on the job and returns to the loop.
func (m *Manager) processJob(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	requestID := uuid.NewString()
	logger = logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldRequestID, requestID),
	)
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithRequestID(ctx, requestID)

	m.appendLog(ctx, job.ID, "Job claimed by worker.")
	if err := m.store.SetJobProgress(ctx, job.ID, 0); err != nil {
		logger.Error("reset progress failed", logging.Error(err))
	}

	jobDir := filepath.Join(m.cfg.Paths.DataDir, job.Slug)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		m.failJob(ctx, logger, job, fmt.Sprintf("create job directory: %v", err))
		return
	}
	baseStem := filepath.Join(jobDir, job.Slug)

	uploaded := false
	if job.Uploaded() {
		if _, err := os.Stat(job.MediaPath); err == nil {
			uploaded = true
		}
	}

	var mediaPath string
	if uploaded {
		if aborted := m.checkpoint(ctx, job.ID); aborted != nil {
			m.appendLog(ctx, job.ID, "Job aborted before transcription.")
			logger.Info("job aborted", logging.String(logging.FieldPhase, "transcribing"))
			return
		}
		mediaPath = job.MediaPath
		if err := m.store.MarkJobTranscribing(ctx, job.ID, mediaPath); err != nil {
			logger.Error("mark transcribing failed", logging.Error(err))
			return
		}
		// Uploaded media starts at the transcription half of the bar.
		if err := m.store.SetJobProgress(ctx, job.ID, 50); err != nil {
			logger.Error("set progress failed", logging.Error(err))
		}
		m.appendLog(ctx, job.ID, fmt.Sprintf("Using uploaded media: %s", filepath.Base(mediaPath)))
	} else {
		downloaded, err := m.download(ctx, logger, job, baseStem)
		if err != nil {
			return
		}
		mediaPath = downloaded
	}

	txtPath, err := m.transcribe(ctx, logger, job, mediaPath, jobDir)
	if err != nil {
		return
	}

	keepMedia := uploaded || m.cfg.Pipeline.KeepFetchedMedia
	if !keepMedia {
		if err := os.Remove(mediaPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("remove fetched media failed", logging.Error(err))
		}
	}

	finalMedia := ""
	if keepMedia {
		finalMedia = mediaPath
	}
	if err := m.store.MarkJobDone(ctx, job.ID, txtPath, finalMedia); err != nil {
		logger.Error("mark done failed", logging.Error(err))
		return
	}
	mediaNote := "deleted"
	if uploaded {
		mediaNote = "kept (uploaded by user)"
	} else if keepMedia {
		mediaNote = "kept"
	}
	m.appendLog(ctx, job.ID, fmt.Sprintf("Transcription done. Media %s. TXT at %s", mediaNote, filepath.Base(txtPath)))
	logger.Info("job completed", logging.String("txt_path", txtPath))

	done, err := m.store.GetJob(ctx, job.ID)
	if err != nil {
		logger.Warn("reload finished job failed", logging.Error(err))
		done = job
		done.TxtPath = txtPath
	}
	if err := m.notifier.NotifyTranscriptReady(ctx, done); err != nil {
		m.appendLog(ctx, job.ID, fmt.Sprintf("Webhook notification error: %v", err))
		logger.Warn("webhook notification failed", logging.Error(err))
	}

	m.enqueueDelivery(ctx, logger, done)
}

// download runs the fetch phase, mapping its fraction onto the first half of
// the progress bar. A nil error means mediaPath is ready for transcription.
func (m *Manager) download(ctx context.Context, logger *slog.Logger, job *queue.Job, baseStem string) (string, error) {
	m.appendLog(ctx, job.ID, "Starting download.")

	progress := func(fraction float64) error {
		if aborted := m.checkpoint(ctx, job.ID); aborted != nil {
			return aborted
		}
		return m.store.SetJobProgress(ctx, job.ID, fraction*50)
	}
	logf := func(message string) { m.appendLog(ctx, job.ID, message) }

	mediaPath, err := m.downloader.Download(ctx, job.URL, baseStem, progress, logf)
	if errors.Is(err, ErrAborted) {
		m.appendLog(ctx, job.ID, "Job aborted during download.")
		logger.Info("job aborted", logging.String(logging.FieldPhase, "downloading"))
		return "", err
	}
	if err != nil {
		m.failJob(ctx, logger, job, fmt.Sprintf("Download error: %v", err))
		return "", err
	}

	if err := m.store.MarkJobTranscribing(ctx, job.ID, mediaPath); err != nil {
		logger.Error("mark transcribing failed", logging.Error(err))
		return "", err
	}
	m.appendLog(ctx, job.ID, fmt.Sprintf("Download OK: %s", filepath.Base(mediaPath)))
	return mediaPath, nil
}

// transcribe runs the transcription phase over the second half of the bar.
func (m *Manager) transcribe(ctx context.Context, logger *slog.Logger, job *queue.Job, mediaPath, outputDir string) (string, error) {
	progress := func(fraction float64) error {
		if aborted := m.checkpoint(ctx, job.ID); aborted != nil {
			return aborted
		}
		return m.store.SetJobProgress(ctx, job.ID, 50+fraction*50)
	}
	logf := func(message string) { m.appendLog(ctx, job.ID, message) }

	txtPath, err := m.transcriber.Transcribe(ctx, mediaPath, outputDir, progress, logf)
	if errors.Is(err, ErrAborted) {
		m.appendLog(ctx, job.ID, "Job aborted during transcription.")
		logger.Info("job aborted", logging.String(logging.FieldPhase, "transcribing"))
		return "", err
	}
	if err != nil {
		m.failJob(ctx, logger, job, fmt.Sprintf("Transcription error: %v", err))
		return "", err
	}
	return txtPath, nil
}

// checkpoint re-reads the job status so an externally set canceled flag (or
// a deleted row) stops the work at the next callback.
func (m *Manager) checkpoint(ctx context.Context, jobID int64) error {
	status, err := m.store.FreshJobStatus(ctx, jobID)
	if errors.Is(err, queue.ErrNotFound) {
		return fmt.Errorf("%w: deleted", ErrAborted)
	}
	if err != nil {
		// Status unreadable; keep going rather than abort on a glitch.
		return nil
	}
	if status == queue.JobCanceled {
		return fmt.Errorf("%w: canceled", ErrAborted)
	}
	return nil
}

// failJob records a terminal failure. The store guard keeps a concurrent
// cancel from being overwritten.
func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, job *queue.Job, message string) {
	if err := m.store.MarkJobError(ctx, job.ID, message); err != nil {
		logger.Error("mark error failed", logging.Error(err))
	}
	m.appendLog(ctx, job.ID, message)
	logger.Error("job failed", logging.String("reason", message))

	if err := m.notifier.NotifyJobFailed(ctx, job, message); err != nil {
		logger.Warn("webhook notification failed", logging.Error(err))
	}
}

// enqueueDelivery queues one outbox message per recipient when auto-send is
// enabled and the transport is configured.
func (m *Manager) enqueueDelivery(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	if !m.cfg.SMTP.AutoSend {
		m.appendLog(ctx, job.ID, "Auto-send disabled. Transcript kept for manual delivery.")
		return
	}
	if !m.cfg.SMTP.Configured() {
		m.appendLog(ctx, job.ID, "SMTP not configured. Skipping email.")
		return
	}

	recipients := mailer.RecipientsFor(m.cfg.Paths.RecipientsDir, job.RecipientGroup)
	if len(recipients) == 0 {
		m.appendLog(ctx, job.ID, fmt.Sprintf("No recipients found for group %q. Skipping email.", job.RecipientGroup))
		return
	}

	vars := mailer.Vars{Name: job.Name, Slug: job.Slug, Group: job.RecipientGroup}
	subject := mailer.Render(m.cfg.SMTP.Subject, vars)
	bodyText := mailer.Render(m.cfg.SMTP.Body, vars)
	bodyHTML := ""
	if m.cfg.SMTP.BodyHTML != "" {
		bodyHTML = mailer.Render(m.cfg.SMTP.BodyHTML, vars)
	}

	queued := 0
	for _, to := range recipients {
		_, err := m.store.EnqueueMessage(ctx, &queue.Message{
			JobID:          job.ID,
			To:             to,
			Subject:        subject,
			BodyText:       bodyText,
			BodyHTML:       bodyHTML,
			AttachmentPath: job.TxtPath,
		})
		if err != nil {
			m.appendLog(ctx, job.ID, fmt.Sprintf("Queueing email to %s failed: %v", to, err))
			logger.Error("enqueue delivery failed", logging.String("to", to), logging.Error(err))
			continue
		}
		queued++
	}
	m.appendLog(ctx, job.ID, fmt.Sprintf("Queued %d/%d delivery messages.", queued, len(recipients)))
	logger.Info("delivery queued", logging.Int("recipients", queued))
}

func (m *Manager) appendLog(ctx context.Context, jobID int64, message string) {
	if err := m.store.AppendJobLog(ctx, jobID, message); err != nil {
		m.logger.Warn("append job log failed",
			logging.Int64(logging.FieldJobID, jobID),
			logging.Error(err))
	}
}
