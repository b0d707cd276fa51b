package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scriberd/internal/config"
	"scriberd/internal/queue"
)

const userAgent = "Scriberd/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyTranscriptReady(ctx context.Context, job *queue.Job) error
	NotifyJobFailed(ctx context.Context, job *queue.Job, cause string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by the configured webhook.
// When no webhook URL is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	url := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if url == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &webhookService{
		endpoint:    url,
		bearerToken: cfg.Notifications.BearerToken,
		client:      &http.Client{Timeout: timeout},
		maxAttempts: 4,
		baseBackoff: 2 * time.Second,
	}
}

type webhookService struct {
	endpoint    string
	bearerToken string
	client      *http.Client
	maxAttempts int
	baseBackoff time.Duration
}

type metadata struct {
	JobID          int64  `json:"job_id"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	RecipientGroup string `json:"recipient_group,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
	Source         string `json:"source"`
	Status         string `json:"status"`
	Filename       string `json:"filename,omitempty"`
	Error          string `json:"error,omitempty"`
}

// NotifyTranscriptReady uploads the finished transcript as multipart
// form-data: a "metadata" JSON field plus the file itself.
func (w *webhookService) NotifyTranscriptReady(ctx context.Context, job *queue.Job) error {
	meta := w.jobMetadata(job, "done")
	meta.Filename = filepath.Base(job.TxtPath)
	return w.post(ctx, meta, job.TxtPath)
}

// NotifyJobFailed posts failure metadata without a file part.
func (w *webhookService) NotifyJobFailed(ctx context.Context, job *queue.Job, cause string) error {
	meta := w.jobMetadata(job, "error")
	meta.Error = cause
	return w.post(ctx, meta, "")
}

// TestNotification posts a minimal payload so operators can verify the
// endpoint and token.
func (w *webhookService) TestNotification(ctx context.Context) error {
	return w.post(ctx, metadata{Source: "scriberd", Status: "test"}, "")
}

func (w *webhookService) jobMetadata(job *queue.Job, status string) metadata {
	meta := metadata{
		JobID:          job.ID,
		Name:           job.Name,
		Slug:           job.Slug,
		RecipientGroup: job.RecipientGroup,
		Source:         "scriberd",
		Status:         status,
	}
	if !job.CreatedAt.IsZero() {
		meta.CreatedAt = job.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !job.UpdatedAt.IsZero() {
		meta.UpdatedAt = job.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return meta
}

func (w *webhookService) post(ctx context.Context, meta metadata, filePath string) error {
	var fileData []byte
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("read webhook file: %w", err)
		}
		fileData = data
	}

	var lastErr error
	backoff := w.baseBackoff
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		lastErr = w.postOnce(ctx, meta, filePath, fileData)
		if lastErr == nil {
			return nil
		}
		if attempt == w.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * 1.5)
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func (w *webhookService) postOnce(ctx context.Context, meta metadata, filePath string, fileData []byte) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode webhook metadata: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("metadata", string(metaJSON)); err != nil {
		return fmt.Errorf("write metadata field: %w", err)
	}
	if filePath != "" {
		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			return fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(fileData); err != nil {
			return fmt.Errorf("write file part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, &body)
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("User-Agent", userAgent)
	if w.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.bearerToken)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyTranscriptReady(context.Context, *queue.Job) error      { return nil }
func (noopService) NotifyJobFailed(context.Context, *queue.Job, string) error    { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }

var (
	_ Service = (*webhookService)(nil)
	_ Service = noopService{}
)
