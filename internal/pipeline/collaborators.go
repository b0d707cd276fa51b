package pipeline

import (
	"context"
	"errors"

	"scriberd/internal/services"
)

// ErrAborted reports that a job stopped because its canceled flag was set or
// the row was deleted while the worker held it.
var ErrAborted = errors.New("job aborted")

// Downloader fetches remote media to local disk.
type Downloader interface {
	Download(ctx context.Context, url, outStem string, progress services.ProgressFunc, logf services.LogFunc) (string, error)
}

// Transcriber converts local media into a plain-text transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath, outputDir string, progress services.ProgressFunc, logf services.LogFunc) (string, error)
}
