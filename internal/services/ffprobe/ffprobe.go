// Package ffprobe wraps the ffprobe command line tool for media inspection.
// The pipeline uses it to validate downloads and to size transcription
// progress against the media duration.
package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

var commandContext = exec.CommandContext

// ErrUnavailable reports that ffprobe is not installed or not on PATH.
var ErrUnavailable = errors.New("ffprobe unavailable")

// Client invokes ffprobe against local media files.
type Client struct {
	binary string
}

// NewClient constructs a client. An empty binary falls back to "ffprobe".
func NewClient(binary string) *Client {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Client{binary: binary}
}

// Duration returns the container duration in seconds. ErrUnavailable is
// returned when the binary cannot be executed at all; other failures mean the
// file could not be probed.
func (c *Client) Duration(ctx context.Context, path string) (float64, error) {
	if path == "" {
		return 0, errors.New("media path required")
	}
	cmd := commandContext(ctx, c.binary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		path,
	) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return 0, ErrUnavailable
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, fmt.Errorf("probe %s: %s", path, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}

	var payload struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &payload); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if payload.Format.Duration == "" {
		return 0, errors.New("no duration in ffprobe output")
	}
	duration, err := strconv.ParseFloat(payload.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", payload.Format.Duration, err)
	}
	return duration, nil
}

// LooksCompleteAndValid reports whether the file at path is plausibly a whole
// media file: it exists, meets the size floor, and probes with a positive
// duration. When ffprobe itself is unavailable the size check alone decides.
func (c *Client) LooksCompleteAndValid(ctx context.Context, path string, minBytes int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Size() < minBytes {
		return false
	}
	duration, err := c.Duration(ctx, path)
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	if err != nil {
		return false
	}
	return duration > 0
}
