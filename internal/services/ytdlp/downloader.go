// Package ytdlp wraps the yt-dlp command line downloader. It streams progress
// from the tool's output, retries resume-rejecting servers, and validates the
// finished media before handing it to transcription.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"scriberd/internal/services"
	"scriberd/internal/services/ffprobe"
)

var commandContext = exec.CommandContext

// errResumeRejected marks a 416 from a server that refuses ranged resume of
// an existing partial file. The cure is a fresh download.
var errResumeRejected = errors.New("server rejected resume")

var progressLine = regexp.MustCompile(`\[download\]\s+([0-9.]+)%`)

// Option configures the downloader.
type Option func(*Downloader)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(d *Downloader) {
		if binary != "" {
			d.binary = binary
		}
	}
}

// WithMinMediaBytes sets the size floor below which a download is considered
// truncated.
func WithMinMediaBytes(n int64) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.minMediaBytes = n
		}
	}
}

// Downloader fetches remote media via yt-dlp.
type Downloader struct {
	binary        string
	minMediaBytes int64
	probe         *ffprobe.Client
}

// NewDownloader constructs a downloader using the given probe client for
// post-download validation.
func NewDownloader(probe *ffprobe.Client, opts ...Option) *Downloader {
	d := &Downloader{
		binary:        "yt-dlp",
		minMediaBytes: 128_000,
		probe:         probe,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type attemptResult struct {
	path     string
	duration float64
}

// Download fetches url into files named after outStem (extension chosen by
// the tool) and returns the final media path. Progress callbacks report the
// download fraction; a non-nil return from progress aborts the transfer.
//
// Strategy follows three rungs: resume an existing partial if the server
// allows it, restart fresh on a 416, and as a last resort restart fresh with
// an external downloader for servers that serve truncated ranged responses.
func (d *Downloader) Download(ctx context.Context, url, outStem string, progress services.ProgressFunc, logf services.LogFunc) (string, error) {
	if url == "" {
		return "", services.Wrap(services.ErrValidation, "download", "start", "url required", nil)
	}
	if outStem == "" {
		return "", services.Wrap(services.ErrValidation, "download", "start", "output stem required", nil)
	}
	if logf == nil {
		logf = func(string) {}
	}

	logf("Starting download (resume if possible)")
	result, err := d.attempt(ctx, url, outStem, true, false, progress)
	if errors.Is(err, errResumeRejected) {
		logf("Server rejected resume (416). Retrying fresh.")
		result, err = d.attempt(ctx, url, outStem, false, false, progress)
	}
	if err != nil {
		return "", err
	}

	if d.valid(ctx, result) {
		return result.path, nil
	}

	size := fileSize(result.path)
	logf(fmt.Sprintf("Validation failed after download: size=%d expected_duration=%.1fs", size, result.duration))
	_ = os.Remove(result.path)

	logf("Retrying with no-resume and external downloader.")
	retried, err := d.attempt(ctx, url, outStem, false, true, progress)
	if err != nil {
		return "", err
	}
	if retried.duration == 0 {
		retried.duration = result.duration
	}
	if !d.valid(ctx, retried) {
		return "", services.Wrap(services.ErrFetch, "download", "validate",
			fmt.Sprintf("media corrupted after retry: size=%d expected_duration=%.1fs", fileSize(retried.path), retried.duration), nil)
	}
	return retried.path, nil
}

func (d *Downloader) attempt(ctx context.Context, url, outStem string, resume, external bool, progress services.ProgressFunc) (attemptResult, error) {
	var result attemptResult

	args := []string{
		"--newline",
		"--progress",
		"--retries", "10",
		"--fragment-retries", "10",
		"--merge-output-format", "mp4",
		"--concurrent-fragments", "4",
		"--http-chunk-size", "1M",
		"--no-simulate",
		"--print", "after_move:%(duration)s|%(filepath)s",
		"-o", outStem + ".%(ext)s",
	}
	if resume {
		args = append(args, "--continue")
	} else {
		args = append(args, "--no-continue")
	}
	if external {
		args = append(args, "--downloader", "aria2c,ffmpeg")
	}
	args = append(args, url)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := commandContext(runCtx, d.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return result, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return result, services.Wrap(services.ErrExternalTool, "download", d.binary, "start failed", err)
	}

	var abortErr error
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if match := progressLine.FindStringSubmatch(line); match != nil {
			pct, parseErr := strconv.ParseFloat(match[1], 64)
			if parseErr != nil || progress == nil {
				continue
			}
			if cbErr := progress(min(pct/100, 1)); cbErr != nil && abortErr == nil {
				abortErr = cbErr
				cancel()
			}
			continue
		}
		if duration, path, ok := parseFinalLine(line); ok {
			result.duration = duration
			result.path = path
		}
	}

	waitErr := cmd.Wait()
	if abortErr != nil {
		return result, abortErr
	}
	if waitErr != nil {
		detail := strings.TrimSpace(stderr.String())
		if isResumeRejected(detail) {
			return result, errResumeRejected
		}
		return result, services.Wrap(services.ErrFetch, "download", d.binary, lastLine(detail), waitErr)
	}

	if result.path == "" {
		result.path = findOutput(outStem)
	}
	if result.path == "" {
		return result, services.Wrap(services.ErrFetch, "download", d.binary, "finished but output file not found", nil)
	}
	if progress != nil {
		if cbErr := progress(1); cbErr != nil {
			return result, cbErr
		}
	}
	return result, nil
}

func (d *Downloader) valid(ctx context.Context, result attemptResult) bool {
	if !d.probe.LooksCompleteAndValid(ctx, result.path, d.minMediaBytes) {
		return false
	}
	if result.duration <= 0 {
		return true
	}
	got, err := d.probe.Duration(ctx, result.path)
	if errors.Is(err, ffprobe.ErrUnavailable) {
		return true
	}
	if err != nil {
		return false
	}
	// Tolerate minor container trimming but reject truncated ranged responses.
	return got >= 0.90*result.duration
}

// parseFinalLine splits the "duration|filepath" print emitted after the tool
// moves the finished file into place. Duration is "NA" when unknown.
func parseFinalLine(line string) (float64, string, bool) {
	durationStr, path, found := strings.Cut(line, "|")
	if !found || path == "" || !filepath.IsAbs(path) {
		return 0, "", false
	}
	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		duration = 0
	}
	return duration, path, true
}

func isResumeRejected(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "http error 416") || strings.Contains(lower, "requested range not satisfiable")
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

func findOutput(outStem string) string {
	matches, err := filepath.Glob(outStem + ".*")
	if err != nil {
		return ""
	}
	for _, match := range matches {
		if strings.HasSuffix(match, ".part") || strings.HasSuffix(match, ".ytdl") {
			continue
		}
		if info, statErr := os.Stat(match); statErr == nil && info.Mode().IsRegular() {
			return match
		}
	}
	return ""
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
