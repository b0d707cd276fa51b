// Package whisper wraps the whisper-ctranslate2 command line transcriber.
// Progress is derived from the segment timestamps the tool prints while it
// works, sized against the media duration probed up front.
package whisper

import (
	"bufio"
	"bytes"
	"context"
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

// Segment lines look like "[00:12.000 --> 00:15.480]  spoken text" with an
// optional hour field.
var segmentLine = regexp.MustCompile(`^\[(?:(\d+):)?(\d+):(\d+(?:\.\d+)?)\s*-->\s*(?:(\d+):)?(\d+):(\d+(?:\.\d+)?)\]\s*(.*)$`)

// Config carries the transcription model parameters.
type Config struct {
	Binary      string
	Model       string
	Device      string
	ComputeType string
	CPUThreads  int
}

// Transcriber runs speech-to-text over local media files.
type Transcriber struct {
	cfg   Config
	probe *ffprobe.Client
}

// NewTranscriber constructs a transcriber. Zero-value config fields fall back
// to CPU-friendly defaults.
func NewTranscriber(cfg Config, probe *ffprobe.Client) *Transcriber {
	if cfg.Binary == "" {
		cfg.Binary = "whisper-ctranslate2"
	}
	if cfg.Model == "" {
		cfg.Model = "small"
	}
	if cfg.Device == "" {
		cfg.Device = "cpu"
	}
	if cfg.ComputeType == "" {
		cfg.ComputeType = "int8"
	}
	if cfg.CPUThreads <= 0 {
		cfg.CPUThreads = 4
	}
	return &Transcriber{cfg: cfg, probe: probe}
}

// Model returns the configured model name for logging.
func (t *Transcriber) Model() string {
	return t.cfg.Model
}

// Transcribe converts mediaPath to plain text in outputDir and returns the
// transcript path. Progress callbacks report the fraction of media consumed;
// a non-nil return from progress aborts the run.
func (t *Transcriber) Transcribe(ctx context.Context, mediaPath, outputDir string, progress services.ProgressFunc, logf services.LogFunc) (string, error) {
	if mediaPath == "" {
		return "", services.Wrap(services.ErrValidation, "transcribe", "start", "media path required", nil)
	}
	if outputDir == "" {
		outputDir = filepath.Dir(mediaPath)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTranscription, "transcribe", "ensure output dir", "", err)
	}
	if logf == nil {
		logf = func(string) {}
	}

	duration, err := t.probe.Duration(ctx, mediaPath)
	if err != nil {
		duration = 0
	}

	args := []string{
		mediaPath,
		"--model", t.cfg.Model,
		"--device", t.cfg.Device,
		"--compute_type", t.cfg.ComputeType,
		"--threads", strconv.Itoa(t.cfg.CPUThreads),
		"--task", "transcribe",
		"--beam_size", "1",
		"--vad_filter", "False",
		"--condition_on_previous_text", "False",
		"--output_format", "txt",
		"--output_dir", outputDir,
		"--verbose", "True",
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := commandContext(runCtx, t.cfg.Binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "transcribe", t.cfg.Binary, "start failed", err)
	}

	var (
		abortErr error
		lastLog  float64
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		match := segmentLine.FindStringSubmatch(line)
		if match == nil {
			if detected := detectedLanguage(line); detected != "" {
				logf(detected)
			}
			continue
		}
		start := timestampSeconds(match[1], match[2], match[3])
		end := timestampSeconds(match[4], match[5], match[6])
		text := strings.TrimSpace(match[7])

		if duration > 0 && end > 0 {
			fraction := min(end/duration, 1)
			if progress != nil && abortErr == nil {
				if cbErr := progress(fraction); cbErr != nil {
					abortErr = cbErr
					cancel()
					continue
				}
			}
			if end-lastLog >= 2.0 {
				logf(fmt.Sprintf("%5.1f%% [%s → %s] %s", fraction*100, hhmmss(start), hhmmss(end), text))
				lastLog = end
			}
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	if abortErr != nil {
		return "", abortErr
	}
	if waitErr != nil {
		return "", services.Wrap(services.ErrTranscription, "transcribe", t.cfg.Binary, lastStderrLine(stderr.String()), waitErr)
	}
	if scanErr != nil {
		return "", fmt.Errorf("read %s output: %w", t.cfg.Binary, scanErr)
	}

	base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
	txtPath := filepath.Join(outputDir, base+".txt")
	if _, err := os.Stat(txtPath); err != nil {
		return "", services.Wrap(services.ErrTranscription, "transcribe", t.cfg.Binary, "transcript file not produced", err)
	}
	if progress != nil {
		if cbErr := progress(1); cbErr != nil {
			return "", cbErr
		}
	}
	logf("Transcription completed. Writing finalized outputs.")
	return txtPath, nil
}

func detectedLanguage(line string) string {
	if strings.HasPrefix(line, "Detected language") {
		return line
	}
	return ""
}

func timestampSeconds(hours, minutes, seconds string) float64 {
	var total float64
	if hours != "" {
		if h, err := strconv.ParseFloat(hours, 64); err == nil {
			total += h * 3600
		}
	}
	if m, err := strconv.ParseFloat(minutes, 64); err == nil {
		total += m * 60
	}
	if s, err := strconv.ParseFloat(seconds, 64); err == nil {
		total += s
	}
	return total
}

func hhmmss(seconds float64) string {
	h := int(seconds) / 3600
	m := (int(seconds) % 3600) / 60
	s := seconds - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}

func lastStderrLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
