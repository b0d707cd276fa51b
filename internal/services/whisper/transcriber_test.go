package whisper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"scriberd/internal/services/ffprobe"
)

// probeWithDuration writes a stub ffprobe script reporting the given duration
// and returns a client bound to it.
func probeWithDuration(t *testing.T, seconds float64) *ffprobe.Client {
	t.Helper()
	script := filepath.Join(t.TempDir(), "ffprobe-stub")
	body := fmt.Sprintf("#!/bin/sh\nprintf '{\"format\":{\"duration\":\"%g\"}}'\n", seconds)
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return ffprobe.NewClient(script)
}

func stubWhisper(t *testing.T, mode, txtPath string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			"WHISPER_HELPER_MODE="+mode,
			"WHISPER_HELPER_TXT="+txtPath,
		)
		return cmd
	}
	t.Cleanup(func() { commandContext = original })
}

func TestTranscribeProducesTextAndProgress(t *testing.T) {
	outputDir := t.TempDir()
	txtPath := filepath.Join(outputDir, "talk.txt")
	stubWhisper(t, "success", txtPath)

	var (
		fractions []float64
		logLines  []string
	)
	transcriber := NewTranscriber(Config{}, probeWithDuration(t, 100))
	got, err := transcriber.Transcribe(context.Background(), "/media/talk.mp4", outputDir,
		func(fraction float64) error {
			fractions = append(fractions, fraction)
			return nil
		},
		func(message string) { logLines = append(logLines, message) })
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if got != txtPath {
		t.Fatalf("expected %q, got %q", txtPath, got)
	}
	if len(fractions) < 2 {
		t.Fatalf("expected segment progress callbacks, got %v", fractions)
	}
	if fractions[len(fractions)-1] != 1 {
		t.Fatalf("expected final fraction 1, got %v", fractions)
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] {
			t.Fatalf("expected monotonic progress, got %v", fractions)
		}
	}

	foundLanguage := false
	for _, line := range logLines {
		if strings.HasPrefix(line, "Detected language") {
			foundLanguage = true
		}
	}
	if !foundLanguage {
		t.Fatalf("expected detected-language log line, got %v", logLines)
	}
}

func TestTranscribeAbortsOnProgressError(t *testing.T) {
	outputDir := t.TempDir()
	stubWhisper(t, "success", filepath.Join(outputDir, "talk.txt"))

	abort := errors.New("job canceled")
	transcriber := NewTranscriber(Config{}, probeWithDuration(t, 100))
	_, err := transcriber.Transcribe(context.Background(), "/media/talk.mp4", outputDir,
		func(float64) error { return abort }, nil)
	if !errors.Is(err, abort) {
		t.Fatalf("expected abort error, got %v", err)
	}
}

func TestTranscribeFailsWithoutTranscript(t *testing.T) {
	outputDir := t.TempDir()
	stubWhisper(t, "no-output", "")

	transcriber := NewTranscriber(Config{}, probeWithDuration(t, 100))
	if _, err := transcriber.Transcribe(context.Background(), "/media/talk.mp4", outputDir, nil, nil); err == nil {
		t.Fatal("expected error when transcript file is missing")
	}
}

func TestTranscribeRequiresMediaPath(t *testing.T) {
	transcriber := NewTranscriber(Config{}, probeWithDuration(t, 100))
	if _, err := transcriber.Transcribe(context.Background(), "", t.TempDir(), nil, nil); err == nil {
		t.Fatal("expected error for missing media path")
	}
}

func TestTimestampSeconds(t *testing.T) {
	if got := timestampSeconds("1", "02", "03.5"); got != 3723.5 {
		t.Fatalf("expected 3723.5, got %v", got)
	}
	if got := timestampSeconds("", "12", "15.48"); got != 735.48 {
		t.Fatalf("expected 735.48, got %v", got)
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("WHISPER_HELPER_MODE") {
	case "success":
		fmt.Println("Detected language: en (probability 0.99)")
		fmt.Println("[00:00.000 --> 00:10.000]  first segment text")
		fmt.Println("[00:10.000 --> 00:50.000]  second segment text")
		fmt.Println("[00:50.000 --> 01:40.000]  final segment text")
		_ = os.WriteFile(os.Getenv("WHISPER_HELPER_TXT"), []byte("first segment text\n"), 0o644)
		os.Exit(0)
	case "no-output":
		fmt.Println("[00:00.000 --> 00:10.000]  text")
		os.Exit(0)
	default:
		os.Exit(1)
	}
}
