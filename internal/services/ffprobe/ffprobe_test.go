package ffprobe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func stubProbe(t *testing.T, mode string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFPROBE_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() { commandContext = original })
}

func TestDurationParsesJSON(t *testing.T) {
	stubProbe(t, "duration")

	client := NewClient("")
	duration, err := client.Duration(context.Background(), "/media/talk.mp4")
	if err != nil {
		t.Fatalf("Duration returned error: %v", err)
	}
	if duration != 1234.56 {
		t.Fatalf("expected 1234.56, got %v", duration)
	}
}

func TestDurationRequiresPath(t *testing.T) {
	client := NewClient("")
	if _, err := client.Duration(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLooksCompleteAndValidSizeFloor(t *testing.T) {
	stubProbe(t, "duration")

	client := NewClient("")
	small := filepath.Join(t.TempDir(), "tiny.mp4")
	if err := os.WriteFile(small, []byte("stub"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if client.LooksCompleteAndValid(context.Background(), small, 128_000) {
		t.Fatal("expected undersized file to be rejected")
	}
	if !client.LooksCompleteAndValid(context.Background(), small, 1) {
		t.Fatal("expected file above size floor with positive duration to be accepted")
	}
}

func TestLooksCompleteAndValidMissingFile(t *testing.T) {
	client := NewClient("")
	if client.LooksCompleteAndValid(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), 1) {
		t.Fatal("expected missing file to be rejected")
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("FFPROBE_HELPER_MODE") {
	case "duration":
		fmt.Print(`{"format":{"duration":"1234.56"}}`)
		os.Exit(0)
	default:
		os.Exit(1)
	}
}
