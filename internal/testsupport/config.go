package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"scriberd/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.RecipientsDir = filepath.Join(base, "recipients")
	cfgVal.SMTP.Host = "smtp.test.invalid"
	cfgVal.SMTP.Sender = "scriberd@test.invalid"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkers sets the pipeline worker count on the test config.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Workers = n
	}
}

// WithOutboxRate overrides the sender rate limit on the test config.
func WithOutboxRate(perMinute, burst int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Outbox.RatePerMinute = perMinute
		b.cfg.Outbox.Burst = burst
	}
}

// WithRecipients writes a recipients roster file for the named group
// ("" for the default roster) into the test recipients directory.
func WithRecipients(group string, addrs ...string) ConfigOption {
	return func(b *configBuilder) {
		if err := os.MkdirAll(b.cfg.Paths.RecipientsDir, 0o755); err != nil {
			b.t.Fatalf("mkdir recipients dir: %v", err)
		}
		name := "recipients.txt"
		if group != "" {
			name = "recipients_" + group + ".txt"
		}
		content := ""
		for _, addr := range addrs {
			content += addr + "\n"
		}
		target := filepath.Join(b.cfg.Paths.RecipientsDir, name)
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			b.t.Fatalf("write roster %s: %v", name, err)
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external binaries
// are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"yt-dlp", "whisper-ctranslate2", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}
