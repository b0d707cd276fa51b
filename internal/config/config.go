package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir       string `toml:"data_dir"`
	LogDir        string `toml:"log_dir"`
	RecipientsDir string `toml:"recipients_dir"`
}

// Pipeline contains worker pool sizing and polling intervals (seconds).
type Pipeline struct {
	Workers            int  `toml:"workers"`
	QueuePollInterval  int  `toml:"queue_poll_interval"`
	ErrorRetryInterval int  `toml:"error_retry_interval"`
	KeepFetchedMedia   bool `toml:"keep_fetched_media"`
}

// Download contains settings for the yt-dlp fetch collaborator.
type Download struct {
	Binary        string `toml:"binary"`
	MinMediaBytes int64  `toml:"min_media_bytes"`
	FFprobeBinary string `toml:"ffprobe_binary"`
}

// Whisper contains transcription runtime settings.
type Whisper struct {
	Binary      string `toml:"binary"`
	Model       string `toml:"model"`
	Device      string `toml:"device"`
	ComputeType string `toml:"compute_type"`
	CPUThreads  int    `toml:"cpu_threads"`
}

// SMTP contains outbound mail transport settings and message templates.
// Templates accept {name}, {slug}, and {group} placeholders.
type SMTP struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	Sender     string `toml:"sender"`
	SenderName string `toml:"sender_name"`
	UseTLS     bool   `toml:"use_tls"`
	UseSSL     bool   `toml:"use_ssl"`
	VerifyTLS  bool   `toml:"verify_tls"`
	AutoSend   bool   `toml:"auto_send"`
	Subject    string `toml:"subject"`
	Body       string `toml:"body"`
	BodyHTML   string `toml:"body_html"`
}

// Outbox contains sender pool sizing, rate limiting, and retry policy.
type Outbox struct {
	Senders          int `toml:"senders"`
	RatePerMinute    int `toml:"rate_per_minute"`
	Burst            int `toml:"burst"`
	RetryBaseSeconds int `toml:"retry_base_seconds"`
	RetryMaxSeconds  int `toml:"retry_max_seconds"`
	// MaxAttempts caps delivery retries before a message is dead-lettered
	// to the error status. Zero retries forever.
	MaxAttempts      int `toml:"max_attempts"`
	PollIntervalMsec int `toml:"poll_interval_msec"`
}

// Notifications contains webhook settings for job lifecycle events.
type Notifications struct {
	WebhookURL     string `toml:"webhook_url"`
	BearerToken    string `toml:"bearer_token"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for scriberd.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Download      Download      `toml:"download"`
	Whisper       Whisper       `toml:"whisper"`
	SMTP          SMTP          `toml:"smtp"`
	Outbox        Outbox        `toml:"outbox"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/scriberd/config.toml")
}

// Load locates, parses, and validates a configuration file. Missing files are
// not an error: defaults apply and the returned bool reports whether a file
// was read. Path fields come back expanded and absolute.
func Load(path string) (*Config, string, bool, error) {
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SCRIBERD_SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SCRIBERD_SMTP_USERNAME"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SCRIBERD_WEBHOOK_TOKEN"); v != "" {
		c.Notifications.BearerToken = v
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		path = defaultPath
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	return expanded, true, nil
}

func (c *Config) normalize() error {
	for _, field := range []*string{&c.Paths.DataDir, &c.Paths.LogDir, &c.Paths.RecipientsDir} {
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	return nil
}

// EnsureDirectories creates the configured directories when absent.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.RecipientsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SenderHeader returns the From header value, with display name when set.
func (s SMTP) SenderHeader() string {
	if s.Sender == "" {
		return ""
	}
	if s.SenderName != "" {
		return fmt.Sprintf("%s <%s>", s.SenderName, s.Sender)
	}
	return s.Sender
}

// Configured reports whether the transport has enough settings to send mail.
func (s SMTP) Configured() bool {
	return strings.TrimSpace(s.Host) != "" && strings.TrimSpace(s.Sender) != ""
}

// SampleConfig returns the embedded sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// WriteSample writes the sample config to the given path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}
	return abs, nil
}
