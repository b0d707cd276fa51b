package config

const (
	defaultDataDir       = "~/.local/share/scriberd/data"
	defaultLogDir        = "~/.local/share/scriberd/logs"
	defaultRecipientsDir = "~/.config/scriberd/recipients"

	defaultWorkers            = 1
	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 5

	defaultDownloadBinary = "yt-dlp"
	defaultFFprobeBinary  = "ffprobe"
	defaultMinMediaBytes  = 128_000

	defaultWhisperBinary      = "whisper-ctranslate2"
	defaultWhisperModel       = "small"
	defaultWhisperDevice      = "cpu"
	defaultWhisperComputeType = "int8"
	defaultWhisperCPUThreads  = 4

	defaultSMTPPort    = 587
	defaultMailSubject = "Transcript: {name}"
	defaultMailBody    = "Please find the transcript attached.\n\nJob: {name}\nSlug: {slug}\n"

	defaultSenders          = 1
	defaultRatePerMinute    = 60
	defaultBurst            = 30
	defaultRetryBaseSeconds = 30
	defaultRetryMaxSeconds  = 3600
	defaultMaxAttempts      = 25
	defaultOutboxPollMsec   = 500

	defaultWebhookTimeout = 15

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:       defaultDataDir,
			LogDir:        defaultLogDir,
			RecipientsDir: defaultRecipientsDir,
		},
		Pipeline: Pipeline{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Download: Download{
			Binary:        defaultDownloadBinary,
			MinMediaBytes: defaultMinMediaBytes,
			FFprobeBinary: defaultFFprobeBinary,
		},
		Whisper: Whisper{
			Binary:      defaultWhisperBinary,
			Model:       defaultWhisperModel,
			Device:      defaultWhisperDevice,
			ComputeType: defaultWhisperComputeType,
			CPUThreads:  defaultWhisperCPUThreads,
		},
		SMTP: SMTP{
			Port:      defaultSMTPPort,
			UseTLS:    true,
			VerifyTLS: true,
			Subject:   defaultMailSubject,
			Body:      defaultMailBody,
		},
		Outbox: Outbox{
			Senders:          defaultSenders,
			RatePerMinute:    defaultRatePerMinute,
			Burst:            defaultBurst,
			RetryBaseSeconds: defaultRetryBaseSeconds,
			RetryMaxSeconds:  defaultRetryMaxSeconds,
			MaxAttempts:      defaultMaxAttempts,
			PollIntervalMsec: defaultOutboxPollMsec,
		},
		Notifications: Notifications{
			RequestTimeout: defaultWebhookTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
