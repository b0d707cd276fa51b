// Package config loads, normalizes, and validates scriberd configuration.
//
// Configuration lives in a TOML file (default ~/.config/scriberd/config.toml)
// with sections per subsystem:
//   - paths: data, log, and recipient-roster directories
//   - pipeline: worker pool sizing and polling intervals
//   - download: yt-dlp binary and media validation thresholds
//   - whisper: transcription model and runtime settings
//   - smtp: outbound mail transport and message templates
//   - outbox: sender pool, rate limit, and retry policy
//   - notifications: completion/failure webhook
//   - logging: format and level
//
// A .env file in the working directory is honored for environment
// overrides; SCRIBERD_SMTP_PASSWORD takes precedence over the config
// file so credentials can stay out of it.
package config
