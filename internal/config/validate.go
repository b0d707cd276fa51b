package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateOutbox(); err != nil {
		return err
	}
	if err := c.validateSMTP(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Workers < 1 {
		return errors.New("pipeline.workers must be at least 1")
	}
	if c.Pipeline.QueuePollInterval < 1 {
		return errors.New("pipeline.queue_poll_interval must be at least 1 second")
	}
	if c.Pipeline.ErrorRetryInterval < 1 {
		return errors.New("pipeline.error_retry_interval must be at least 1 second")
	}
	return nil
}

func (c *Config) validateOutbox() error {
	if c.Outbox.Senders < 1 {
		return errors.New("outbox.senders must be at least 1")
	}
	if c.Outbox.RatePerMinute < 1 {
		return errors.New("outbox.rate_per_minute must be at least 1")
	}
	if c.Outbox.Burst < 1 {
		return errors.New("outbox.burst must be at least 1")
	}
	if c.Outbox.RetryBaseSeconds < 1 {
		return errors.New("outbox.retry_base_seconds must be at least 1")
	}
	if c.Outbox.RetryMaxSeconds < c.Outbox.RetryBaseSeconds {
		return errors.New("outbox.retry_max_seconds must be >= outbox.retry_base_seconds")
	}
	if c.Outbox.MaxAttempts < 0 {
		return errors.New("outbox.max_attempts must not be negative")
	}
	return nil
}

func (c *Config) validateSMTP() error {
	if c.SMTP.UseSSL && c.SMTP.UseTLS {
		return errors.New("smtp.use_ssl and smtp.use_tls are mutually exclusive")
	}
	if c.SMTP.AutoSend && !c.SMTP.Configured() {
		return errors.New("smtp.auto_send requires smtp.host and smtp.sender")
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port %d out of range", c.SMTP.Port)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
