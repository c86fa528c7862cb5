package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateStatus(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAPI() error {
	if _, err := normalizeBaseURL(c.API.BaseURL); err != nil {
		return err
	}
	if c.API.TimeoutSeconds <= 0 {
		return errors.New("api.timeout_seconds must be positive")
	}
	if c.API.UploadTimeoutSeconds <= 0 {
		return errors.New("api.upload_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.PollIntervalSeconds <= 0 {
		return errors.New("upload.poll_interval_seconds must be positive")
	}
	if c.Upload.MaxDurationSeconds <= 0 {
		return errors.New("upload.max_duration_seconds must be positive")
	}
	if c.Upload.MaxDurationSeconds < c.Upload.PollIntervalSeconds {
		return fmt.Errorf("upload.max_duration_seconds (%d) must not be shorter than upload.poll_interval_seconds (%d)",
			c.Upload.MaxDurationSeconds, c.Upload.PollIntervalSeconds)
	}
	if c.Upload.CleanupDelaySeconds < 0 {
		return errors.New("upload.cleanup_delay_seconds must be zero or positive")
	}
	return nil
}

func (c *Config) validateStatus() error {
	if c.Status.APIBind == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Status.APIBind); err != nil {
		return fmt.Errorf("status.api_bind: %w", err)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	parsed, err := url.Parse(topic)
	if err != nil {
		return fmt.Errorf("notifications.ntfy_topic: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic: expected a full topic URL such as https://ntfy.sh/my-topic, got %q", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
