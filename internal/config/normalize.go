package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var envFileNames = []string{".env.local", ".env"}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeAPI(); err != nil {
		return err
	}
	c.normalizeStatus()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = ExpandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = ExpandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() error {
	if value, ok := os.LookupEnv("CREASE_API_URL"); ok && strings.TrimSpace(value) != "" {
		c.API.BaseURL = value
	}
	if value, ok := os.LookupEnv("CREASE_API_TIMEOUT"); ok && strings.TrimSpace(value) != "" {
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("CREASE_API_TIMEOUT: %w", err)
		}
		c.API.TimeoutSeconds = seconds
	}
	if strings.TrimSpace(c.API.BaseURL) == "" {
		c.API.BaseURL = defaultBaseURL
	}
	normalized, err := normalizeBaseURL(c.API.BaseURL)
	if err != nil {
		return err
	}
	c.API.BaseURL = normalized
	return nil
}

func (c *Config) normalizeStatus() {
	c.Status.APIBind = strings.TrimSpace(c.Status.APIBind)
	if value, ok := os.LookupEnv("CREASE_STATUS_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Status.APIToken = value
	}
	c.Status.APIToken = strings.TrimSpace(c.Status.APIToken)
}

func (c *Config) normalizeNotifications() {
	if value, ok := os.LookupEnv("CREASE_NTFY_TOPIC"); ok && strings.TrimSpace(value) != "" {
		c.Notifications.NtfyTopic = value
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", fmt.Errorf("api.base_url must be set")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("api.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("api.base_url: unsupported scheme %q (use http or https)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("api.base_url: missing host in %q", raw)
	}
	return trimmed, nil
}

// loadEnvFiles loads .env files next to the config file and in the working
// directory. Variables already present in the environment are left untouched.
func loadEnvFiles(configPath string) {
	files := envFileCandidates(configPath)
	if len(files) == 0 {
		return
	}
	_ = godotenv.Load(files...)
}

func envFileCandidates(configPath string) []string {
	dirs := make([]string, 0, 2)
	if configPath != "" {
		dirs = append(dirs, filepath.Dir(configPath))
	}
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}

	seen := make(map[string]struct{})
	var files []string
	for _, dir := range dirs {
		for _, name := range envFileNames {
			candidate := filepath.Join(dir, name)
			if _, ok := seen[candidate]; ok {
				continue
			}
			seen[candidate] = struct{}{}
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				files = append(files, candidate)
			}
		}
	}
	return files
}
