package config

const (
	defaultConfigPath          = "~/.config/crease/config.toml"
	defaultBaseURL             = "http://localhost:3000"
	defaultAPITimeoutSeconds   = 120
	defaultUploadTimeout       = 600
	defaultPollIntervalSeconds = 5
	defaultMaxDurationSeconds  = 600
	defaultCleanupDelaySeconds = 5
	defaultStateDir            = "~/.local/share/crease"
	defaultLogDir              = "~/.local/share/crease/logs"
	defaultStatusBind          = "127.0.0.1:7592"
	defaultNtfyTimeoutSeconds  = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		API: API{
			BaseURL:              defaultBaseURL,
			TimeoutSeconds:       defaultAPITimeoutSeconds,
			UploadTimeoutSeconds: defaultUploadTimeout,
		},
		Upload: Upload{
			PollIntervalSeconds: defaultPollIntervalSeconds,
			MaxDurationSeconds:  defaultMaxDurationSeconds,
			CleanupDelaySeconds: defaultCleanupDelaySeconds,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Status: Status{
			APIBind: defaultStatusBind,
		},
		Lifecycle: Lifecycle{
			Signals: true,
			Netlink: true,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
