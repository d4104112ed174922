package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultSourceBaseURL    = "https://api.alidocs.example.com"
	defaultPageSize         = 100
	defaultLocale           = "zh-CN"
	defaultAppVersion       = "docsync/0.1"
	defaultPrintStyle       = "default"
	defaultPollInterval     = "2s"
	defaultPollTimeout      = "60s"
	defaultMaxArtifactSize  = "200MB"
	defaultLedgerBackend    = LedgerBackendSQLite
	defaultMode             = ModeIncremental
	defaultPushWorkers      = 4
	defaultParseBatchSize   = 10
	defaultRateLimit        = 5.0
	defaultRateBurst        = 5
	defaultAlertWebhookURL  = "https://oapi.dingtalk.com/robot/send"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogRetentionDays = 30
	defaultConnectTimeout   = "10s"
	defaultDataTimeout      = "60s"
)

// Run modes.
const (
	ModeIncremental = "incremental"
	ModeFull        = "full"
)

// Ledger backends.
const (
	LedgerBackendSQLite = "sqlite"
	LedgerBackendJSON   = "json"
)

// defaultDirectDownloadExtensions lists the file types fetched as-is when a
// node cannot be exported by the render service.
var defaultDirectDownloadExtensions = []string{"docx", "xlsx", "pdf"}

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Source:       defaultSourceConfig(),
		Destinations: make(map[string]DestinationConfig),
		Export:       defaultExportConfig(),
		Ledger:       LedgerConfig{Backend: defaultLedgerBackend},
		Sync:         defaultSyncConfig(),
		Alert:        AlertConfig{WebhookURL: defaultAlertWebhookURL},
		Logging:      defaultLoggingConfig(),
		Network:      defaultNetworkConfig(),
	}
}

func defaultSourceConfig() SourceConfig {
	return SourceConfig{
		BaseURL:    defaultSourceBaseURL,
		PageSize:   defaultPageSize,
		Locale:     defaultLocale,
		AppVersion: defaultAppVersion,
		PrintStyle: defaultPrintStyle,
	}
}

func defaultExportConfig() ExportConfig {
	return ExportConfig{
		PollInterval:             defaultPollInterval,
		PollTimeout:              defaultPollTimeout,
		DirectDownloadExtensions: append([]string(nil), defaultDirectDownloadExtensions...),
		MaxArtifactSize:          defaultMaxArtifactSize,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		Mode:           defaultMode,
		PushWorkers:    defaultPushWorkers,
		ParseAfterPush: true,
		ParseBatchSize: defaultParseBatchSize,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
		LogRetentionDays: defaultLogRetentionDays,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
	}
}

// applyDestinationDefaults fills unset rate limiter fields on every
// destination. TOML decoding into a map does not start from a default
// value, so this runs after decode.
func applyDestinationDefaults(cfg *Config) {
	for name, d := range cfg.Destinations {
		if d.RateLimit == 0 {
			d.RateLimit = defaultRateLimit
		}

		if d.RateBurst == 0 {
			d.RateBurst = defaultRateBurst
		}

		cfg.Destinations[name] = d
	}
}
