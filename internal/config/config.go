// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for docsync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

// Config is the top-level configuration structure parsed from a TOML file.
// Roots are an array of tables ([[root]]); destinations are named tables
// ([destination.<name>]) referenced from roots by name.
type Config struct {
	Source       SourceConfig                 `toml:"source"`
	Roots        []RootConfig                 `toml:"root"`
	Destinations map[string]DestinationConfig `toml:"destination"`
	Export       ExportConfig                 `toml:"export"`
	Ledger       LedgerConfig                 `toml:"ledger"`
	Sync         SyncConfig                   `toml:"sync"`
	Alert        AlertConfig                  `toml:"alert"`
	Logging      LoggingConfig                `toml:"logging"`
	Network      NetworkConfig                `toml:"network"`
}

// SourceConfig describes the source knowledge-base service and the render
// service used for document and spreadsheet export.
type SourceConfig struct {
	BaseURL        string `toml:"base_url"`
	RenderURL      string `toml:"render_url"`
	CredentialFile string `toml:"credential_file"`
	PageSize       int    `toml:"page_size"`
	Locale         string `toml:"locale"`
	AppVersion     string `toml:"app_version"`
	PrintStyle     string `toml:"print_style"`
}

// RootConfig is one configured sync root: a folder URL (or bare node id)
// in the source service and the destination it is pushed to. An empty
// Destination falls back to sync.default_destination.
type RootConfig struct {
	URL         string `toml:"url"`
	Destination string `toml:"destination"`
}

// DestinationConfig is one destination indexing service and dataset.
// TokenEnv names an environment variable holding the API token, so tokens
// need not live in the config file.
type DestinationConfig struct {
	BaseURL   string  `toml:"base_url"`
	Token     string  `toml:"token"`
	TokenEnv  string  `toml:"token_env"`
	DatasetID string  `toml:"dataset_id"`
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// ExportConfig controls export-job polling and which non-exportable file
// types are fetched directly.
type ExportConfig struct {
	PollInterval             string   `toml:"poll_interval"`
	PollTimeout              string   `toml:"poll_timeout"`
	DirectDownloadExtensions []string `toml:"direct_download_extensions"`
	MaxArtifactSize          string   `toml:"max_artifact_size"`
}

// LedgerConfig selects the sync ledger storage backend.
type LedgerConfig struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
}

// SyncConfig controls run behavior. MinUpdated is a unix timestamp in
// seconds; nodes last updated before it are never synced.
type SyncConfig struct {
	Mode               string `toml:"mode"`
	MinUpdated         int64  `toml:"min_updated"`
	PushWorkers        int    `toml:"push_workers"`
	ParseAfterPush     bool   `toml:"parse_after_push"`
	ParseBatchSize     int    `toml:"parse_batch_size"`
	DefaultDestination string `toml:"default_destination"`
}

// AlertConfig configures the operator alert channel (a signed chat robot
// webhook). An empty AccessToken disables alerting.
type AlertConfig struct {
	WebhookURL     string   `toml:"webhook_url"`
	AccessToken    string   `toml:"access_token"`
	Secret         string   `toml:"secret"`
	Mentions       []string `toml:"mentions"`
	MentionUserIDs []string `toml:"mention_user_ids"`
	TriggerURL     string   `toml:"trigger_url"`
	NotifySummary  bool     `toml:"notify_summary"`
}

// LoggingConfig controls log output behavior: level, format, and retention.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string   // --config flag (empty = use default)
	Roots      []string // --root flags (empty = use configured roots)
	Mode       *string  // --mode flag
	MinUpdated *int64   // --min-ts flag
}
