package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minPageSize        = 1
	maxPageSize        = 500
	minPushWorkers     = 1
	maxPushWorkers     = 32
	minParseBatch      = 1
	maxParseBatch      = 100
	minLogRetention    = 1
	minPollInterval    = 100 * time.Millisecond
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
	maxRateLimitPerSec = 1000
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateSource(&cfg.Source)...)
	errs = append(errs, validateRoots(cfg)...)
	errs = append(errs, validateDestinations(cfg.Destinations)...)
	errs = append(errs, validateExport(&cfg.Export)...)
	errs = append(errs, validateLedger(&cfg.Ledger)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateAlert(&cfg.Alert)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateSource(s *SourceConfig) []error {
	var errs []error

	if err := validateHTTPURL("source.base_url", s.BaseURL); err != nil {
		errs = append(errs, err)
	}

	if s.RenderURL != "" {
		if err := validateHTTPURL("source.render_url", s.RenderURL); err != nil {
			errs = append(errs, err)
		}
	}

	if s.PageSize < minPageSize || s.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("source.page_size: must be between %d and %d, got %d",
			minPageSize, maxPageSize, s.PageSize))
	}

	return errs
}

func validateRoots(cfg *Config) []error {
	var errs []error

	for i, r := range cfg.Roots {
		if strings.TrimSpace(r.URL) == "" {
			errs = append(errs, fmt.Errorf("root[%d].url: must not be empty", i))

			continue
		}

		// Destination lookups only fail once destinations are configured;
		// a bare config with roots but no destinations is reported below.
		if len(cfg.Destinations) == 0 {
			continue
		}

		if _, _, err := cfg.DestinationFor(r); err != nil {
			errs = append(errs, err)
		}
	}

	if len(cfg.Roots) > 0 && len(cfg.Destinations) == 0 {
		errs = append(errs, errors.New("destination: at least one destination is required when roots are configured"))
	}

	return errs
}

func validateDestinations(dests map[string]DestinationConfig) []error {
	var errs []error

	for name, d := range dests {
		if err := validateHTTPURL(fmt.Sprintf("destination.%s.base_url", name), d.BaseURL); err != nil {
			errs = append(errs, err)
		}

		if d.DatasetID == "" {
			errs = append(errs, fmt.Errorf("destination.%s.dataset_id: must not be empty", name))
		}

		if d.Token != "" && d.TokenEnv != "" {
			errs = append(errs, fmt.Errorf("destination.%s: token and token_env are mutually exclusive", name))
		}

		if d.RateLimit < 0 || d.RateLimit > maxRateLimitPerSec {
			errs = append(errs, fmt.Errorf("destination.%s.rate_limit: must be between 0 and %d, got %g",
				name, maxRateLimitPerSec, d.RateLimit))
		}

		if d.RateBurst < 0 {
			errs = append(errs, fmt.Errorf("destination.%s.rate_burst: must be >= 0, got %d", name, d.RateBurst))
		}
	}

	return errs
}

func validateExport(e *ExportConfig) []error {
	var errs []error

	poll, err := time.ParseDuration(e.PollInterval)
	if err != nil {
		errs = append(errs, fmt.Errorf("export.poll_interval: invalid duration %q: %w", e.PollInterval, err))
	} else if poll < minPollInterval {
		errs = append(errs, fmt.Errorf("export.poll_interval: must be >= %s, got %s", minPollInterval, poll))
	}

	timeout, err := time.ParseDuration(e.PollTimeout)
	if err != nil {
		errs = append(errs, fmt.Errorf("export.poll_timeout: invalid duration %q: %w", e.PollTimeout, err))
	} else if poll > 0 && timeout < poll {
		errs = append(errs, fmt.Errorf("export.poll_timeout: must be >= poll_interval (%s), got %s", poll, timeout))
	}

	for _, ext := range e.DirectDownloadExtensions {
		if ext == "" || strings.ContainsAny(ext, "./") {
			errs = append(errs, fmt.Errorf("export.direct_download_extensions: %q must be a bare extension like \"pdf\"", ext))
		}
	}

	if _, err := ParseSize(e.MaxArtifactSize); err != nil {
		errs = append(errs, fmt.Errorf("export.max_artifact_size: %w", err))
	}

	return errs
}

func validateLedger(l *LedgerConfig) []error {
	switch l.Backend {
	case LedgerBackendSQLite, LedgerBackendJSON:
		return nil
	default:
		return []error{fmt.Errorf("ledger.backend: must be one of %s, %s; got %q",
			LedgerBackendSQLite, LedgerBackendJSON, l.Backend)}
	}
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.Mode != ModeIncremental && s.Mode != ModeFull {
		errs = append(errs, fmt.Errorf("sync.mode: must be %s or %s, got %q", ModeIncremental, ModeFull, s.Mode))
	}

	if s.MinUpdated < 0 {
		errs = append(errs, fmt.Errorf("sync.min_updated: must be >= 0, got %d", s.MinUpdated))
	}

	if s.PushWorkers < minPushWorkers || s.PushWorkers > maxPushWorkers {
		errs = append(errs, fmt.Errorf("sync.push_workers: must be between %d and %d, got %d",
			minPushWorkers, maxPushWorkers, s.PushWorkers))
	}

	if s.ParseBatchSize < minParseBatch || s.ParseBatchSize > maxParseBatch {
		errs = append(errs, fmt.Errorf("sync.parse_batch_size: must be between %d and %d, got %d",
			minParseBatch, maxParseBatch, s.ParseBatchSize))
	}

	return errs
}

func validateAlert(a *AlertConfig) []error {
	var errs []error

	if a.AccessToken == "" {
		return nil
	}

	if err := validateHTTPURL("alert.webhook_url", a.WebhookURL); err != nil {
		errs = append(errs, err)
	}

	if a.TriggerURL != "" {
		if err := validateHTTPURL("alert.trigger_url", a.TriggerURL); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("logging.log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, raw)
	}

	return nil
}
