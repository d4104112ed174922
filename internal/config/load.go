package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are treated as fatal errors with "did you
// mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	applyDestinationDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
// Roots given through the environment or CLI replace the configured roots
// and are routed to the default destination.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.CredentialFile != "" {
		cfg.Source.CredentialFile = env.CredentialFile
	}

	if len(env.Roots) > 0 {
		cfg.Roots = rootsFromURLs(env.Roots)
	}

	if env.MinUpdated != nil {
		cfg.Sync.MinUpdated = *env.MinUpdated
	}

	if len(cli.Roots) > 0 {
		cfg.Roots = rootsFromURLs(cli.Roots)
	}

	if cli.Mode != nil {
		cfg.Sync.Mode = *cli.Mode
	}

	if cli.MinUpdated != nil {
		cfg.Sync.MinUpdated = *cli.MinUpdated
	}

	cfg.Source.CredentialFile = expandTilde(cfg.Source.CredentialFile)
	cfg.Ledger.Dir = expandTilde(cfg.Ledger.Dir)
	cfg.Logging.LogFile = expandTilde(cfg.Logging.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func rootsFromURLs(urls []string) []RootConfig {
	roots := make([]RootConfig, 0, len(urls))
	for _, u := range urls {
		roots = append(roots, RootConfig{URL: u})
	}

	return roots
}
