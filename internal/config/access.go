package config

import (
	"fmt"
	"os"
	"sort"
	"time"
)

// PollInterval returns the export-job polling interval.
func (c *Config) PollInterval() time.Duration {
	return durationOr(c.Export.PollInterval, defaultPollInterval)
}

// PollTimeout returns the maximum time an export job may stay unfinished.
func (c *Config) PollTimeout() time.Duration {
	return durationOr(c.Export.PollTimeout, defaultPollTimeout)
}

// ConnectTimeout returns the TCP dial timeout for outbound HTTP clients.
func (c *Config) ConnectTimeout() time.Duration {
	return durationOr(c.Network.ConnectTimeout, defaultConnectTimeout)
}

// DataTimeout returns the overall per-request timeout for outbound HTTP clients.
func (c *Config) DataTimeout() time.Duration {
	return durationOr(c.Network.DataTimeout, defaultDataTimeout)
}

// MaxArtifactBytes returns the artifact size cap in bytes; 0 means no cap.
func (c *Config) MaxArtifactBytes() int64 {
	n, err := ParseSize(c.Export.MaxArtifactSize)
	if err != nil {
		return 0
	}

	return n
}

// DestinationFor returns the destination name and settings that a root is
// pushed to. A root without an explicit destination uses
// sync.default_destination, or the only configured destination.
func (c *Config) DestinationFor(root RootConfig) (string, DestinationConfig, error) {
	name := root.Destination
	if name == "" {
		name = c.Sync.DefaultDestination
	}

	if name == "" && len(c.Destinations) == 1 {
		for only := range c.Destinations {
			name = only
		}
	}

	if name == "" {
		return "", DestinationConfig{}, fmt.Errorf("root %q: no destination set and no default_destination configured", root.URL)
	}

	dest, ok := c.Destinations[name]
	if !ok {
		return "", DestinationConfig{}, fmt.Errorf("root %q: unknown destination %q", root.URL, name)
	}

	return name, dest, nil
}

// DestinationNames returns the configured destination names, sorted.
func (c *Config) DestinationNames() []string {
	names := make([]string, 0, len(c.Destinations))
	for name := range c.Destinations {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// APIToken returns the destination's API token. token_env takes precedence
// over an inline token when the variable is set.
func (d DestinationConfig) APIToken() string {
	if d.TokenEnv != "" {
		if v := os.Getenv(d.TokenEnv); v != "" {
			return v
		}
	}

	return d.Token
}

// durationOr parses s, falling back to the default literal. Validate has
// already rejected malformed values by the time callers get here.
func durationOr(s, fallback string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}
