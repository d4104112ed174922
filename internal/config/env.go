package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Environment variable names for overrides.
const (
	EnvConfig         = "DOCSYNC_CONFIG"
	EnvRoots          = "DOCSYNC_ROOTS"
	EnvMinUpdated     = "DOCSYNC_MIN_TS"
	EnvCredentialFile = "DOCSYNC_CREDENTIAL_FILE"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath     string   // DOCSYNC_CONFIG: override config file path
	Roots          []string // DOCSYNC_ROOTS: root URLs separated by comma, semicolon, or newline
	MinUpdated     *int64   // DOCSYNC_MIN_TS: unix seconds floor
	CredentialFile string   // DOCSYNC_CREDENTIAL_FILE: session credential path
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// An unparsable DOCSYNC_MIN_TS is logged and ignored.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	env := EnvOverrides{
		ConfigPath:     os.Getenv(EnvConfig),
		Roots:          SplitRoots(os.Getenv(EnvRoots)),
		CredentialFile: os.Getenv(EnvCredentialFile),
	}

	if raw := strings.TrimSpace(os.Getenv(EnvMinUpdated)); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			logger.Warn("ignoring invalid environment override",
				slog.String("var", EnvMinUpdated),
				slog.String("value", raw),
			)
		} else {
			env.MinUpdated = &ts
		}
	}

	return env
}

// SplitRoots splits a list of root URLs separated by commas, semicolons,
// or newlines. Blank entries are dropped.
func SplitRoots(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r'
	})

	var roots []string

	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			roots = append(roots, f)
		}
	}

	return roots
}
