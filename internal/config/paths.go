package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Application directory name used across all platforms.
const appName = "docsync"

// File names inside the config and data directories.
const (
	configFileName     = "config.toml"
	credentialFileName = "session.json"
	pidFileName        = "docsync.pid"
	logDirName         = "logs"
)

// dirKind describes one class of per-user directory: the XDG variable that
// overrides it on Linux and the fallback below the home directory.
type dirKind struct {
	xdgVar   string
	fallback []string
}

var (
	configDirKind = dirKind{xdgVar: "XDG_CONFIG_HOME", fallback: []string{".config"}}
	dataDirKind   = dirKind{xdgVar: "XDG_DATA_HOME", fallback: []string{".local", "share"}}
)

// resolve returns the docsync directory of this kind for goos. macOS keeps
// config and data together under Application Support.
func (k dirKind) resolve(goos, home string) string {
	if goos == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if goos == "linux" {
		if xdg := os.Getenv(k.xdgVar); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}

	return filepath.Join(append(append([]string{home}, k.fallback...), appName)...)
}

func userDir(k dirKind) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return k.resolve(runtime.GOOS, home)
}

// DefaultConfigDir returns the platform-specific directory for config files:
// $XDG_CONFIG_HOME/docsync or ~/.config/docsync on Linux.
func DefaultConfigDir() string {
	return userDir(configDirKind)
}

// DefaultDataDir returns the platform-specific directory for the ledger,
// session credential and logs: $XDG_DATA_HOME/docsync or
// ~/.local/share/docsync on Linux.
func DefaultDataDir() string {
	return userDir(dataDirKind)
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// CredentialPath returns the session credential file path, falling back to
// the data directory when unset.
func (c *Config) CredentialPath() string {
	if c.Source.CredentialFile != "" {
		return c.Source.CredentialFile
	}

	return filepath.Join(DefaultDataDir(), credentialFileName)
}

// LedgerDir returns the directory holding the sync ledger.
func (c *Config) LedgerDir() string {
	if c.Ledger.Dir != "" {
		return c.Ledger.Dir
	}

	return DefaultDataDir()
}

// PIDFilePath returns the lock file that prevents two concurrent runs
// against the same ledger.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.LedgerDir(), pidFileName)
}

// LogDir returns the directory for rotated log files. Empty when file
// logging is disabled.
func (c *Config) LogDir() string {
	if c.Logging.LogFile == "" {
		return ""
	}

	if c.Logging.LogFile == "auto" {
		return filepath.Join(DefaultDataDir(), logDirName)
	}

	return filepath.Dir(c.Logging.LogFile)
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
