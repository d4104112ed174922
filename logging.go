package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/tonimelisma/docsync/internal/config"
)

const (
	logFilePrefix      = "docsync-"
	logFileSuffix      = ".log"
	logFilePermissions = 0o600
	logDirPermissions  = 0o700
)

// levelFromFlags maps CLI flags to a level. ok is false when no flag is set.
func levelFromFlags(flags CLIFlags) (slog.Level, bool) {
	switch {
	case flags.Debug:
		return slog.LevelDebug, true
	case flags.Verbose:
		return slog.LevelInfo, true
	case flags.Quiet:
		return slog.LevelError, true
	}

	return 0, false
}

// bootstrapLogger is used while the config itself is loading. It logs at
// Warn unless a flag says otherwise.
func bootstrapLogger(flags CLIFlags) *slog.Logger {
	level, ok := levelFromFlags(flags)
	if !ok {
		level = slog.LevelWarn
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildLogger creates the run logger. Config-file log level provides the
// baseline; --verbose, --debug and --quiet override it because CLI flags
// always win. With file logging enabled, output is also appended to a
// per-day file and files older than the retention window are removed. The
// returned func closes the log file.
func buildLogger(cfg *config.Config, flags CLIFlags) (*slog.Logger, func(), error) {
	level := slog.LevelWarn

	if cfg != nil {
		switch strings.ToLower(cfg.Logging.LogLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if l, ok := levelFromFlags(flags); ok {
		level = l
	}

	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
		format            = ""
	)

	if cfg != nil {
		format = cfg.Logging.LogFormat

		if dir := cfg.LogDir(); dir != "" {
			f, err := openDailyLog(dir, time.Now())
			if err != nil {
				return nil, nil, err
			}

			removeOldLogs(dir, cfg.Logging.LogRetentionDays, time.Now())

			w = io.MultiWriter(os.Stderr, f)
			closeFn = func() { f.Close() }
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(format, os.Stderr.Fd()) {
		return slog.New(slog.NewJSONHandler(w, opts)), closeFn, nil
	}

	return slog.New(slog.NewTextHandler(w, opts)), closeFn, nil
}

// useJSONLogs resolves the log format. "auto" picks text for an interactive
// terminal and JSON otherwise.
func useJSONLogs(format string, fd uintptr) bool {
	switch strings.ToLower(format) {
	case "json":
		return true
	case "text":
		return false
	default:
		return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
	}
}

func dailyLogName(now time.Time) string {
	return logFilePrefix + now.Format(time.DateOnly) + logFileSuffix
}

func openDailyLog(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, logDirPermissions); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	path := filepath.Join(dir, dailyLogName(now))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	return f, nil
}

// removeOldLogs deletes daily log files whose date is more than days before
// now. days <= 0 keeps everything. Failures are ignored; the next run
// retries.
func removeOldLogs(dir string, days int, now time.Time) int {
	if days <= 0 {
		return 0
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	cutoff := now.AddDate(0, 0, -days)
	removed := 0

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, logFilePrefix) || !strings.HasSuffix(name, logFileSuffix) {
			continue
		}

		day, err := time.ParseInLocation(time.DateOnly,
			strings.TrimSuffix(strings.TrimPrefix(name, logFilePrefix), logFileSuffix), now.Location())
		if err != nil {
			continue
		}

		if day.Before(cutoff) && os.Remove(filepath.Join(dir, name)) == nil {
			removed++
		}
	}

	return removed
}
