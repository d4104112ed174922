package config

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseSize converts a size such as max_artifact_size ("50MB", "64MiB",
// "1048576") to bytes. SI and IEC suffixes are both accepted. Empty and
// "0" mean no limit.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n > 1<<62 {
		return 0, fmt.Errorf("invalid size %q: too large", s)
	}

	return int64(n), nil
}
