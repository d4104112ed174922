package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownSectionKeys maps each config section to its valid keys. [[root]]
// entries and [destination.<name>] tables are matched by section name.
var knownSectionKeys = map[string][]string{
	"source": {
		"base_url", "render_url", "credential_file", "page_size", "locale",
		"app_version", "print_style",
	},
	"root":        {"url", "destination"},
	"destination": {"base_url", "token", "token_env", "dataset_id", "rate_limit", "rate_burst"},
	"export": {
		"poll_interval", "poll_timeout", "direct_download_extensions", "max_artifact_size",
	},
	"ledger": {"backend", "dir"},
	"sync": {
		"mode", "min_updated", "push_workers", "parse_after_push", "parse_batch_size",
		"default_destination",
	},
	"alert": {
		"webhook_url", "access_token", "secret", "mentions", "mention_user_ids",
		"trigger_url", "notify_summary",
	},
	"logging": {"log_level", "log_file", "log_format", "log_retention_days"},
	"network": {"connect_timeout", "data_timeout", "user_agent"},
}

// knownSections is sorted so ties in edit distance resolve the same way
// every time.
var knownSections = slices.Sorted(maps.Keys(knownSectionKeys))

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		if err := buildKeyError(key); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an unknown key, suggesting
// the closest known section or field name.
func buildKeyError(key toml.Key) error {
	section := key[0]

	known, ok := knownSectionKeys[section]
	if !ok {
		if suggestion := closestMatch(section, knownSections); suggestion != "" {
			return fmt.Errorf("unknown config section %q, did you mean %q?", section, suggestion)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	// [destination.<name>] nests one level deeper than the other sections.
	fieldIdx := 1
	if section == "destination" {
		fieldIdx = 2
	}

	if len(key) <= fieldIdx {
		return nil
	}

	field := key[fieldIdx]
	if slices.Contains(known, field) {
		return nil
	}

	sorted := slices.Sorted(slices.Values(known))
	if suggestion := closestMatch(field, sorted); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s], did you mean %q?", field, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", field, section)
}

// closestMatch returns the known key nearest to unknown, or "" when none
// is within maxLevenshteinDistance edits.
func closestMatch(unknown string, known []string) string {
	best, bestDist := "", maxLevenshteinDistance+1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			best, bestDist = k, d
		}
	}

	return best
}

// levenshtein is the byte-wise edit distance between a and b.
func levenshtein(a, b string) int {
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}

	for i := 1; i <= len(a); i++ {
		diag := row[0]
		row[0] = i

		for j := 1; j <= len(b); j++ {
			subst := diag
			if a[i-1] != b[j-1] {
				subst++
			}

			diag = row[j]
			row[j] = min(row[j]+1, row[j-1]+1, subst)
		}
	}

	return row[len(b)]
}
