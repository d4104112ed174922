package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownSection(t *testing.T) {
	path := writeTestConfig(t, `
[complete_nonsense]
value = 1
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config section")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownSection_Suggestion(t *testing.T) {
	path := writeTestConfig(t, "[sorce]\nbase_url = \"https://x.example.com\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"source"`)
}

func TestLoad_UnknownKey_InSection(t *testing.T) {
	path := writeTestConfig(t, "[sync]\npush_worker = 4\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.Contains(t, err.Error(), "push_workers")
}

func TestLoad_UnknownKey_InDestination(t *testing.T) {
	path := writeTestConfig(t, `
[destination.kb]
base_url = "https://rag.example.com"
dataset_id = "ds1"
datasetid = "oops"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[destination]")
	assert.Contains(t, err.Error(), "dataset_id")
}

func TestLoad_UnknownKey_InRoot(t *testing.T) {
	path := writeTestConfig(t, `
[destination.kb]
base_url = "https://rag.example.com"
dataset_id = "ds1"

[[root]]
url = "https://alidocs.example.com/i/nodes/abc"
destinaton = "kb"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"destination"`)
}

func TestLevenshtein(t *testing.T) {
	cases := map[[2]string]int{
		{"", ""}:                        0,
		{"ledger", ""}:                  6,
		{"", "sync"}:                    4,
		{"alert", "alert"}:              0,
		{"token", "tokne"}:              2,
		{"push_worker", "push_workers"}: 1,
		{"sorce", "source"}:             1,
		{"kitten", "sitting"}:           3,
		{"completely_different", "xyz"}: 19,
	}

	for pair, want := range cases {
		assert.Equal(t, want, levenshtein(pair[0], pair[1]), "%q vs %q", pair[0], pair[1])
	}
}

func TestClosestMatch(t *testing.T) {
	known := []string{"max_artifact_size", "poll_interval", "poll_timeout"}

	assert.Equal(t, "poll_timeout", closestMatch("pol_timeout", known))
	assert.Equal(t, "poll_interval", closestMatch("poll_intervl", known))
	assert.Empty(t, closestMatch("completely_unrelated", known))
}

func TestLoad_UnknownKey_MessageFormat(t *testing.T) {
	path := writeTestConfig(t, "[ledger]\nbakend = \"json\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "bakend" in [ledger], did you mean "backend"?`)
}
