package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/docsync/internal/source"
	"github.com/tonimelisma/docsync/internal/sync"
)

func sampleReport() *sync.Report {
	return &sync.Report{
		RunID:      "run-1",
		Mode:       sync.ModeFull,
		StartedAt:  time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC),
		Duration:   1500 * time.Millisecond,
		Discovered: 5,
		Candidates: 4,
		Succeeded:  2,
		Failed:     1,
		Skipped:    1,
		Created:    1,
		Updated:    1,
		Parsed:     2,
		ByType: map[source.NodeType]int{
			source.TypeDocument:    1,
			source.TypeSpreadsheet: 1,
		},
		Failures: []sync.NodeFailure{
			{NodeID: "n3", Name: "plan.adoc", Stage: sync.StageExport, Err: errors.New("render failed")},
		},
	}
}

func TestToReportJSON(t *testing.T) {
	out := toReportJSON(sampleReport())

	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, "full", out.Mode)
	assert.Equal(t, int64(1500), out.DurationMS)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, map[string]int{"document": 1, "spreadsheet": 1}, out.ByType)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, failureJSON{NodeID: "n3", Name: "plan.adoc", Stage: "export", Error: "render failed"}, out.Failures[0])
}

func TestPrintReportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReportJSON(&buf, sampleReport()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, "run-1", decoded["run_id"])
	assert.InDelta(t, 2, decoded["parse_requested"], 0)
	assert.NotContains(t, decoded, "aborted")

	failures, ok := decoded["failures"].([]any)
	require.True(t, ok)
	assert.Len(t, failures, 1)
}

func TestPrintReportJSON_NoFailuresOmitted(t *testing.T) {
	r := sampleReport()
	r.Failures = nil
	r.Aborted = "session expired"

	var buf bytes.Buffer
	require.NoError(t, printReportJSON(&buf, r))

	assert.NotContains(t, buf.String(), `"failures"`)
	assert.Contains(t, buf.String(), `"aborted": "session expired"`)
}
