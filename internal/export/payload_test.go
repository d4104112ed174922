package export

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/docsync/internal/source"
)

func TestPrepareWorkbook(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
		"calcAutoEvaluate": false,
		"merges": [[0, 0, 1, 1]],
		"sheets": [
			{"name": "S1", "charts": [{"id": "c1"}]},
			{"name": "S2", "comments": null}
		]
	}`)

	out, err := prepareWorkbook(raw)
	require.NoError(t, err)

	var wb map[string]any
	require.NoError(t, json.Unmarshal(out, &wb))

	assert.Equal(t, true, wb["calcAutoEvaluate"])
	assert.Equal(t, []any{[]any{0.0, 0.0, 1.0, 1.0}}, wb["merges"], "existing sections are kept")

	for _, key := range sheetPlaceholders {
		assert.Contains(t, wb, key)
	}

	sheets, ok := wb["sheets"].([]any)
	require.True(t, ok)
	require.Len(t, sheets, 2)

	s1 := sheets[0].(map[string]any)
	assert.Len(t, s1["charts"], 1)
	assert.Equal(t, []any{}, s1["formulas"])

	s2 := sheets[1].(map[string]any)
	assert.Equal(t, []any{}, s2["comments"], "null sections become empty")

	for _, key := range sheetPlaceholders {
		assert.Contains(t, s2, key)
	}
}

func TestPrepareWorkbook_Invalid(t *testing.T) {
	t.Parallel()

	_, err := prepareWorkbook(json.RawMessage(`[1,2,3]`))
	assert.Error(t, err)

	_, err = prepareWorkbook(json.RawMessage(`null`))
	assert.Error(t, err)

	_, err = prepareWorkbook(json.RawMessage(`{not json`))
	assert.Error(t, err)
}

func TestExportTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		node source.Node
		want string
	}{
		{"strips matching extension", source.Node{Name: "Plan.adoc", Extension: "adoc"}, "Plan"},
		{"case insensitive", source.Node{Name: "Plan.ADOC", Extension: "adoc"}, "Plan"},
		{"keeps other suffix", source.Node{Name: "v1.2 notes", Extension: "adoc"}, "v1.2 notes"},
		{"no extension", source.Node{Name: "Budget"}, "Budget"},
		{"nfc", source.Node{Name: "e\u0301te\u0301.axls", Extension: "axls"}, "\u00e9t\u00e9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, exportTitle(&tt.node))
		})
	}
}

func TestNewDirectArtifact(t *testing.T) {
	t.Parallel()

	node := &source.Node{ID: "f1", Name: "Report.PDF", Extension: "pdf", Type: source.TypeOther}
	art := NewDirectArtifact(node, []byte("%PDF"))

	assert.Equal(t, "pdf", art.Format)
	assert.Equal(t, "Report.pdf", art.FileName)
	assert.Equal(t, "application/pdf", art.ContentType)
	assert.Equal(t, "f1", art.NodeID)
	assert.Empty(t, art.Kind)

	noExt := NewDirectArtifact(&source.Node{ID: "f2", Name: "sheet.xlsx"}, nil)
	assert.Equal(t, "xlsx", noExt.Format)
	assert.Equal(t, "sheet.xlsx", noExt.FileName)
}

func TestKindFor(t *testing.T) {
	t.Parallel()

	k, ok := KindFor(source.TypeDocument)
	assert.True(t, ok)
	assert.Equal(t, KindDocument, k)

	k, ok = KindFor(source.TypeSpreadsheet)
	assert.True(t, ok)
	assert.Equal(t, KindSpreadsheet, k)

	_, ok = KindFor(source.TypeFolder)
	assert.False(t, ok)
}
