package source

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   Markers
		want NodeType
	}{
		{"folder", Markers{Kind: "folder"}, TypeFolder},
		{"folder wins over extension", Markers{Kind: "folder", Extension: "adoc"}, TypeFolder},
		{"document extension", Markers{Kind: "file", Extension: "adoc"}, TypeDocument},
		{"document extension upper", Markers{Kind: "file", Extension: "ADOC"}, TypeDocument},
		{"spreadsheet extension", Markers{Kind: "file", Extension: "axls"}, TypeSpreadsheet},
		{"document content type", Markers{Kind: "file", ContentType: "alidoc"}, TypeDocument},
		{"spreadsheet content type", Markers{Kind: "file", ContentType: "alisheet"}, TypeSpreadsheet},
		{"extension beats content type", Markers{Kind: "file", Extension: "axls", ContentType: "alidoc"}, TypeSpreadsheet},
		{"unlisted content type", Markers{Kind: "file", ContentType: "alimind"}, TypeOther},
		{"uploaded pdf", Markers{Kind: "file", Extension: "pdf"}, TypeOther},
		{"no markers", Markers{}, TypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in))
			assert.Equal(t, tt.want, Classify(tt.in), "classification is deterministic")
		})
	}
}

func TestNodeIDFromRef(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abc123", "abc123"},
		{"  abc123  ", "abc123"},
		{"https://alidocs.example.com/i/nodes/NODE1", "NODE1"},
		{"https://alidocs.example.com/i/nodes/NODE1/", "NODE1"},
		{"https://alidocs.example.com/i/nodes/NODE1?utm=x#frag", "NODE1"},
		{"i/nodes/NODE2?x=1", "NODE2"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NodeIDFromRef(tt.in))
		})
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "untitled", SanitizeName(""))
	assert.Equal(t, "untitled", SanitizeName("  "))
	assert.Equal(t, "a_b_c_d", SanitizeName("a/b:c*d"))
	assert.Equal(t, "report", SanitizeName(" report. "))
	assert.Equal(t, "\u00e9t\u00e9", SanitizeName("e\u0301te\u0301"), "names are NFC-normalized")
	assert.Len(t, []rune(SanitizeName(strings.Repeat("x", 300))), maxNameLen)
}

func TestStripExtension(t *testing.T) {
	assert.Equal(t, "Plan", StripExtension("Plan.adoc", "adoc"))
	assert.Equal(t, "Plan", StripExtension("Plan.ADOC", "adoc"))
	assert.Equal(t, "Plan.adoc", StripExtension("Plan.adoc", "axls"))
	assert.Equal(t, "Plan", StripExtension("Plan", ""))
	assert.Equal(t, ".adoc", StripExtension(".adoc", "adoc"))
}

func TestNode_ExportableAndMillis(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_123)

	doc := Node{Type: TypeDocument, DocKey: "k", UpdatedAt: ts}
	assert.True(t, doc.Exportable())
	assert.Equal(t, int64(1_700_000_000_123), doc.UpdatedMillis())

	assert.False(t, (&Node{Type: TypeDocument}).Exportable(), "no content key")
	assert.False(t, (&Node{Type: TypeOther, DocKey: "k"}).Exportable())
	assert.Equal(t, int64(0), (&Node{}).UpdatedMillis())
}
