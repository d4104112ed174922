package source

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// NodeType classifies a node for the export pipeline.
type NodeType string

// Node types.
const (
	TypeFolder      NodeType = "folder"
	TypeDocument    NodeType = "document"
	TypeSpreadsheet NodeType = "spreadsheet"
	TypeOther       NodeType = "other"
)

// Node is one entry in the source hierarchy. ID is globally unique and
// stable across runs. UpdatedAt is reported by the service in epoch
// milliseconds.
type Node struct {
	ID          string
	Name        string
	Type        NodeType
	DocKey      string
	DentryKey   string
	HasChildren bool
	UpdatedAt   time.Time
	Extension   string
	ContentType string
}

// Exportable reports whether the node can be rendered by an export job:
// documents and spreadsheets with a content key.
func (n *Node) Exportable() bool {
	return (n.Type == TypeDocument || n.Type == TypeSpreadsheet) && n.DocKey != ""
}

// UpdatedMillis returns UpdatedAt in epoch milliseconds, the unit the
// ledger stores.
func (n *Node) UpdatedMillis() int64 {
	if n.UpdatedAt.IsZero() {
		return 0
	}

	return n.UpdatedAt.UnixMilli()
}

// Markers are the raw classification inputs reported for a node.
type Markers struct {
	Kind        string // "folder" or "file"
	Extension   string
	ContentType string
}

// classifyRule maps markers to a type when it matches. Rules are evaluated
// in order and the first match wins.
type classifyRule struct {
	name  string
	match func(m Markers) bool
	typ   NodeType
}

// contentTypeAllowList is the strict set of content types that identify
// exportable nodes. Anything else falls through to TypeOther.
var contentTypeAllowList = map[string]NodeType{
	"alidoc":   TypeDocument,
	"alisheet": TypeSpreadsheet,
}

var classifyRules = []classifyRule{
	{
		name:  "folder marker",
		match: func(m Markers) bool { return strings.EqualFold(m.Kind, "folder") },
		typ:   TypeFolder,
	},
	{
		name:  "document extension",
		match: func(m Markers) bool { return strings.EqualFold(m.Extension, "adoc") },
		typ:   TypeDocument,
	},
	{
		name:  "spreadsheet extension",
		match: func(m Markers) bool { return strings.EqualFold(m.Extension, "axls") },
		typ:   TypeSpreadsheet,
	},
	{
		name: "document content type",
		match: func(m Markers) bool {
			return contentTypeAllowList[strings.ToLower(m.ContentType)] == TypeDocument
		},
		typ: TypeDocument,
	},
	{
		name: "spreadsheet content type",
		match: func(m Markers) bool {
			return contentTypeAllowList[strings.ToLower(m.ContentType)] == TypeSpreadsheet
		},
		typ: TypeSpreadsheet,
	},
}

// Classify derives a node type from its markers. It is pure: the same
// markers always produce the same type.
func Classify(m Markers) NodeType {
	t, _ := classify(m)

	return t
}

// classify returns the type and the name of the rule that produced it.
func classify(m Markers) (NodeType, string) {
	for _, r := range classifyRules {
		if r.match(m) {
			return r.typ, r.name
		}
	}

	return TypeOther, "default"
}

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// maxNameLen caps sanitized names, in runes.
const maxNameLen = 200

// SanitizeName normalizes a display name to NFC and makes it safe to use as
// a file name. Empty names become "untitled".
func SanitizeName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")

	if r := []rune(name); len(r) > maxNameLen {
		name = string(r[:maxNameLen])
	}

	if name == "" {
		return "untitled"
	}

	return name
}

// StripExtension removes a trailing ".ext" from a display name when ext
// matches it, case-insensitively.
func StripExtension(name, ext string) string {
	if ext == "" {
		return name
	}

	suffix := "." + ext
	if len(name) > len(suffix) && strings.EqualFold(name[len(name)-len(suffix):], suffix) {
		return name[:len(name)-len(suffix)]
	}

	return name
}
