package export

import (
	"mime"
	"path"
	"strings"

	"github.com/tonimelisma/docsync/internal/source"
)

// Artifact is a rendered (or directly downloaded) file ready to push to a
// destination index.
type Artifact struct {
	Kind        Kind
	Format      string
	NodeID      string
	URL         string
	FileName    string
	ContentType string
	Data        []byte
}

func newArtifact(node *source.Node, kind Kind, format, resultURL string, data []byte) *Artifact {
	return &Artifact{
		Kind:        kind,
		Format:      format,
		NodeID:      node.ID,
		URL:         resultURL,
		FileName:    artifactName(node, format),
		ContentType: contentTypeFor(format),
		Data:        data,
	}
}

// NewDirectArtifact wraps the original bytes of a node that needs no render,
// keeping its own extension.
func NewDirectArtifact(node *source.Node, data []byte) *Artifact {
	format := strings.ToLower(node.Extension)
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(path.Ext(node.Name)), ".")
	}

	return &Artifact{
		Format:      format,
		NodeID:      node.ID,
		FileName:    artifactName(node, format),
		ContentType: contentTypeFor(format),
		Data:        data,
	}
}

// artifactName is the node's title with the artifact format as extension.
func artifactName(node *source.Node, format string) string {
	base := source.StripExtension(exportTitle(node), format)
	if format == "" {
		return base
	}

	return base + "." + format
}

func contentTypeFor(format string) string {
	switch format {
	case formatPDF:
		return "application/pdf"
	case formatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}

	if t := mime.TypeByExtension("." + format); t != "" {
		return t
	}

	return "application/octet-stream"
}
