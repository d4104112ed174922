package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/docsync/internal/export"
	"github.com/tonimelisma/docsync/internal/source"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <url-or-id>",
		Short: "Show how a node is classified",
		Long: `Resolve a node URL or bare node id against the source service and print
its classification: type, content keys, update time, and whether a sync
run would export it.`,
		Args: cobra.ExactArgs(1),
		RunE: runResolve,
	}
}

// resolveOutput is the JSON form of a resolved node.
type resolveOutput struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	DocKey      string `json:"doc_key,omitempty"`
	DentryKey   string `json:"dentry_key,omitempty"`
	HasChildren bool   `json:"has_children"`
	UpdatedAtMS int64  `json:"updated_at_ms"`
	Extension   string `json:"extension,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Exportable  bool   `json:"exportable"`
	ExportKind  string `json:"export_kind,omitempty"`
}

func toResolveOutput(n *source.Node) resolveOutput {
	out := resolveOutput{
		ID:          n.ID,
		Name:        n.Name,
		Type:        string(n.Type),
		DocKey:      n.DocKey,
		DentryKey:   n.DentryKey,
		HasChildren: n.HasChildren,
		UpdatedAtMS: n.UpdatedMillis(),
		Extension:   n.Extension,
		ContentType: n.ContentType,
		Exportable:  n.Exportable(),
	}

	if kind, ok := export.KindFor(n.Type); ok && n.Exportable() {
		out.ExportKind = string(kind)
	}

	return out
}

func runResolve(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	_, client := newSourceClient(cc)

	node, err := client.Resolve(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := toResolveOutput(node)

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	printResolve(os.Stdout, out)

	return nil
}

func printResolve(w io.Writer, r resolveOutput) {
	fmt.Fprintf(w, "ID:           %s\n", r.ID)
	fmt.Fprintf(w, "Name:         %s\n", r.Name)
	fmt.Fprintf(w, "Type:         %s\n", r.Type)

	if r.Extension != "" || r.ContentType != "" {
		fmt.Fprintf(w, "Markers:      extension=%q content_type=%q\n", r.Extension, r.ContentType)
	}

	if r.DocKey != "" {
		fmt.Fprintf(w, "Doc key:      %s\n", r.DocKey)
	}

	fmt.Fprintf(w, "Has children: %t\n", r.HasChildren)
	fmt.Fprintf(w, "Updated (ms): %d\n", r.UpdatedAtMS)

	if r.ExportKind != "" {
		fmt.Fprintf(w, "Export:       %s\n", r.ExportKind)
	} else {
		fmt.Fprintf(w, "Export:       no\n")
	}
}
