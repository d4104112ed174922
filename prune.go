package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/docsync/internal/sync"
)

func newPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Find index documents whose source node is gone",
		Long: `Walk every configured root and list ledger records whose node is no
longer present, plus stray index documents: copies tagged with a node
whose record points at a different document, as left by a run that died
between push and commit. Nothing is deleted unless --confirm is given;
then orphaned documents are deleted with their records, and strays are
deleted while the live record stays.

Sync never deletes index documents on its own. Prune refuses to act when
any root could not be listed completely.`,
		RunE: runPrune,
	}

	cmd.Flags().Bool("confirm", false, "delete orphaned index documents and their records")
	cmd.Flags().StringSlice("root", nil, "root folder URL or node id (repeatable; replaces configured roots)")

	return cmd
}

func runPrune(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	confirm, err := cmd.Flags().GetBool("confirm")
	if err != nil {
		return err
	}

	cleanup, err := lockLedger(cc.Cfg.PIDFilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	p, err := newPipeline(ctx, cc)
	if err != nil {
		return err
	}
	defer p.Close(cc.Logger)

	report, err := p.engine.Prune(ctx, confirm)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printPruneJSON(os.Stdout, report)
	}

	printPrune(cc, os.Stdout, report)

	if report.Failed > 0 {
		return fmt.Errorf("prune: %d document(s) could not be deleted", report.Failed)
	}

	return nil
}

type pruneJSON struct {
	Confirmed  bool         `json:"confirmed"`
	Orphans    []orphanJSON `json:"orphans"`
	Strays     []orphanJSON `json:"strays"`
	Deleted    int          `json:"deleted"`
	Failed     int          `json:"failed"`
	Unroutable int          `json:"unroutable"`
	Untracked  int          `json:"untracked"`
	ListErrors int          `json:"list_errors"`
}

type orphanJSON struct {
	NodeID    string `json:"node_id"`
	Name      string `json:"name"`
	DatasetID string `json:"dataset_id"`
	DocID     string `json:"doc_id"`
}

func printPruneJSON(w io.Writer, r *sync.PruneReport) error {
	out := pruneJSON{
		Confirmed:  r.Confirmed,
		Orphans:    make([]orphanJSON, 0, len(r.Orphans)),
		Strays:     make([]orphanJSON, 0, len(r.Strays)),
		Deleted:    r.Deleted,
		Failed:     r.Failed,
		Unroutable: r.Unroutable,
		Untracked:  r.Untracked,
		ListErrors: r.ListErrors,
	}

	for _, o := range r.Orphans {
		out.Orphans = append(out.Orphans, orphanJSON{
			NodeID: o.NodeID, Name: o.Name, DatasetID: o.DestinationDatasetID, DocID: o.DestinationDocID,
		})
	}

	for _, s := range r.Strays {
		out.Strays = append(out.Strays, orphanJSON{
			NodeID: s.NodeID, Name: s.Name, DatasetID: s.DatasetID, DocID: s.DocID,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printPrune(cc *CLIContext, w io.Writer, r *sync.PruneReport) {
	if r.ListErrors > 0 {
		cc.Statusf("%d dataset(s) could not be listed; stray detection is incomplete.\n", r.ListErrors)
	}

	if r.Untracked > 0 {
		cc.Statusf("%d index document(s) belong to nodes this ledger has never recorded; left alone.\n", r.Untracked)
	}

	total := len(r.Orphans) + len(r.Strays)
	if total == 0 {
		cc.Statusf("No orphaned documents.\n")

		return
	}

	rows := make([][]string, 0, total)
	for _, o := range r.Orphans {
		rows = append(rows, []string{"orphan", o.NodeID, o.DestinationDatasetID, o.DestinationDocID, o.Name})
	}

	for _, s := range r.Strays {
		rows = append(rows, []string{"stray", s.NodeID, s.DatasetID, s.DocID, s.Name})
	}

	printTable(w, []string{"KIND", "NODE", "DATASET", "DOC", "NAME"}, rows)

	if !r.Confirmed {
		cc.Statusf("\n%d orphaned and %d stray document(s). Re-run with --confirm to delete them.\n",
			len(r.Orphans), len(r.Strays))

		return
	}

	cc.Statusf("\nDeleted %d, failed %d, skipped %d with no configured destination.\n",
		r.Deleted, r.Failed, r.Unroutable)
}
