package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/tonimelisma/docsync/internal/ledger"
	"github.com/tonimelisma/docsync/internal/source"
)

// ErrIncompleteListing is returned by Prune when any root could not be
// fully listed; orphan detection would otherwise delete live documents.
var ErrIncompleteListing = errors.New("sync: incomplete root listing")

// metaNodeID is the document metadata field that ties an index document
// to its source node.
const metaNodeID = "node_id"

// Stray is an index document tagged with a node whose ledger record points
// at a different document in the same dataset, typically left behind when
// a run died between push and commit.
type Stray struct {
	DatasetID string
	DocID     string
	NodeID    string
	Name      string
}

// PruneReport lists ledger records whose source node is no longer listed
// under any root, and stray duplicates found in the routed datasets.
type PruneReport struct {
	Orphans   []ledger.Record
	Strays    []Stray
	Confirmed bool
	Deleted   int
	Failed    int
	// Unroutable counts orphans whose dataset belongs to no configured root;
	// they are reported but never deleted.
	Unroutable int
	// Untracked counts tagged documents whose node has no ledger record.
	// They are never deleted: the ledger may simply be new.
	Untracked int
	// ListErrors counts datasets whose listing failed; strays in them are
	// unknown.
	ListErrors int
}

// Prune walks every root and reports ledger records for nodes that were not
// listed. With confirm it deletes those documents downstream and drops their
// records. Sync itself never deletes anything.
func (e *Engine) Prune(ctx context.Context, confirm bool) (*PruneReport, error) {
	if !e.session.IsValid() {
		return nil, fmt.Errorf("sync: prune: %w", source.ErrSessionExpired)
	}

	scratch := newReport("", ModeFull, true, e.nowFunc())

	found, err := e.discover(ctx, scratch, false)
	if err != nil {
		return nil, fmt.Errorf("sync: prune: %w", err)
	}

	if scratch.RootErrors > 0 {
		return nil, fmt.Errorf("%w: %d root(s) failed", ErrIncompleteListing, scratch.RootErrors)
	}

	listed := make(map[string]bool, len(found))
	for i := range found {
		listed[found[i].node.ID] = true
	}

	pushers := make(map[string]Pusher, len(e.roots))
	for i := range e.roots {
		if _, ok := pushers[e.roots[i].DatasetID]; !ok {
			pushers[e.roots[i].DatasetID] = e.roots[i].Pusher
		}
	}

	report := &PruneReport{Confirmed: confirm}
	byDataset := make(map[string][]ledger.Record)

	var datasets []string

	for _, rec := range e.ledger.Records() {
		if listed[rec.NodeID] {
			continue
		}

		report.Orphans = append(report.Orphans, rec)

		if _, ok := pushers[rec.DestinationDatasetID]; !ok {
			report.Unroutable++
			continue
		}

		if _, ok := byDataset[rec.DestinationDatasetID]; !ok {
			datasets = append(datasets, rec.DestinationDatasetID)
		}

		byDataset[rec.DestinationDatasetID] = append(byDataset[rec.DestinationDatasetID], rec)
	}

	strays := e.findStrays(ctx, pushers, report)

	e.logger.Info("prune scan complete",
		slog.Int("listed", len(listed)),
		slog.Int("records", e.ledger.Len()),
		slog.Int("orphans", len(report.Orphans)),
		slog.Int("strays", len(report.Strays)),
		slog.Bool("confirm", confirm),
	)

	if !confirm {
		return report, nil
	}

	for ds := range strays {
		if _, ok := byDataset[ds]; !ok {
			datasets = append(datasets, ds)
		}
	}

	slices.Sort(datasets)

	for _, ds := range datasets {
		recs := byDataset[ds]

		ids := make([]string, 0, len(recs)+len(strays[ds]))
		for i := range recs {
			ids = append(ids, recs[i].DestinationDocID)
		}

		ids = append(ids, strays[ds]...)

		if err := pushers[ds].Delete(ctx, ds, ids); err != nil {
			e.logger.Warn("prune delete failed",
				slog.String("dataset", ds),
				slog.Int("documents", len(ids)),
				slog.String("error", err.Error()),
			)
			report.Failed += len(ids)

			continue
		}

		for i := range recs {
			if err := e.ledger.Remove(ctx, recs[i].NodeID); err != nil {
				return report, fmt.Errorf("sync: prune: %w", err)
			}
		}

		report.Deleted += len(ids)
	}

	return report, nil
}

// findStrays lists every routed dataset and collects documents tagged with
// a node whose ledger record names another document in that dataset. It
// returns the stray doc ids per dataset.
func (e *Engine) findStrays(ctx context.Context, pushers map[string]Pusher, report *PruneReport) map[string][]string {
	strays := make(map[string][]string)

	for _, ds := range slices.Sorted(maps.Keys(pushers)) {
		docs, err := pushers[ds].List(ctx, ds)
		if err != nil {
			e.logger.Warn("prune: listing dataset failed",
				slog.String("dataset", ds),
				slog.String("error", err.Error()),
			)
			report.ListErrors++

			continue
		}

		for _, doc := range docs {
			nodeID, _ := doc.MetaFields[metaNodeID].(string)
			if nodeID == "" {
				continue
			}

			rec, ok := e.ledger.Existing(nodeID)
			if !ok {
				report.Untracked++
				continue
			}

			if rec.DestinationDatasetID != ds || rec.DestinationDocID == doc.ID {
				continue
			}

			report.Strays = append(report.Strays, Stray{DatasetID: ds, DocID: doc.ID, NodeID: nodeID, Name: doc.Name})
			strays[ds] = append(strays[ds], doc.ID)
		}
	}

	return strays
}
