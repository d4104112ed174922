// Package ledger is the durable mapping from source node identity to
// destination document identity. It drives deduplication and incremental
// sync, and owns persistence of per-run sync state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/tonimelisma/docsync/internal/source"
)

// ErrLedgerIO wraps every persistence failure. Callers treat it as fatal:
// sync correctness cannot be guaranteed without a durable ledger.
var ErrLedgerIO = errors.New("ledger: I/O failure")

// Mode selects whether a run honors the freshness check.
type Mode string

// Sync modes.
const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// Record maps one source node to its destination document. SourceUpdatedAt
// is the node's update time, in epoch milliseconds, at the last successful
// sync and never decreases.
type Record struct {
	NodeID               string    `json:"node_id"`
	DestinationDocID     string    `json:"destination_doc_id"`
	DestinationDatasetID string    `json:"destination_dataset_id"`
	SourceUpdatedAt      int64     `json:"source_updated_at"`
	LastSyncedAt         time.Time `json:"last_synced_at"`
	Name                 string    `json:"name,omitempty"`
	SourceURL            string    `json:"source_url,omitempty"`
}

// RunSummary is the outcome of a completed (or aborted) run.
type RunSummary struct {
	Mode         Mode      `json:"mode"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
	NotAttempted int       `json:"not_attempted"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Aborted      string    `json:"aborted,omitempty"`
}

// State is run-level bookkeeping. Cursors maps a root id to the last
// checkpointed traversal cursor of an unfinished run.
type State struct {
	LastFullSync        time.Time         `json:"last_full_sync"`
	LastIncrementalSync time.Time         `json:"last_incremental_sync"`
	Cursors             map[string]string `json:"cursors"`
	LastRunID           string            `json:"last_run_id,omitempty"`
	LastRunSummary      *RunSummary       `json:"last_run_summary,omitempty"`
}

func (s *State) clone() *State {
	c := *s
	c.Cursors = maps.Clone(s.Cursors)

	if c.Cursors == nil {
		c.Cursors = make(map[string]string)
	}

	if s.LastRunSummary != nil {
		sum := *s.LastRunSummary
		c.LastRunSummary = &sum
	}

	return &c
}

// Store persists records and state. Implementations must make every
// completed write durable before returning.
type Store interface {
	LoadRecords(ctx context.Context) (map[string]*Record, error)
	PutRecord(ctx context.Context, rec *Record) error
	DeleteRecord(ctx context.Context, nodeID string) error
	LoadState(ctx context.Context) (*State, error)
	SaveState(ctx context.Context, st *State) error
	Close() error
}

// Ledger caches the full record set in memory and writes through to its
// Store. Safe for concurrent use.
type Ledger struct {
	store  Store
	logger *slog.Logger
	floor  time.Time

	mu      sync.RWMutex
	records map[string]*Record
	state   *State

	nowFunc func() time.Time
}

// Open loads all records and state from store. A non-zero floor excludes
// nodes updated before it regardless of ledger contents.
func Open(ctx context.Context, store Store, floor time.Time, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	records, err := store.LoadRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading records: %w", ErrLedgerIO, err)
	}

	st, err := store.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading state: %w", ErrLedgerIO, err)
	}

	if st == nil {
		st = &State{}
	}

	st = st.clone()

	logger.Debug("ledger loaded",
		slog.Int("records", len(records)),
		slog.Int("cursors", len(st.Cursors)),
	)

	return &Ledger{
		store:   store,
		logger:  logger,
		floor:   floor,
		records: records,
		state:   st,
		nowFunc: time.Now,
	}, nil
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

// BelowFloor reports whether node is excluded by the minimum-update floor.
func (l *Ledger) BelowFloor(node *source.Node) bool {
	return !l.floor.IsZero() && node.UpdatedAt.Before(l.floor)
}

// ShouldSync reports whether node needs syncing: the floor always applies;
// then full mode syncs everything, and incremental mode syncs nodes that are
// absent from the ledger or updated since their last commit.
func (l *Ledger) ShouldSync(node *source.Node, mode Mode) bool {
	if l.BelowFloor(node) {
		return false
	}

	if mode == ModeFull {
		return true
	}

	l.mu.RLock()
	rec, ok := l.records[node.ID]
	l.mu.RUnlock()

	if !ok {
		return true
	}

	return node.UpdatedMillis() > rec.SourceUpdatedAt
}

// Existing returns a copy of the record for nodeID.
func (l *Ledger) Existing(nodeID string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[nodeID]
	if !ok {
		return Record{}, false
	}

	return *rec, true
}

// Commit records a successful push of node to docID in datasetID. It is an
// idempotent upsert: repeating a commit changes nothing, and a stale update
// time never lowers the stored one.
func (l *Ledger) Commit(ctx context.Context, node *source.Node, docID, datasetID, sourceURL string) error {
	if node.ID == "" || docID == "" {
		return fmt.Errorf("ledger: commit requires node and document ids (node %q, doc %q)", node.ID, docID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := Record{
		NodeID:               node.ID,
		DestinationDocID:     docID,
		DestinationDatasetID: datasetID,
		SourceUpdatedAt:      node.UpdatedMillis(),
		Name:                 node.Name,
		SourceURL:            sourceURL,
	}

	if prev, ok := l.records[node.ID]; ok {
		next.SourceUpdatedAt = max(next.SourceUpdatedAt, prev.SourceUpdatedAt)
		next.LastSyncedAt = prev.LastSyncedAt

		if next == *prev {
			return nil
		}
	}

	next.LastSyncedAt = l.nowFunc().UTC()

	if err := l.store.PutRecord(ctx, &next); err != nil {
		return fmt.Errorf("%w: committing %s: %w", ErrLedgerIO, node.ID, err)
	}

	l.records[node.ID] = &next

	return nil
}

// Remove deletes the record for nodeID.
func (l *Ledger) Remove(ctx context.Context, nodeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[nodeID]; !ok {
		return nil
	}

	if err := l.store.DeleteRecord(ctx, nodeID); err != nil {
		return fmt.Errorf("%w: removing %s: %w", ErrLedgerIO, nodeID, err)
	}

	delete(l.records, nodeID)

	return nil
}

// Records returns copies of all records sorted by node id.
func (l *Ledger) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, 0, len(l.records))
	for _, id := range slices.Sorted(maps.Keys(l.records)) {
		out = append(out, *l.records[id])
	}

	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.records)
}

// State returns a copy of the current sync state.
func (l *Ledger) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return *l.state.clone()
}

// Checkpoint persists the traversal cursor for a root.
func (l *Ledger) Checkpoint(ctx context.Context, rootID, cursor string) error {
	return l.updateState(ctx, func(st *State) {
		st.Cursors[rootID] = cursor
	})
}

// ClearCursors drops all traversal cursors.
func (l *Ledger) ClearCursors(ctx context.Context) error {
	return l.updateState(ctx, func(st *State) {
		clear(st.Cursors)
	})
}

// FinishRun stores the outcome of a run. Completed runs advance the mode's
// last-sync timestamp and clear cursors; aborted runs keep them.
func (l *Ledger) FinishRun(ctx context.Context, runID string, summary RunSummary) error {
	return l.updateState(ctx, func(st *State) {
		st.LastRunID = runID
		st.LastRunSummary = &summary

		if summary.Aborted != "" {
			return
		}

		switch summary.Mode {
		case ModeFull:
			st.LastFullSync = summary.FinishedAt
		case ModeIncremental:
			st.LastIncrementalSync = summary.FinishedAt
		}

		clear(st.Cursors)
	})
}

func (l *Ledger) updateState(ctx context.Context, fn func(st *State)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.state.clone()
	fn(next)

	if err := l.store.SaveState(ctx, next); err != nil {
		return fmt.Errorf("%w: saving state: %w", ErrLedgerIO, err)
	}

	l.state = next

	return nil
}
