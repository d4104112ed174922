package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/tonimelisma/docsync/internal/atomicfile"
)

// File names used by the JSON backend.
const (
	RecordsFileName = "ledger.json"
	StateFileName   = "state.json"
	filePerms       = 0o600
)

// JSONStore keeps records and state in two JSON files, each loaded fully
// into memory and rewritten atomically on every change.
type JSONStore struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	records map[string]*Record
}

// NewJSONStore returns a store rooted at dir. Files are created on first
// write.
func NewJSONStore(dir string, logger *slog.Logger) *JSONStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &JSONStore{dir: dir, logger: logger}
}

func (s *JSONStore) recordsPath() string { return filepath.Join(s.dir, RecordsFileName) }
func (s *JSONStore) statePath() string   { return filepath.Join(s.dir, StateFileName) }

// LoadRecords reads ledger.json. A missing file is an empty ledger.
func (s *JSONStore) LoadRecords(_ context.Context) (map[string]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make(map[string]*Record)
	if err := readJSON(s.recordsPath(), &records); err != nil {
		return nil, err
	}

	for id, r := range records {
		if r == nil {
			delete(records, id)
			continue
		}

		r.NodeID = id
	}

	s.records = records

	s.logger.Debug("ledger file loaded",
		slog.String("path", s.recordsPath()),
		slog.Int("records", len(records)),
	)

	return maps.Clone(records), nil
}

// PutRecord writes rec and rewrites ledger.json.
func (s *JSONStore) PutRecord(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot()

	r := *rec
	if prev, ok := next[r.NodeID]; ok {
		r.SourceUpdatedAt = max(r.SourceUpdatedAt, prev.SourceUpdatedAt)
	}

	next[r.NodeID] = &r

	if err := writeJSON(s.recordsPath(), next); err != nil {
		return err
	}

	s.records = next

	return nil
}

// DeleteRecord removes nodeID and rewrites ledger.json.
func (s *JSONStore) DeleteRecord(_ context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot()
	if _, ok := next[nodeID]; !ok {
		return nil
	}

	delete(next, nodeID)

	if err := writeJSON(s.recordsPath(), next); err != nil {
		return err
	}

	s.records = next

	return nil
}

// snapshot returns a shallow copy of the record map so a failed write
// leaves the cached set untouched. Caller holds s.mu.
func (s *JSONStore) snapshot() map[string]*Record {
	if s.records == nil {
		return make(map[string]*Record)
	}

	return maps.Clone(s.records)
}

// LoadState reads state.json. A missing file is an empty state.
func (s *JSONStore) LoadState(_ context.Context) (*State, error) {
	st := &State{}
	if err := readJSON(s.statePath(), st); err != nil {
		return nil, err
	}

	if st.Cursors == nil {
		st.Cursors = make(map[string]string)
	}

	return st, nil
}

// SaveState rewrites state.json.
func (s *JSONStore) SaveState(_ context.Context, st *State) error {
	return writeJSON(s.statePath(), st)
}

// Close is a no-op; every write is already durable.
func (s *JSONStore) Close() error {
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("ledger: reading %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ledger: decoding %s: %w", path, err)
	}

	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: encoding %s: %w", path, err)
	}

	if err := atomicfile.Write(path, data, filePerms); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	return nil
}
