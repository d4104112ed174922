package ledger

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlLoadRecords = `SELECT node_id, destination_doc_id, destination_dataset_id,
		source_updated_at, last_synced_at, name, source_url
		FROM sync_records`

	sqlUpsertRecord = `INSERT INTO sync_records
		(node_id, destination_doc_id, destination_dataset_id, source_updated_at,
		 last_synced_at, name, source_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
		 destination_doc_id = excluded.destination_doc_id,
		 destination_dataset_id = excluded.destination_dataset_id,
		 source_updated_at = MAX(sync_records.source_updated_at, excluded.source_updated_at),
		 last_synced_at = excluded.last_synced_at,
		 name = excluded.name,
		 source_url = excluded.source_url`

	sqlDeleteRecord = `DELETE FROM sync_records WHERE node_id = ?`

	sqlLoadState = `SELECT last_full_sync, last_incremental_sync, last_run_id, last_run_summary
		FROM sync_state WHERE id = 1`

	sqlUpsertState = `INSERT INTO sync_state
		(id, last_full_sync, last_incremental_sync, last_run_id, last_run_summary)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 last_full_sync = excluded.last_full_sync,
		 last_incremental_sync = excluded.last_incremental_sync,
		 last_run_id = excluded.last_run_id,
		 last_run_summary = excluded.last_run_summary`

	sqlLoadCursors  = `SELECT root_id, cursor FROM sync_cursors`
	sqlClearCursors = `DELETE FROM sync_cursors`
	sqlInsertCursor = `INSERT INTO sync_cursors (root_id, cursor, updated_at) VALUES (?, ?, ?)`
)

// SQLiteStore is the sqlite-backed Store. It is the sole writer to its
// database file.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewSQLiteStore opens the database at dbPath and applies pending
// migrations. The database uses WAL mode with synchronous=FULL so every
// committed transaction survives a crash.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("ledger database ready", slog.String("db_path", dbPath))

	return &SQLiteStore{db: db, logger: logger, nowFunc: time.Now}, nil
}

// runMigrations applies all pending schema migrations.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ledger: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("ledger: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("ledger: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// LoadRecords reads every record.
func (s *SQLiteStore) LoadRecords(ctx context.Context) (map[string]*Record, error) {
	rows, err := s.db.QueryContext(ctx, sqlLoadRecords)
	if err != nil {
		return nil, fmt.Errorf("ledger: loading records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*Record)

	for rows.Next() {
		var (
			r        Record
			syncedAt int64
			name     sql.NullString
			srcURL   sql.NullString
		)

		if err := rows.Scan(&r.NodeID, &r.DestinationDocID, &r.DestinationDatasetID,
			&r.SourceUpdatedAt, &syncedAt, &name, &srcURL); err != nil {
			return nil, fmt.Errorf("ledger: scanning record row: %w", err)
		}

		r.LastSyncedAt = fromMillis(syncedAt)
		r.Name = name.String
		r.SourceURL = srcURL.String
		out[r.NodeID] = &r
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating record rows: %w", err)
	}

	return out, nil
}

// PutRecord upserts rec. The stored update time never decreases.
func (s *SQLiteStore) PutRecord(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, sqlUpsertRecord,
		rec.NodeID, rec.DestinationDocID, rec.DestinationDatasetID, rec.SourceUpdatedAt,
		rec.LastSyncedAt.UnixMilli(), nullString(rec.Name), nullString(rec.SourceURL),
	)
	if err != nil {
		return fmt.Errorf("ledger: upserting record %s: %w", rec.NodeID, err)
	}

	return nil
}

// DeleteRecord removes the record for nodeID, if any.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, nodeID string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteRecord, nodeID); err != nil {
		return fmt.Errorf("ledger: deleting record %s: %w", nodeID, err)
	}

	return nil
}

// LoadState reads the run state. A fresh database yields an empty state.
func (s *SQLiteStore) LoadState(ctx context.Context) (*State, error) {
	st := &State{Cursors: make(map[string]string)}

	var (
		full, incr sql.NullInt64
		runID      sql.NullString
		summary    sql.NullString
	)

	err := s.db.QueryRowContext(ctx, sqlLoadState).Scan(&full, &incr, &runID, &summary)

	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("ledger: loading state: %w", err)
	default:
		st.LastFullSync = fromNullMillis(full)
		st.LastIncrementalSync = fromNullMillis(incr)
		st.LastRunID = runID.String

		if summary.Valid && summary.String != "" {
			var sum RunSummary
			if err := json.Unmarshal([]byte(summary.String), &sum); err != nil {
				return nil, fmt.Errorf("ledger: decoding run summary: %w", err)
			}

			st.LastRunSummary = &sum
		}
	}

	rows, err := s.db.QueryContext(ctx, sqlLoadCursors)
	if err != nil {
		return nil, fmt.Errorf("ledger: loading cursors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var root, cursor string
		if err := rows.Scan(&root, &cursor); err != nil {
			return nil, fmt.Errorf("ledger: scanning cursor row: %w", err)
		}

		st.Cursors[root] = cursor
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating cursor rows: %w", err)
	}

	return st, nil
}

// SaveState replaces the stored run state in a single transaction.
func (s *SQLiteStore) SaveState(ctx context.Context, st *State) error {
	var summary sql.NullString

	if st.LastRunSummary != nil {
		data, err := json.Marshal(st.LastRunSummary)
		if err != nil {
			return fmt.Errorf("ledger: encoding run summary: %w", err)
		}

		summary = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: beginning state transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqlUpsertState,
		toNullMillis(st.LastFullSync), toNullMillis(st.LastIncrementalSync),
		nullString(st.LastRunID), summary,
	); err != nil {
		return fmt.Errorf("ledger: saving state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, sqlClearCursors); err != nil {
		return fmt.Errorf("ledger: clearing cursors: %w", err)
	}

	now := s.nowFunc().UnixMilli()

	for root, cursor := range st.Cursors {
		if _, err := tx.ExecContext(ctx, sqlInsertCursor, root, cursor, now); err != nil {
			return fmt.Errorf("ledger: saving cursor for %s: %w", root, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: committing state: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toNullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}

	return fromMillis(v.Int64)
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms).UTC()
}
