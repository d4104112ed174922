package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Backend names accepted by OpenStore.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// DatabaseFileName is the sqlite backend's file name inside the ledger
// directory.
const DatabaseFileName = "ledger.db"

// OpenStore creates the named backend rooted at dir.
func OpenStore(ctx context.Context, backend, dir string, logger *slog.Logger) (Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating ledger directory %s: %w", ErrLedgerIO, dir, err)
	}

	switch backend {
	case BackendSQLite, "":
		s, err := NewSQLiteStore(ctx, filepath.Join(dir, DatabaseFileName), logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLedgerIO, err)
		}

		return s, nil
	case BackendJSON:
		return NewJSONStore(dir, logger), nil
	default:
		return nil, fmt.Errorf("ledger: unknown backend %q", backend)
	}
}
