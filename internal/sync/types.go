package sync

import (
	"context"
	"errors"
	"iter"

	"github.com/tonimelisma/docsync/internal/alert"
	"github.com/tonimelisma/docsync/internal/destination"
	"github.com/tonimelisma/docsync/internal/export"
	"github.com/tonimelisma/docsync/internal/ledger"
	"github.com/tonimelisma/docsync/internal/source"
)

// Crawler resolves roots and walks their subtrees. Satisfied by
// *source.Client.
type Crawler interface {
	Resolve(ctx context.Context, ref string) (*source.Node, error)
	Walk(ctx context.Context, rootID string, opts source.WalkOptions) iter.Seq2[source.Node, error]
}

// Downloader fetches the original bytes of nodes that need no render.
// Satisfied by *source.Client.
type Downloader interface {
	Download(ctx context.Context, nodeID string) ([]byte, error)
}

// Exporter renders documents and spreadsheets. Satisfied by
// *export.Orchestrator.
type Exporter interface {
	Export(ctx context.Context, node *source.Node) (*export.Artifact, error)
}

// Pusher is a destination index. Satisfied by *destination.Client.
type Pusher interface {
	Name() string
	Upsert(ctx context.Context, datasetID, docID string, doc destination.Document) (destination.UpsertResult, error)
	Parse(ctx context.Context, datasetID string, docIDs []string, batchSize int) error
	Delete(ctx context.Context, datasetID string, docIDs []string) error
	List(ctx context.Context, datasetID string) ([]destination.DocumentInfo, error)
}

// SessionChecker reports whether the source session is usable. Satisfied by
// *source.Session.
type SessionChecker interface {
	IsValid() bool
}

// Alerter dispatches operator alerts without blocking. Satisfied by
// *alert.Notifier.
type Alerter interface {
	Dispatch(msg alert.Message)
}

// Root is one configured sync root and the dataset it feeds.
type Root struct {
	Ref       string
	Pusher    Pusher
	DatasetID string
}

// Mode re-exports the ledger's sync modes for callers of Run.
type Mode = ledger.Mode

// Sync modes.
const (
	ModeIncremental = ledger.ModeIncremental
	ModeFull        = ledger.ModeFull
)

// RunOpts holds per-run options.
type RunOpts struct {
	// DryRun stops after discovery and filtering, reporting what would be
	// synced without exporting or pushing anything.
	DryRun bool
}

// errorTier classifies errors for the run loop.
type errorTier int

const (
	// tierNode errors are recorded against one node; the run continues.
	tierNode errorTier = iota
	// tierSession errors abort the run and request a re-login.
	tierSession
	// tierFatal errors abort the run immediately.
	tierFatal
)

func classifyError(err error) errorTier {
	switch {
	case errors.Is(err, ledger.ErrLedgerIO):
		return tierFatal
	case errors.Is(err, source.ErrSessionExpired):
		return tierSession
	default:
		return tierNode
	}
}
