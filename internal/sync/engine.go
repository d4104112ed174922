// Package sync runs the document sync pipeline: discover nodes under the
// configured roots, filter them against the ledger, render or download each
// one, push the result to its destination index, and commit the outcome.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/docsync/internal/alert"
	"github.com/tonimelisma/docsync/internal/artifact"
	"github.com/tonimelisma/docsync/internal/destination"
	"github.com/tonimelisma/docsync/internal/export"
	"github.com/tonimelisma/docsync/internal/ledger"
	"github.com/tonimelisma/docsync/internal/source"
)

// Abort reasons recorded in the report and the persisted run summary.
const (
	abortSession  = "session expired"
	abortCanceled = "canceled"
	abortFatal    = "fatal error"
)

const defaultPushWorkers = 4

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	Source    Crawler
	Downloads Downloader // required when DirectExtensions is set
	Exporter  Exporter
	Session   SessionChecker
	Ledger    *ledger.Ledger
	Alerts    Alerter // optional
	Roots     []Root

	PushWorkers    int
	ParseAfterPush bool
	ParseBatchSize int

	// DirectExtensions lists the extensions of "other" nodes that are pushed
	// as-is. Other nodes with any other extension are skipped.
	DirectExtensions []string
	MaxArtifactBytes int64

	// NodeURL builds the source URL stored with each record and pushed as
	// document metadata. Nil uses the node id.
	NodeURL func(nodeID string) string

	// TriggerURL is the re-login link carried by the session-expiry alert.
	TriggerURL    string
	NotifySummary bool

	Logger *slog.Logger
}

// Engine runs sync and prune passes over the configured roots.
type Engine struct {
	source    Crawler
	downloads Downloader
	exporter  Exporter
	session   SessionChecker
	ledger    *ledger.Ledger
	alerts    Alerter
	roots     []Root

	pushWorkers    int
	parseAfterPush bool
	parseBatchSize int
	direct         map[string]bool
	maxBytes       int64
	nodeURL        func(string) string
	triggerURL     string
	notifySummary  bool

	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewEngine validates cfg and creates an Engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	var errs []error

	if cfg.Source == nil {
		errs = append(errs, errors.New("source crawler is required"))
	}

	if cfg.Exporter == nil {
		errs = append(errs, errors.New("exporter is required"))
	}

	if cfg.Session == nil {
		errs = append(errs, errors.New("session is required"))
	}

	if cfg.Ledger == nil {
		errs = append(errs, errors.New("ledger is required"))
	}

	if len(cfg.DirectExtensions) > 0 && cfg.Downloads == nil {
		errs = append(errs, errors.New("downloader is required for direct download extensions"))
	}

	for i, r := range cfg.Roots {
		if r.Ref == "" || r.Pusher == nil || r.DatasetID == "" {
			errs = append(errs, fmt.Errorf("root %d: reference, pusher and dataset are required", i))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("sync: creating engine: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workers := cfg.PushWorkers
	if workers < 1 {
		workers = defaultPushWorkers
	}

	direct := make(map[string]bool, len(cfg.DirectExtensions))
	for _, ext := range cfg.DirectExtensions {
		direct[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	nodeURL := cfg.NodeURL
	if nodeURL == nil {
		nodeURL = func(id string) string { return id }
	}

	return &Engine{
		source:         cfg.Source,
		downloads:      cfg.Downloads,
		exporter:       cfg.Exporter,
		session:        cfg.Session,
		ledger:         cfg.Ledger,
		alerts:         cfg.Alerts,
		roots:          cfg.Roots,
		pushWorkers:    workers,
		parseAfterPush: cfg.ParseAfterPush,
		parseBatchSize: cfg.ParseBatchSize,
		direct:         direct,
		maxBytes:       cfg.MaxArtifactBytes,
		nodeURL:        nodeURL,
		triggerURL:     cfg.TriggerURL,
		notifySummary:  cfg.NotifySummary,
		logger:         logger,
		nowFunc:        time.Now,
	}, nil
}

// candidate is a discovered node and the root it was found under.
type candidate struct {
	node source.Node
	root *Root
}

// Run executes one sync pass:
//  1. Assign a run id; full mode drops stale traversal cursors
//  2. Discover leaf nodes under every root
//  3. Filter by the update floor, the ledger and eligibility
//  4. Return early if dry-run
//  5. Produce artifacts sequentially, pushing them through a bounded pool
//  6. Request destination parsing for pushed documents
//  7. Persist the run summary
//
// Session expiry stops dispatch, waits for in-flight pushes, alerts the
// operator and returns an error wrapping source.ErrSessionExpired together
// with the partial report.
func (e *Engine) Run(ctx context.Context, mode Mode, opts RunOpts) (*Report, error) {
	start := e.nowFunc()
	report := newReport(uuid.NewString(), mode, opts.DryRun, start)

	e.logger.Info("sync run starting",
		slog.String("run_id", report.RunID),
		slog.String("mode", string(mode)),
		slog.Bool("dry_run", opts.DryRun),
		slog.Int("roots", len(e.roots)),
	)

	if !e.session.IsValid() {
		return e.finish(ctx, report, fmt.Errorf("sync: before discovery: %w", source.ErrSessionExpired))
	}

	if mode == ModeFull && !opts.DryRun {
		if err := e.ledger.ClearCursors(ctx); err != nil {
			return nil, fmt.Errorf("sync: clearing cursors: %w", err)
		}
	}

	found, err := e.discover(ctx, report, !opts.DryRun)
	if err != nil {
		return e.finish(ctx, report, err)
	}

	planned := e.filter(found, mode, report)

	if opts.DryRun {
		report.Duration = e.nowFunc().Sub(start)

		e.logger.Info("dry-run complete: nothing exported or pushed",
			slog.Int("discovered", report.Discovered),
			slog.Int("would_sync", report.Candidates),
			slog.Int("skipped", report.Skipped),
		)

		return report, nil
	}

	return e.finish(ctx, report, e.process(ctx, planned, report))
}

// discover resolves each root and walks it, returning the deduplicated leaf
// candidates in traversal order. Listing failures are recorded as root
// errors; session expiry, cancellation and ledger failures are returned.
func (e *Engine) discover(ctx context.Context, report *Report, checkpoint bool) ([]candidate, error) {
	var found []candidate

	seen := make(map[string]bool)

	add := func(n source.Node, root *Root) {
		if seen[n.ID] {
			return
		}

		seen[n.ID] = true
		found = append(found, candidate{node: n, root: root})
	}

	for i := range e.roots {
		root := &e.roots[i]

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sync: discovery canceled: %w", err)
		}

		top, err := e.source.Resolve(ctx, root.Ref)
		if err != nil {
			if classifyError(err) != tierNode {
				return nil, err
			}

			e.logger.Error("root resolution failed",
				slog.String("root", root.Ref),
				slog.String("error", err.Error()),
			)
			report.recordRootError(root.Ref, err)

			continue
		}

		if top.Type != source.TypeFolder {
			add(*top, root)

			if !top.HasChildren {
				continue
			}
		}

		if err := e.walkRoot(ctx, root, top.ID, checkpoint, func(n source.Node) { add(n, root) }, report); err != nil {
			return nil, err
		}
	}

	report.Discovered = len(found)

	e.logger.Info("discovery complete",
		slog.Int("nodes", len(found)),
		slog.Int("root_errors", report.RootErrors),
	)

	return found, nil
}

// walkRoot streams one root's subtree into emit. Nodes yielded before a
// listing error are kept.
func (e *Engine) walkRoot(
	ctx context.Context, root *Root, rootID string, checkpoint bool, emit func(source.Node), report *Report,
) error {
	var cpErr error

	opts := source.WalkOptions{}
	if checkpoint {
		opts.OnRootCursor = func(cursor string) {
			if cpErr != nil {
				return
			}

			cpErr = e.ledger.Checkpoint(ctx, rootID, cursor)
		}
	}

	for n, err := range e.source.Walk(ctx, rootID, opts) {
		if err != nil {
			if classifyError(err) != tierNode {
				return err
			}

			if ctx.Err() != nil {
				return fmt.Errorf("sync: discovery canceled: %w", ctx.Err())
			}

			e.logger.Error("root listing failed",
				slog.String("root", root.Ref),
				slog.String("error", err.Error()),
			)
			report.recordRootError(root.Ref, err)

			break
		}

		emit(n)
	}

	if cpErr != nil {
		return fmt.Errorf("sync: checkpointing %s: %w", root.Ref, cpErr)
	}

	return nil
}

// filter drops nodes excluded by the floor, unchanged since their last
// commit, or not eligible for export or direct download.
func (e *Engine) filter(found []candidate, mode Mode, report *Report) []candidate {
	planned := make([]candidate, 0, len(found))

	for i := range found {
		n := &found[i].node

		switch {
		case e.ledger.BelowFloor(n):
			e.logger.Debug("skipping node below update floor", slog.String("node_id", n.ID))
		case !e.ledger.ShouldSync(n, mode):
			e.logger.Debug("skipping unchanged node", slog.String("node_id", n.ID))
		case !e.eligible(n):
			e.logger.Debug("skipping ineligible node",
				slog.String("node_id", n.ID),
				slog.String("type", string(n.Type)),
				slog.String("extension", n.Extension),
			)
		default:
			planned = append(planned, found[i])
			continue
		}

		report.Skipped++
	}

	report.Candidates = len(planned)

	return planned
}

func (e *Engine) eligible(n *source.Node) bool {
	switch n.Type {
	case source.TypeDocument, source.TypeSpreadsheet:
		return n.Exportable()
	case source.TypeOther:
		return e.direct[directExtension(n)]
	default:
		return false
	}
}

func directExtension(n *source.Node) string {
	if n.Extension != "" {
		return strings.ToLower(n.Extension)
	}

	return strings.TrimPrefix(strings.ToLower(path.Ext(n.Name)), ".")
}

// process produces each planned node in order and hands its artifact to the
// push pool. Export and pushes run detached from ctx so an interrupt lets
// in-flight work finish; ctx is checked between nodes.
func (e *Engine) process(ctx context.Context, planned []candidate, report *Report) error {
	work := context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(work)
	g.SetLimit(e.pushWorkers)

	pushed := newPushedSet()

	var stopErr error

	for i := range planned {
		c := &planned[i]

		if err := e.stopReason(ctx, gctx); err != nil {
			stopErr = err
			report.addNotAttempted(len(planned) - i)

			break
		}

		art, stage, err := e.produce(work, &c.node)
		if err != nil {
			if classifyError(err) != tierNode {
				stopErr = err
				report.addNotAttempted(len(planned) - i)

				break
			}

			e.logger.Warn("node failed",
				slog.String("node_id", c.node.ID),
				slog.String("name", c.node.Name),
				slog.String("stage", stage),
				slog.String("error", err.Error()),
			)
			report.recordFailure(&c.node, stage, err)

			continue
		}

		g.Go(func() error {
			return e.push(gctx, c, art, report, pushed)
		})
	}

	waitErr := g.Wait()

	e.parse(work, pushed, report)

	if waitErr != nil {
		return waitErr
	}

	return stopErr
}

// stopReason reports why dispatch must stop before the next node, or nil.
func (e *Engine) stopReason(ctx, gctx context.Context) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("sync: run interrupted: %w", ctx.Err())
	case gctx.Err() != nil:
		// A push returned a fatal error; Wait reports it.
		return gctx.Err()
	case !e.session.IsValid():
		return fmt.Errorf("sync: between nodes: %w", source.ErrSessionExpired)
	}

	return nil
}

// produce renders or downloads one node and verifies the result. The stage
// names where a failure occurred.
func (e *Engine) produce(ctx context.Context, n *source.Node) (*export.Artifact, string, error) {
	var (
		art   *export.Artifact
		stage string
	)

	if n.Exportable() {
		stage = StageExport

		a, err := e.exporter.Export(ctx, n)
		if err != nil {
			return nil, stage, err
		}

		art = a
	} else {
		stage = StageDownload

		data, err := e.downloads.Download(ctx, n.ID)
		if err != nil {
			return nil, stage, err
		}

		art = export.NewDirectArtifact(n, data)
	}

	info, err := artifact.Verify(art.Format, art.Data, e.maxBytes)
	if err != nil {
		return nil, StageVerify, err
	}

	e.logger.Debug("artifact ready",
		slog.String("node_id", n.ID),
		slog.String("file", art.FileName),
		slog.Int("bytes", info.Bytes),
		slog.Int("pages", info.Pages),
		slog.Int("sheets", len(info.Sheets)),
	)

	return art, "", nil
}

// push upserts one artifact and commits it to the ledger. Only ledger
// failures are returned; they cancel the pool and abort the run.
func (e *Engine) push(ctx context.Context, c *candidate, art *export.Artifact, report *Report, pushed *pushedSet) error {
	n := &c.node
	sourceURL := e.nodeURL(n.ID)

	docID := ""
	if rec, ok := e.ledger.Existing(n.ID); ok && rec.DestinationDatasetID == c.root.DatasetID {
		docID = rec.DestinationDocID
	}

	doc := destination.Document{
		FileName:    art.FileName,
		ContentType: art.ContentType,
		Data:        art.Data,
		Meta: map[string]any{
			"url":        sourceURL,
			"node_id":    n.ID,
			"updated_at": n.UpdatedMillis(),
		},
	}

	res, err := c.root.Pusher.Upsert(ctx, c.root.DatasetID, docID, doc)
	if err != nil {
		e.logger.Warn("push failed",
			slog.String("node_id", n.ID),
			slog.String("destination", c.root.Pusher.Name()),
			slog.String("error", err.Error()),
		)
		report.recordFailure(n, StagePush, err)

		return nil
	}

	if err := e.ledger.Commit(ctx, n, res.DocID, c.root.DatasetID, sourceURL); err != nil {
		if classifyError(err) == tierFatal {
			return err
		}

		report.recordFailure(n, StagePush, err)

		return nil
	}

	report.recordSuccess(n.Type, res.Created)
	pushed.add(c.root.Pusher, c.root.DatasetID, res.DocID)

	e.logger.Info("node synced",
		slog.String("node_id", n.ID),
		slog.String("name", n.Name),
		slog.String("doc_id", res.DocID),
		slog.Bool("created", res.Created),
	)

	return nil
}

// parse asks each destination to parse the documents pushed to it. Failures
// are logged; the documents are already committed.
func (e *Engine) parse(ctx context.Context, pushed *pushedSet, report *Report) {
	if !e.parseAfterPush {
		return
	}

	for _, b := range pushed.batches() {
		if err := b.pusher.Parse(ctx, b.datasetID, b.docIDs, e.parseBatchSize); err != nil {
			e.logger.Warn("parse request failed",
				slog.String("destination", b.pusher.Name()),
				slog.String("dataset", b.datasetID),
				slog.String("error", err.Error()),
			)

			continue
		}

		report.addParsed(len(b.docIDs))
	}
}

// finish persists the run summary, sends alerts and shapes the return
// value for runErr.
func (e *Engine) finish(ctx context.Context, report *Report, runErr error) (*Report, error) {
	report.Duration = e.nowFunc().Sub(report.StartedAt)

	switch {
	case runErr == nil:
	case classifyError(runErr) == tierSession:
		report.Aborted = abortSession
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		report.Aborted = abortCanceled
	default:
		report.Aborted = abortFatal
	}

	if err := e.ledger.FinishRun(context.WithoutCancel(ctx), report.RunID, report.Summary()); err != nil {
		e.logger.Error("failed to record run summary", slog.String("error", err.Error()))

		if runErr == nil {
			runErr = fmt.Errorf("sync: recording run: %w", err)
		}
	}

	e.logger.Info("sync run complete",
		slog.String("run_id", report.RunID),
		slog.Duration("duration", report.Duration),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Int("not_attempted", report.NotAttempted),
		slog.String("aborted", report.Aborted),
	)

	if report.Aborted == abortSession {
		e.logger.Error("source session expired, run aborted", slog.String("error", runErr.Error()))
		e.dispatch(alert.SessionExpired(runErr.Error(), e.triggerURL))
	}

	if e.notifySummary {
		e.dispatch(alert.Message{Title: "Document sync report", Text: report.Markdown(e.rootRefs())})
	}

	return report, runErr
}

func (e *Engine) dispatch(msg alert.Message) {
	if e.alerts == nil {
		return
	}

	e.alerts.Dispatch(msg)
}

func (e *Engine) rootRefs() []string {
	refs := make([]string, len(e.roots))
	for i := range e.roots {
		refs[i] = e.roots[i].Ref
	}

	return refs
}

// pushedSet collects committed doc ids per destination dataset.
type pushedSet struct {
	mu    stdsync.Mutex
	order []pushKey
	ids   map[pushKey][]string
}

type pushKey struct {
	pusher    Pusher
	datasetID string
}

type pushBatch struct {
	pusher    Pusher
	datasetID string
	docIDs    []string
}

func newPushedSet() *pushedSet {
	return &pushedSet{ids: make(map[pushKey][]string)}
}

func (p *pushedSet) add(pusher Pusher, datasetID, docID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := pushKey{pusher: pusher, datasetID: datasetID}
	if _, ok := p.ids[k]; !ok {
		p.order = append(p.order, k)
	}

	p.ids[k] = append(p.ids[k], docID)
}

func (p *pushedSet) batches() []pushBatch {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]pushBatch, 0, len(p.order))
	for _, k := range p.order {
		out = append(out, pushBatch{pusher: k.pusher, datasetID: k.datasetID, docIDs: p.ids[k]})
	}

	return out
}
