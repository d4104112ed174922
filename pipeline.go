package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tonimelisma/docsync/internal/alert"
	"github.com/tonimelisma/docsync/internal/config"
	"github.com/tonimelisma/docsync/internal/destination"
	"github.com/tonimelisma/docsync/internal/export"
	"github.com/tonimelisma/docsync/internal/ledger"
	"github.com/tonimelisma/docsync/internal/source"
	"github.com/tonimelisma/docsync/internal/sync"
)

// alertFlushTimeout bounds how long a command waits for queued alerts
// before exiting.
const alertFlushTimeout = 10 * time.Second

// pipeline holds the wired components for one command invocation.
type pipeline struct {
	session  *source.Session
	source   *source.Client
	ledger   *ledger.Ledger
	notifier *alert.Notifier
	engine   *sync.Engine
}

// Close flushes pending alerts and closes the ledger.
func (p *pipeline) Close(logger *slog.Logger) {
	if p.notifier != nil && !p.notifier.Flush(alertFlushTimeout) {
		logger.Warn("alerts still pending at exit")
	}

	if p.ledger != nil {
		if err := p.ledger.Close(); err != nil {
			logger.Warn("closing ledger", slog.String("error", err.Error()))
		}
	}
}

func userAgent(cfg *config.Config) string {
	if cfg.Network.UserAgent != "" {
		return cfg.Network.UserAgent
	}

	return "docsync/" + version
}

// newSourceClient builds the session and the source service client.
func newSourceClient(cc *CLIContext) (*source.Session, *source.Client) {
	session := source.NewSession(cc.Cfg.CredentialPath(), cc.Logger)
	client := source.NewClient(cc.Cfg.Source.BaseURL, newHTTPClient(cc.Cfg), session, cc.Logger, userAgent(cc.Cfg))
	client.SetPageSize(cc.Cfg.Source.PageSize)

	return session, client
}

// openLedger opens the configured ledger backend with the update floor.
func openLedger(ctx context.Context, cc *CLIContext) (*ledger.Ledger, error) {
	store, err := ledger.OpenStore(ctx, cc.Cfg.Ledger.Backend, cc.Cfg.LedgerDir(), cc.Logger)
	if err != nil {
		return nil, err
	}

	var floor time.Time
	if cc.Cfg.Sync.MinUpdated > 0 {
		floor = time.Unix(cc.Cfg.Sync.MinUpdated, 0)
	}

	l, err := ledger.Open(ctx, store, floor, cc.Logger)
	if err != nil {
		store.Close()

		return nil, err
	}

	return l, nil
}

// newNotifier builds the alert channel. An unconfigured robot yields a
// disabled notifier.
func newNotifier(cc *CLIContext) *alert.Notifier {
	a := cc.Cfg.Alert
	if a.AccessToken == "" {
		return alert.NewNotifier(nil, cc.Logger)
	}

	robot := alert.NewRobot(alert.RobotConfig{
		WebhookURL:     a.WebhookURL,
		AccessToken:    a.AccessToken,
		Secret:         a.Secret,
		Mentions:       a.Mentions,
		MentionUserIDs: a.MentionUserIDs,
	}, newHTTPClient(cc.Cfg), cc.Logger)

	return alert.NewNotifier(robot, cc.Logger)
}

// buildRoots routes each configured root to a destination client. Clients
// are shared between roots that name the same destination.
func buildRoots(cc *CLIContext) ([]sync.Root, error) {
	clients := make(map[string]*destination.Client)
	roots := make([]sync.Root, 0, len(cc.Cfg.Roots))

	for _, rc := range cc.Cfg.Roots {
		name, dest, err := cc.Cfg.DestinationFor(rc)
		if err != nil {
			return nil, err
		}

		client, ok := clients[name]
		if !ok {
			client = destination.NewClient(name, dest.BaseURL, dest.APIToken(), newHTTPClient(cc.Cfg),
				dest.RateLimit, dest.RateBurst, cc.Logger)
			clients[name] = client
		}

		roots = append(roots, sync.Root{Ref: rc.URL, Pusher: client, DatasetID: dest.DatasetID})
	}

	return roots, nil
}

// nodeURL builds the browser link to a node, stored with each record.
func nodeURL(cfg *config.Config) func(string) string {
	base := strings.TrimRight(cfg.Source.BaseURL, "/")

	return func(id string) string {
		return base + "/nodes/" + url.PathEscape(id)
	}
}

// newPipeline wires every component for sync and prune.
func newPipeline(ctx context.Context, cc *CLIContext) (*pipeline, error) {
	if len(cc.Cfg.Roots) == 0 {
		return nil, fmt.Errorf("no roots configured: add [[root]] entries, set %s, or pass --root", config.EnvRoots)
	}

	roots, err := buildRoots(cc)
	if err != nil {
		return nil, err
	}

	session, src := newSourceClient(cc)

	// The render service shares the session, so its calls are serialized
	// with source calls.
	render := source.NewClient(cc.Cfg.Source.RenderURL, newHTTPClient(cc.Cfg), session, cc.Logger, userAgent(cc.Cfg))

	exporter := export.NewOrchestrator(src, render, session, export.Options{
		PollInterval: cc.Cfg.PollInterval(),
		PollTimeout:  cc.Cfg.PollTimeout(),
		Locale:       cc.Cfg.Source.Locale,
		AppVersion:   cc.Cfg.Source.AppVersion,
		PrintStyle:   cc.Cfg.Source.PrintStyle,
	}, cc.Logger)

	l, err := openLedger(ctx, cc)
	if err != nil {
		return nil, err
	}

	notifier := newNotifier(cc)

	engine, err := sync.NewEngine(&sync.EngineConfig{
		Source:           src,
		Downloads:        src,
		Exporter:         exporter,
		Session:          session,
		Ledger:           l,
		Alerts:           notifier,
		Roots:            roots,
		PushWorkers:      cc.Cfg.Sync.PushWorkers,
		ParseAfterPush:   cc.Cfg.Sync.ParseAfterPush,
		ParseBatchSize:   cc.Cfg.Sync.ParseBatchSize,
		DirectExtensions: cc.Cfg.Export.DirectDownloadExtensions,
		MaxArtifactBytes: cc.Cfg.MaxArtifactBytes(),
		NodeURL:          nodeURL(cc.Cfg),
		TriggerURL:       cc.Cfg.Alert.TriggerURL,
		NotifySummary:    cc.Cfg.Alert.NotifySummary,
		Logger:           cc.Logger,
	})
	if err != nil {
		l.Close()

		return nil, err
	}

	return &pipeline{session: session, source: src, ledger: l, notifier: notifier, engine: engine}, nil
}
