package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/docsync/internal/config"
	"github.com/tonimelisma/docsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Export changed documents and push them to their indexes",
		Long: `Run one sync pass over every configured root.

Incremental mode (the default) exports nodes that are new or updated since
their last successful push. Full mode re-exports every eligible node but
still updates existing index documents in place. Nodes updated before
--min-ts (unix seconds) are never synced.

Exits with status 2 when the source session has expired.`,
		RunE: runSync,
	}

	cmd.Flags().String("mode", "", "sync mode: incremental or full (default from config)")
	cmd.Flags().StringSlice("root", nil, "root folder URL or node id (repeatable; replaces configured roots)")
	cmd.Flags().Int64("min-ts", 0, "skip nodes last updated before this unix timestamp (seconds)")
	cmd.Flags().Bool("dry-run", false, "list what would be synced without exporting or pushing")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}

	cleanup, err := lockLedger(cc.Cfg.PIDFilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), logger)

	p, err := newPipeline(ctx, cc)
	if err != nil {
		return err
	}
	defer p.Close(logger)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	go func() {
		if watchErr := p.session.Watch(watchCtx); watchErr != nil {
			logger.Warn("credential file watch unavailable", slog.String("error", watchErr.Error()))
		}
	}()

	mode := sync.ModeIncremental
	if cc.Cfg.Sync.Mode == config.ModeFull {
		mode = sync.ModeFull
	}

	report, runErr := p.engine.Run(ctx, mode, sync.RunOpts{DryRun: dryRun})
	if report != nil {
		if cc.Flags.JSON {
			if err := printReportJSON(os.Stdout, report); err != nil {
				return err
			}
		} else {
			printReport(cc, report)
		}
	}

	if runErr != nil {
		return runErr
	}

	if report.Failed > 0 || report.RootErrors > 0 {
		return fmt.Errorf("sync finished with %d failed node(s) and %d root error(s)", report.Failed, report.RootErrors)
	}

	return nil
}

// reportJSON is the machine-readable form of a run report.
type reportJSON struct {
	RunID        string         `json:"run_id"`
	Mode         string         `json:"mode"`
	DryRun       bool           `json:"dry_run"`
	StartedAt    time.Time      `json:"started_at"`
	DurationMS   int64          `json:"duration_ms"`
	Discovered   int            `json:"discovered"`
	Candidates   int            `json:"candidates"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	Skipped      int            `json:"skipped"`
	NotAttempted int            `json:"not_attempted"`
	Created      int            `json:"created"`
	Updated      int            `json:"updated"`
	RootErrors   int            `json:"root_errors"`
	Parsed       int            `json:"parse_requested"`
	ByType       map[string]int `json:"by_type"`
	Failures     []failureJSON  `json:"failures,omitempty"`
	Aborted      string         `json:"aborted,omitempty"`
}

type failureJSON struct {
	NodeID string `json:"node_id"`
	Name   string `json:"name,omitempty"`
	Stage  string `json:"stage"`
	Error  string `json:"error"`
}

func toReportJSON(r *sync.Report) reportJSON {
	out := reportJSON{
		RunID:        r.RunID,
		Mode:         string(r.Mode),
		DryRun:       r.DryRun,
		StartedAt:    r.StartedAt,
		DurationMS:   r.Duration.Milliseconds(),
		Discovered:   r.Discovered,
		Candidates:   r.Candidates,
		Succeeded:    r.Succeeded,
		Failed:       r.Failed,
		Skipped:      r.Skipped,
		NotAttempted: r.NotAttempted,
		Created:      r.Created,
		Updated:      r.Updated,
		RootErrors:   r.RootErrors,
		Parsed:       r.Parsed,
		ByType:       make(map[string]int, len(r.ByType)),
		Aborted:      r.Aborted,
	}

	for t, n := range r.ByType {
		out.ByType[string(t)] = n
	}

	for _, f := range r.Failures {
		out.Failures = append(out.Failures, failureJSON{NodeID: f.NodeID, Name: f.Name, Stage: f.Stage, Error: f.Err.Error()})
	}

	return out
}

func printReportJSON(w io.Writer, r *sync.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(toReportJSON(r))
}

// printReport writes a human-readable summary to stderr.
func printReport(cc *CLIContext, r *sync.Report) {
	if r.DryRun {
		cc.Statusf("Dry run (%s): %d node(s) discovered, %d would sync, %d skipped\n",
			r.Mode, r.Discovered, r.Candidates, r.Skipped)

		return
	}

	cc.Statusf("Sync %s (%s) finished in %s\n", r.RunID, r.Mode, r.Duration.Round(time.Second))

	if r.Aborted != "" {
		cc.Statusf("  Aborted:       %s\n", r.Aborted)
	}

	cc.Statusf("  Succeeded:     %d (%d created, %d updated)\n", r.Succeeded, r.Created, r.Updated)
	cc.Statusf("  Failed:        %d\n", r.Failed)
	cc.Statusf("  Skipped:       %d\n", r.Skipped)
	cc.Statusf("  Not attempted: %d\n", r.NotAttempted)

	for _, t := range slices.Sorted(maps.Keys(r.ByType)) {
		cc.Statusf("  %-14s %d\n", string(t)+":", r.ByType[t])
	}

	for _, f := range r.Failures {
		name := f.Name
		if name == "" {
			name = f.NodeID
		}

		cc.Statusf("  ! %s [%s]: %v\n", name, f.Stage, f.Err)
	}
}
