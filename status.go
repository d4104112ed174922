package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/docsync/internal/config"
	"github.com/tonimelisma/docsync/internal/ledger"
	"github.com/tonimelisma/docsync/internal/source"
)

// Session state constants for status reporting.
const (
	sessionStateValid   = "valid"
	sessionStateExpired = "expired"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ledger contents, last runs and session state",
		Long: `Display the sync ledger: how many nodes are recorded, when the last full
and incremental runs completed, the outcome of the last run, and any saved
traversal cursors. Also reports whether a run is in progress and whether
the source session credential is usable. Makes no network calls.`,
		RunE: runStatus,
	}

	cmd.Flags().Bool("records", false, "list every ledger record")

	return cmd
}

// statusOutput is the JSON form of status.
type statusOutput struct {
	LedgerBackend       string             `json:"ledger_backend"`
	LedgerDir           string             `json:"ledger_dir"`
	LedgerBytes         int64              `json:"ledger_bytes"`
	Records             int                `json:"records"`
	LastFullSync        *time.Time         `json:"last_full_sync,omitempty"`
	LastIncrementalSync *time.Time         `json:"last_incremental_sync,omitempty"`
	LastRunID           string             `json:"last_run_id,omitempty"`
	LastRun             *ledger.RunSummary `json:"last_run,omitempty"`
	Cursors             map[string]string  `json:"cursors,omitempty"`
	RunningPID          int                `json:"running_pid,omitempty"`
	Session             string             `json:"session"`
	RecordList          []ledger.Record    `json:"record_list,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	withRecords, err := cmd.Flags().GetBool("records")
	if err != nil {
		return err
	}

	l, err := openLedger(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer l.Close()

	out := buildStatus(cc.Cfg, l, source.NewSession(cc.Cfg.CredentialPath(), cc.Logger).IsValid(), withRecords)

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	printStatus(os.Stdout, out, isTerminal(os.Stdout))

	return nil
}

func buildStatus(cfg *config.Config, l *ledger.Ledger, sessionValid, withRecords bool) statusOutput {
	st := l.State()

	out := statusOutput{
		LedgerBackend: cfg.Ledger.Backend,
		LedgerDir:     cfg.LedgerDir(),
		LedgerBytes:   ledgerSize(cfg),
		Records:       l.Len(),
		LastRunID:     st.LastRunID,
		LastRun:       st.LastRunSummary,
		Cursors:       st.Cursors,
		RunningPID:    runningPID(cfg.PIDFilePath()),
		Session:       sessionStateExpired,
	}

	if !st.LastFullSync.IsZero() {
		out.LastFullSync = &st.LastFullSync
	}

	if !st.LastIncrementalSync.IsZero() {
		out.LastIncrementalSync = &st.LastIncrementalSync
	}

	if sessionValid {
		out.Session = sessionStateValid
	}

	if withRecords {
		out.RecordList = l.Records()
	}

	return out
}

// ledgerSize sums the backend's files on disk.
func ledgerSize(cfg *config.Config) int64 {
	var names []string

	switch cfg.Ledger.Backend {
	case ledger.BackendJSON:
		names = []string{ledger.RecordsFileName, ledger.StateFileName}
	default:
		names = []string{ledger.DatabaseFileName, ledger.DatabaseFileName + "-wal"}
	}

	var total int64

	for _, n := range names {
		if fi, err := os.Stat(filepath.Join(cfg.LedgerDir(), n)); err == nil {
			total += fi.Size()
		}
	}

	return total
}

func optTime(t *time.Time) string {
	if t == nil {
		return formatTime(time.Time{})
	}

	return formatTime(*t)
}

func printStatus(w io.Writer, s statusOutput, tty bool) {
	fmt.Fprintf(w, "Ledger:           %s (%s, %s)\n", s.LedgerDir, s.LedgerBackend, formatSize(s.LedgerBytes))
	fmt.Fprintf(w, "Records:          %d\n", s.Records)
	fmt.Fprintf(w, "Last full:        %s\n", optTime(s.LastFullSync))
	fmt.Fprintf(w, "Last incremental: %s\n", optTime(s.LastIncrementalSync))
	fmt.Fprintf(w, "Session:          %s\n", s.Session)

	if s.RunningPID != 0 {
		fmt.Fprintf(w, "Running:          pid %d\n", s.RunningPID)
	}

	if s.LastRun != nil {
		r := s.LastRun
		outcome := "completed"

		if r.Aborted != "" {
			outcome = "aborted: " + r.Aborted
		}

		fmt.Fprintf(w, "Last run:         %s %s at %s, %s\n", s.LastRunID, r.Mode, formatTime(r.FinishedAt), outcome)
		fmt.Fprintf(w, "                  %d succeeded, %d failed, %d skipped, %d not attempted\n",
			r.Succeeded, r.Failed, r.Skipped, r.NotAttempted)
	}

	for _, root := range slices.Sorted(maps.Keys(s.Cursors)) {
		fmt.Fprintf(w, "Cursor:           %s -> %s\n", root, s.Cursors[root])
	}

	if len(s.RecordList) == 0 {
		return
	}

	headers := []string{"node", "dataset", "doc", "updated", "synced", "name"}
	rows := make([][]string, 0, len(s.RecordList))

	for _, r := range s.RecordList {
		rows = append(rows, []string{
			r.NodeID,
			r.DestinationDatasetID,
			r.DestinationDocID,
			strconv.FormatInt(r.SourceUpdatedAt, 10),
			formatTime(r.LastSyncedAt),
			r.Name,
		})
	}

	fmt.Fprintln(w)

	if tty {
		printTable(w, headers, rows)

		return
	}

	printKV(w, headers, rows)
}
