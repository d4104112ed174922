package sync

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	stdsync "sync"
	"time"

	"github.com/tonimelisma/docsync/internal/ledger"
	"github.com/tonimelisma/docsync/internal/source"
)

// Failure stages.
const (
	StageDiscover = "discover"
	StageExport   = "export"
	StageDownload = "download"
	StageVerify   = "verify"
	StagePush     = "push"
	StageParse    = "parse"
)

// NodeFailure records one failed node (or root, at the discover stage).
type NodeFailure struct {
	NodeID string
	Name   string
	Stage  string
	Err    error
}

// Report summarizes one run. Counters are safe to update from push workers
// through the report's methods.
type Report struct {
	RunID     string
	Mode      Mode
	DryRun    bool
	StartedAt time.Time
	Duration  time.Duration

	Discovered   int
	Candidates   int
	Succeeded    int
	Failed       int
	Skipped      int
	NotAttempted int
	Created      int
	Updated      int
	RootErrors   int
	Parsed       int

	// ByType counts successful nodes by source type.
	ByType   map[source.NodeType]int
	Failures []NodeFailure

	// Aborted is empty for a completed run, otherwise the reason it stopped.
	Aborted string

	mu stdsync.Mutex
}

func newReport(runID string, mode Mode, dryRun bool, start time.Time) *Report {
	return &Report{
		RunID:     runID,
		Mode:      mode,
		DryRun:    dryRun,
		StartedAt: start,
		ByType:    make(map[source.NodeType]int),
	}
}

func (r *Report) recordSuccess(t source.NodeType, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Succeeded++
	r.ByType[t]++

	if created {
		r.Created++
	} else {
		r.Updated++
	}
}

func (r *Report) recordFailure(n *source.Node, stage string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Failed++
	r.Failures = append(r.Failures, NodeFailure{NodeID: n.ID, Name: n.Name, Stage: stage, Err: err})
}

func (r *Report) recordRootError(ref string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.RootErrors++
	r.Failures = append(r.Failures, NodeFailure{NodeID: ref, Stage: StageDiscover, Err: err})
}

func (r *Report) addNotAttempted(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.NotAttempted += n
}

func (r *Report) addParsed(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Parsed += n
}

// Summary converts the report to the ledger's persisted run summary.
func (r *Report) Summary() ledger.RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	return ledger.RunSummary{
		Mode:         r.Mode,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.StartedAt.Add(r.Duration),
		Succeeded:    r.Succeeded,
		Failed:       r.Failed,
		Skipped:      r.Skipped,
		NotAttempted: r.NotAttempted,
		Created:      r.Created,
		Updated:      r.Updated,
		Aborted:      r.Aborted,
	}
}

// Markdown renders the report for the alert channel.
func (r *Report) Markdown(roots []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder

	b.WriteString("#### Document sync report\n\n")
	fmt.Fprintf(&b, "**Run**: %s (%s)\n\n", r.RunID, r.Mode)
	fmt.Fprintf(&b, "**Started**: %s, took %s\n\n", r.StartedAt.Format(time.DateTime), r.Duration.Round(time.Second))

	if r.Aborted != "" {
		fmt.Fprintf(&b, "**Aborted**: %s\n\n", r.Aborted)
	}

	b.WriteString("---\n\n##### Roots\n")

	for i, root := range roots {
		if len(root) > 80 {
			root = root[:77] + "..."
		}

		fmt.Fprintf(&b, "%d. `%s`\n", i+1, root)
	}

	b.WriteString("\n##### Results\n")
	fmt.Fprintf(&b, "- **Succeeded**: %d\n", r.Succeeded)
	fmt.Fprintf(&b, "- **Failed**: %d\n", r.Failed)
	fmt.Fprintf(&b, "- **Skipped**: %d\n", r.Skipped)
	fmt.Fprintf(&b, "- **Not attempted**: %d\n", r.NotAttempted)

	if r.RootErrors > 0 {
		fmt.Fprintf(&b, "- **Root errors**: %d\n", r.RootErrors)
	}

	b.WriteString("\n##### Operations\n")
	fmt.Fprintf(&b, "- **Created**: %d\n", r.Created)
	fmt.Fprintf(&b, "- **Updated**: %d\n", r.Updated)
	fmt.Fprintf(&b, "- **Parse requested**: %d\n", r.Parsed)

	if len(r.ByType) > 0 {
		b.WriteString("\n##### By type\n")

		for _, t := range slices.Sorted(maps.Keys(r.ByType)) {
			fmt.Fprintf(&b, "- %s: %d\n", t, r.ByType[t])
		}
	}

	return b.String()
}
