package workflow

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloud-shuttle/muster/internal/phase"
	"github.com/cloud-shuttle/muster/pkg/types"
)

// Exit codes for the batch command
const (
	ExitOK     = 0 // every issue passed
	ExitFailed = 1 // at least one issue blocked or waiting
	ExitConfig = 2 // invalid flags or configuration
	ExitInfra  = 3 // infrastructure failure (state store, run log, git plumbing)
)

// ExitCode maps a batch outcome to the process exit code
func ExitCode(summary *types.BatchSummary, err error) int {
	if err != nil {
		if errors.Is(err, ErrConfig) {
			return ExitConfig
		}
		return ExitInfra
	}
	if summary == nil {
		return ExitInfra
	}
	if summary.Failed > 0 || summary.Waiting > 0 {
		return ExitFailed
	}
	return ExitOK
}

// dryRun reports what the batch would do without touching the agent, the
// state store, or any workspace
func (o *Orchestrator) dryRun(issues []Issue, start time.Time) *types.BatchSummary {
	summary := &types.BatchSummary{StartedAt: start}
	fmt.Println("🔍 Dry run: no phases will execute")
	fmt.Printf("   Mode: %s, quality loop: %v\n", o.opts.Mode(), o.opts.QualityLoop)
	fmt.Printf("   Phases: %v\n", phase.Strings(o.opts.Phases))
	for i, issue := range issues {
		base := o.cfg.BaseBranch
		if o.chain != nil && i > 0 {
			base = fmt.Sprintf("tip of %s", issues[i-1].ID)
		}
		fmt.Printf("   %d. %s (%s) based on %s\n", i+1, issue.ID, issue.Title, base)
		summary.Issues = append(summary.Issues, types.IssueSummary{IssueID: issue.ID, Title: issue.Title,
			Status: types.IssueStatusNotStarted})
	}
	summary.Duration = time.Since(start)
	return summary
}

// PrintSummary writes the human-readable batch report
func PrintSummary(w io.Writer, summary *types.BatchSummary) {
	fmt.Fprintf(w, "\n📊 Batch %s finished in %s\n", summary.RunID, summary.Duration.Round(time.Second))
	fmt.Fprintf(w, "   ✅ %d passed   ❌ %d failed   ⏸️ %d waiting\n", summary.Passed, summary.Failed, summary.Waiting)
	for _, is := range summary.Issues {
		line := fmt.Sprintf("   %s %s", statusGlyph(is.Status), is.IssueID)
		if is.Title != "" {
			line += fmt.Sprintf(" (%s)", is.Title)
		}
		line += fmt.Sprintf(": %s", is.Status)
		if is.Category != types.CategoryNone {
			line += fmt.Sprintf(" [%s]", is.Category)
		}
		fmt.Fprintln(w, line)
	}
	if len(summary.ByCategory) > 0 {
		fmt.Fprintln(w, "   Failures by category:")
		for cat, n := range summary.ByCategory {
			fmt.Fprintf(w, "     %s: %d\n", cat, n)
		}
	}
}

func statusGlyph(s types.IssueStatus) string {
	switch s {
	case types.IssueStatusReadyForReview, types.IssueStatusMerged:
		return "✅"
	case types.IssueStatusWaitingForGate:
		return "⏸️"
	case types.IssueStatusBlocked:
		return "🚫"
	default:
		return "•"
	}
}
