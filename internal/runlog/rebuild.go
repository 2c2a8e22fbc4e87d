package runlog

import (
	"github.com/cloud-shuttle/muster/pkg/types"
)

// Reconstruct replays run log records into issue run records. Records are
// expected oldest-first (ReadAll's order); later records win, so the result
// reflects the last observed state of each issue and phase.
func Reconstruct(records []Record) map[string]*types.IssueRun {
	issues := make(map[string]*types.IssueRun)

	ensure := func(rec Record) *types.IssueRun {
		run, ok := issues[rec.IssueID]
		if !ok {
			run = &types.IssueRun{
				ID:        rec.IssueID,
				Status:    types.IssueStatusInProgress,
				CreatedAt: rec.Time,
			}
			issues[rec.IssueID] = run
		}
		if rec.IssueTitle != "" {
			run.Title = rec.IssueTitle
		}
		if rec.Workspace != nil {
			ws := *rec.Workspace
			run.Workspace = &ws
		}
		if rec.Time.After(run.UpdatedAt) {
			run.UpdatedAt = rec.Time
		}
		return run
	}

	for _, rec := range records {
		switch rec.Kind {
		case KindPhaseStart:
			run := ensure(rec)
			p := run.EnsurePhase(rec.Phase)
			p.Status = types.PhaseStatusInProgress
			p.Iterations = rec.Iteration
			t := rec.Time
			if p.StartedAt == nil {
				p.StartedAt = &t
			}
			if rec.CommitBefore != "" {
				p.CommitBefore = rec.CommitBefore
			}

		case KindPhaseEnd:
			run := ensure(rec)
			p := run.EnsurePhase(rec.Phase)
			p.Status = rec.PhaseStatus
			if rec.Iteration > p.Iterations {
				p.Iterations = rec.Iteration
			}
			t := rec.Time
			p.EndedAt = &t
			p.Verdict = rec.Verdict
			p.Error = rec.Error
			if rec.CommitAfter != "" {
				p.CommitAfter = rec.CommitAfter
			}

		case KindIssueEnd:
			run := ensure(rec)
			run.Status = rec.IssueStatus
			run.Category = rec.Category
			if run.Status.Terminal() {
				t := rec.Time
				run.RetiredAt = &t
			}
		}
	}

	return issues
}
