package types

import (
	"fmt"
	"time"
)

// phaseNext enumerates the legal phase status transitions. failed and
// timed_out may re-enter in_progress, but only the quality loop decides
// whether the iteration budget allows it.
var phaseNext = map[PhaseStatus][]PhaseStatus{
	PhaseStatusPending:    {PhaseStatusInProgress, PhaseStatusSkipped},
	PhaseStatusInProgress: {PhaseStatusCompleted, PhaseStatusFailed, PhaseStatusTimedOut, PhaseStatusSkipped},
	PhaseStatusFailed:     {PhaseStatusInProgress},
	PhaseStatusTimedOut:   {PhaseStatusInProgress},
}

// CanTransition reports whether a phase status change is legal
func (s PhaseStatus) CanTransition(to PhaseStatus) bool {
	for _, next := range phaseNext[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Begin moves the phase into in_progress, stamping the start time.
// Returns an error for any transition the state machine forbids.
func (p *PhaseRecord) Begin(now time.Time) error {
	if !p.Status.CanTransition(PhaseStatusInProgress) {
		return fmt.Errorf("phase %s: illegal transition %s -> %s", p.Name, p.Status, PhaseStatusInProgress)
	}
	p.Status = PhaseStatusInProgress
	p.StartedAt = &now
	p.EndedAt = nil
	p.Error = ""
	return nil
}

// Finish moves the phase into a terminal status, stamping the end time.
// errMsg is recorded only for failed/timed_out.
func (p *PhaseRecord) Finish(to PhaseStatus, errMsg string, now time.Time) error {
	if !p.Status.CanTransition(to) {
		return fmt.Errorf("phase %s: illegal transition %s -> %s", p.Name, p.Status, to)
	}
	p.Status = to
	p.EndedAt = &now
	if to == PhaseStatusFailed || to == PhaseStatusTimedOut {
		p.Error = errMsg
	} else {
		p.Error = ""
	}
	return nil
}

// issueRank orders issue statuses for the monotonic-advance check.
// blocked, in_progress, and waiting_for_gate share a rank: those are the
// legal back-and-forths (retry after block, pause and resume at a gate).
// Once an issue reaches ready_for_review it never goes backwards.
var issueRank = map[IssueStatus]int{
	IssueStatusNotStarted:     0,
	IssueStatusWaitingForGate: 2,
	IssueStatusInProgress:     2,
	IssueStatusBlocked:        2,
	IssueStatusReadyForReview: 3,
	IssueStatusMerged:         4,
	IssueStatusAbandoned:      4,
}

// CanAdvance reports whether an issue status change respects the
// monotonic lifecycle
func (s IssueStatus) CanAdvance(to IssueStatus) bool {
	if s == to {
		return true
	}
	if s.Terminal() {
		return false
	}
	return issueRank[to] >= issueRank[s]
}

// SetStatus advances the issue status, refusing regressions
func (r *IssueRun) SetStatus(to IssueStatus, now time.Time) error {
	if !r.Status.CanAdvance(to) {
		return fmt.Errorf("issue %s: illegal transition %s -> %s", r.ID, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	if to.Terminal() && r.RetiredAt == nil {
		r.RetiredAt = &now
	}
	return nil
}
