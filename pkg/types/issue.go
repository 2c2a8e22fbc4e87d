// Package types defines core data structures for Muster
package types

import "time"

// IssueStatus represents the current state of an issue under orchestration
type IssueStatus string

const (
	IssueStatusNotStarted     IssueStatus = "not_started"
	IssueStatusInProgress     IssueStatus = "in_progress"
	IssueStatusReadyForReview IssueStatus = "ready_for_review"
	IssueStatusMerged         IssueStatus = "merged"
	IssueStatusBlocked        IssueStatus = "blocked"
	IssueStatusAbandoned      IssueStatus = "abandoned"
	IssueStatusWaitingForGate IssueStatus = "waiting_for_gate"
)

// Terminal reports whether the status is a retirement state.
// Retired issues stay in the state file until pruned by age.
func (s IssueStatus) Terminal() bool {
	return s == IssueStatusMerged || s == IssueStatusAbandoned
}

// Successful reports whether the status counts as a passing batch outcome
func (s IssueStatus) Successful() bool {
	return s == IssueStatusReadyForReview || s == IssueStatusMerged
}

// PhaseStatus represents the execution state of a single phase
type PhaseStatus string

const (
	PhaseStatusPending    PhaseStatus = "pending"
	PhaseStatusInProgress PhaseStatus = "in_progress"
	PhaseStatusCompleted  PhaseStatus = "completed"
	PhaseStatusFailed     PhaseStatus = "failed"
	PhaseStatusSkipped    PhaseStatus = "skipped"
	PhaseStatusTimedOut   PhaseStatus = "timed_out"
)

// Done reports whether the phase needs no further execution
func (s PhaseStatus) Done() bool {
	return s == PhaseStatusCompleted || s == PhaseStatusSkipped
}

// Retryable reports whether the phase may re-enter in_progress via the
// quality loop, subject to the iteration cap
func (s PhaseStatus) Retryable() bool {
	return s == PhaseStatusFailed || s == PhaseStatusTimedOut
}

// Verdict is the executor's own classification of a successful phase.
// It is an external contract: the orchestrator records it, never infers it.
type Verdict string

const (
	VerdictPass              Verdict = "pass"
	VerdictPassWithNotes     Verdict = "pass-with-notes"
	VerdictNeedsVerification Verdict = "needs-external-verification"
)

// ForwardProgress reports whether the verdict counts as phase completion.
// Both qualified verdicts advance the phase and do not consume a retry.
func (v Verdict) ForwardProgress() bool {
	switch v {
	case VerdictPass, VerdictPassWithNotes, VerdictNeedsVerification:
		return true
	}
	return false
}

// FailureCategory classifies a terminal issue outcome for the batch summary
type FailureCategory string

const (
	CategoryNone              FailureCategory = ""
	CategoryExecutorFailure   FailureCategory = "executor_failure"
	CategoryExecutorTimeout   FailureCategory = "executor_timeout"
	CategoryChainPrecondition FailureCategory = "chain_precondition"
	CategoryWorkspaceConflict FailureCategory = "workspace_conflict"
	CategoryConfiguration     FailureCategory = "configuration"
	CategoryStateStore        FailureCategory = "state_store"
)

// Workspace describes the isolated branch-backed working copy for one issue
type Workspace struct {
	Path       string `json:"path"`
	Branch     string `json:"branch"`
	BaseRef    string `json:"base_ref"`
	BaseCommit string `json:"base_commit"`
}

// PhaseRecord captures the state of one named phase for one issue.
// Records are append-only by name: a re-run after a fix cycle updates the
// existing record in place rather than appending a duplicate.
type PhaseRecord struct {
	Name         string      `json:"name"`
	Status       PhaseStatus `json:"status"`
	Iterations   int         `json:"iterations"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
	Error        string      `json:"error,omitempty"`
	Verdict      Verdict     `json:"verdict,omitempty"`
	CommitBefore string      `json:"commit_before,omitempty"`
	CommitAfter  string      `json:"commit_after,omitempty"`
}

// IssueRun is the durable record of one issue's progress through the phases
type IssueRun struct {
	ID        string          `json:"id"`
	Title     string          `json:"title,omitempty"`
	Status    IssueStatus     `json:"status"`
	Workspace *Workspace      `json:"workspace,omitempty"`
	ChainPos  *int            `json:"chain_pos,omitempty"`
	Phases    []PhaseRecord   `json:"phases"`
	Category  FailureCategory `json:"category,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	RetiredAt *time.Time      `json:"retired_at,omitempty"`
}

// Phase returns the record for a phase name, or nil if never started
func (r *IssueRun) Phase(name string) *PhaseRecord {
	for i := range r.Phases {
		if r.Phases[i].Name == name {
			return &r.Phases[i]
		}
	}
	return nil
}

// EnsurePhase returns the record for a phase name, appending a pending
// record if none exists yet
func (r *IssueRun) EnsurePhase(name string) *PhaseRecord {
	if p := r.Phase(name); p != nil {
		return p
	}
	r.Phases = append(r.Phases, PhaseRecord{Name: name, Status: PhaseStatusPending})
	return &r.Phases[len(r.Phases)-1]
}

// AllPhasesDone reports whether every phase in the given list is completed
// or skipped, which is the precondition for ready_for_review
func (r *IssueRun) AllPhasesDone(names []string) bool {
	for _, name := range names {
		p := r.Phase(name)
		if p == nil || !p.Status.Done() {
			return false
		}
	}
	return true
}

// BatchSummary aggregates the outcome of one batch invocation
type BatchSummary struct {
	RunID      string                  `json:"run_id"`
	Passed     int                     `json:"passed"`
	Failed     int                     `json:"failed"`
	Waiting    int                     `json:"waiting"`
	Duration   time.Duration           `json:"duration"`
	StartedAt  time.Time               `json:"started_at"`
	Issues     []IssueSummary          `json:"issues"`
	ByCategory map[FailureCategory]int `json:"by_category,omitempty"`
}

// IssueSummary is the per-issue line of the batch summary
type IssueSummary struct {
	IssueID  string          `json:"issue_id"`
	Title    string          `json:"title,omitempty"`
	Status   IssueStatus     `json:"status"`
	Category FailureCategory `json:"category,omitempty"`
	Duration time.Duration   `json:"duration"`
}
