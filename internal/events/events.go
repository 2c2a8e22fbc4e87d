// Package events publishes issue and phase lifecycle events on an
// in-process bus. Delivery is advisory: slow subscribers are skipped, and
// nothing in the orchestration loop ever waits on a consumer.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies a lifecycle event
type Type string

const (
	EventBatchStarted   Type = "batch.started"
	EventBatchCompleted Type = "batch.completed"

	EventIssueStarted Type = "issue.started"
	EventIssueReady   Type = "issue.ready_for_review"
	EventIssueBlocked Type = "issue.blocked"
	EventIssueWaiting Type = "issue.waiting_for_gate"
	EventIssueMerged  Type = "issue.merged"

	EventPhaseStarted   Type = "phase.started"
	EventPhaseCompleted Type = "phase.completed"
	EventPhaseFailed    Type = "phase.failed"

	EventChainRebased  Type = "chain.rebased"
	EventChainConflict Type = "chain.conflict"
	EventCheckpoint    Type = "chain.checkpoint"
)

// Event is one lifecycle occurrence
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	IssueID   string         `json:"issue_id,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// New creates an event stamped with the current time
func New(t Type, runID, issueID string) *Event {
	return &Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		IssueID:   issueID,
	}
}

// WithPhase attaches the phase name
func (e *Event) WithPhase(phase string) *Event {
	e.Phase = phase
	return e
}

// WithData attaches one payload field
func (e *Event) WithData(key string, value any) *Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// Format renders an event as a JSON line
func Format(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

// FormatCompact renders a short human-readable line
func FormatCompact(e *Event) string {
	return fmt.Sprintf("[%s] %s issue=%s phase=%s", e.Timestamp.Format(time.RFC3339), e.Type, e.IssueID, e.Phase)
}
