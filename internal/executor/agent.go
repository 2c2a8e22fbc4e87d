// Package executor provides the phase-executor capability interface and its
// agent implementations. The orchestrator only ever sees this interface, so
// tests inject deterministic doubles instead of a live agent.
package executor

import (
	"context"
	"time"

	"github.com/cloud-shuttle/muster/internal/phase"
	"github.com/cloud-shuttle/muster/pkg/types"
)

// Status is the executor-reported outcome of one phase invocation
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
)

// Request describes one phase execution for one issue. The orchestrator
// passes nothing the executor doesn't need: workspace path, issue identity,
// and prior failure context on retry.
type Request struct {
	IssueID    string
	IssueTitle string
	IssueBody  string
	Phase      phase.Name

	// WorkspacePath is where the agent runs. Empty for planning-only
	// phases, which execute against the orchestrator's own checkout.
	WorkspacePath string

	// FixContext carries the failing phase's error output when this
	// request is a fix cycle or a retry after one.
	FixContext string
}

// Result is the outcome of one phase invocation
type Result struct {
	Status   Status
	Output   string
	Verdict  types.Verdict // classification by the executor itself
	Err      error
	Duration time.Duration
}

// Failed reports whether the result should enter the quality loop.
// Timeouts are a failure variant: distinguished in logs, identical for
// retry purposes.
func (r *Result) Failed() bool {
	return r.Status == StatusFailure || r.Status == StatusTimeout
}

// Agent is the capability interface all phase executors implement
type Agent interface {
	// Execute runs one phase for one issue in one workspace
	Execute(ctx context.Context, req *Request) *Result

	// CheckInstalled verifies the agent binary is available
	CheckInstalled() error

	// SetVerbose enables or disables verbose logging
	SetVerbose(bool)
}

// Config contains configuration for creating an agent
type Config struct {
	// Type is the agent type: "claude" or "opencode"
	Type string

	// Path is the path to the agent binary
	Path string

	// Timeout is the per-phase execution deadline
	Timeout time.Duration
}
