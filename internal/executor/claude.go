// Package executor handles agent subprocess execution
package executor

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cloud-shuttle/muster/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ClaudeAgent runs phases using the Claude Code CLI
type ClaudeAgent struct {
	path    string
	timeout time.Duration
	verbose bool
}

// NewClaudeAgent creates a Claude Code agent
func NewClaudeAgent(path string, timeout time.Duration) *ClaudeAgent {
	return &ClaudeAgent{path: path, timeout: timeout}
}

// New creates an agent from config
func New(cfg Config) (Agent, error) {
	switch cfg.Type {
	case "", "claude":
		return NewClaudeAgent(cfg.Path, cfg.Timeout), nil
	case "opencode":
		return NewOpenCodeAgent(cfg.Path, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown agent type %q", cfg.Type)
	}
}

// SetVerbose enables or disables verbose logging
func (a *ClaudeAgent) SetVerbose(v bool) {
	a.verbose = v
}

// CheckInstalled verifies the claude binary is reachable
func (a *ClaudeAgent) CheckInstalled() error {
	if _, err := exec.LookPath(a.path); err != nil {
		return fmt.Errorf("claude binary not found at %q: %w", a.path, err)
	}
	return nil
}

// Execute runs one phase for one issue and classifies the outcome
func (a *ClaudeAgent) Execute(ctx context.Context, req *Request) *Result {
	agentCtx, span := telemetry.StartAgentSpan(ctx, telemetry.AgentTypeClaudeCode,
		attribute.String(telemetry.KeyIssueID, req.IssueID),
		attribute.String(telemetry.KeyPhaseName, req.Phase.String()),
	)
	defer span.End()
	_ = agentCtx

	execCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	prompt := BuildPrompt(req)
	if a.verbose {
		log.Printf("🤖 Sending %s prompt for %s (%d chars)", req.Phase, req.IssueID, len(prompt))
	}

	// -p for non-interactive print mode; skip permission prompts so the
	// subprocess never hangs waiting for input
	cmd := exec.CommandContext(execCtx, a.path, "-p", prompt, "--dangerously-skip-permissions")
	if req.WorkspacePath != "" {
		cmd.Dir = req.WorkspacePath
	}

	var outputBuf, errBuf strings.Builder
	cmd.Stdout = io.MultiWriter(os.Stdout, &outputBuf)
	cmd.Stderr = io.MultiWriter(os.Stderr, &errBuf)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)
	fullOutput := outputBuf.String() + errBuf.String()

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			timeoutErr := fmt.Errorf("claude timed out after %v", duration)
			telemetry.RecordError(span, timeoutErr, telemetry.ErrorCategoryTimeout)
			return &Result{
				Status:   StatusTimeout,
				Output:   fullOutput,
				Err:      timeoutErr,
				Duration: duration,
			}
		}
		execErr := fmt.Errorf("claude failed after %v: %w", duration, err)
		telemetry.RecordError(span, execErr, telemetry.ErrorCategoryExecutor)
		return &Result{
			Status:   StatusFailure,
			Output:   fullOutput,
			Err:      execErr,
			Duration: duration,
		}
	}

	verdict := ParseVerdict(fullOutput)
	telemetry.SetPhaseVerdict(span, string(verdict))

	if a.verbose {
		log.Printf("✅ %s completed for %s in %v (verdict: %s)", req.Phase.Display(), req.IssueID, duration, verdict)
	}

	return &Result{
		Status:   StatusSuccess,
		Output:   fullOutput,
		Verdict:  verdict,
		Duration: duration,
	}
}
