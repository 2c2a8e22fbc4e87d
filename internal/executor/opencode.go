package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cloud-shuttle/muster/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// OpenCodeAgent runs phases using the OpenCode CLI
type OpenCodeAgent struct {
	path    string
	timeout time.Duration
	verbose bool
}

// NewOpenCodeAgent creates an OpenCode agent
func NewOpenCodeAgent(path string, timeout time.Duration) *OpenCodeAgent {
	return &OpenCodeAgent{path: path, timeout: timeout}
}

// SetVerbose enables or disables verbose logging
func (a *OpenCodeAgent) SetVerbose(v bool) {
	a.verbose = v
}

// CheckInstalled verifies the opencode binary is reachable
func (a *OpenCodeAgent) CheckInstalled() error {
	if _, err := exec.LookPath(a.path); err != nil {
		return fmt.Errorf("opencode binary not found at %q: %w", a.path, err)
	}
	return nil
}

// Execute runs one phase for one issue via `opencode run`
func (a *OpenCodeAgent) Execute(ctx context.Context, req *Request) *Result {
	_, span := telemetry.StartAgentSpan(ctx, telemetry.AgentTypeOpenCode,
		attribute.String(telemetry.KeyIssueID, req.IssueID),
		attribute.String(telemetry.KeyPhaseName, req.Phase.String()),
	)
	defer span.End()

	execCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, a.path, "run", BuildPrompt(req))
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
			timeoutErr := fmt.Errorf("opencode timed out after %v", duration)
			telemetry.RecordError(span, timeoutErr, telemetry.ErrorCategoryTimeout)
			return &Result{Status: StatusTimeout, Output: fullOutput, Err: timeoutErr, Duration: duration}
		}
		execErr := fmt.Errorf("opencode failed after %v: %w", duration, err)
		telemetry.RecordError(span, execErr, telemetry.ErrorCategoryExecutor)
		return &Result{Status: StatusFailure, Output: fullOutput, Err: execErr, Duration: duration}
	}

	verdict := ParseVerdict(fullOutput)
	telemetry.SetPhaseVerdict(span, string(verdict))

	return &Result{Status: StatusSuccess, Output: fullOutput, Verdict: verdict, Duration: duration}
}
