// Package loop runs one phase to conclusion through bounded fix-and-retry
// cycles. A failing phase gets a fix cycle carrying the failure output,
// then a re-run, up to the iteration cap for the phase's class.
package loop

import (
	"context"
	"log"

	"github.com/cloud-shuttle/muster/internal/executor"
	"github.com/cloud-shuttle/muster/internal/phase"
	"github.com/cloud-shuttle/muster/pkg/types"
)

// Outcome is the terminal result of driving one phase through the loop
type Outcome struct {
	// Status is completed, failed, or timed_out
	Status types.PhaseStatus

	// Verdict is set when Status is completed
	Verdict types.Verdict

	// Iterations is the number of fix-and-retry cycles consumed. A clean
	// first pass is 0; never exceeds the class cap.
	Iterations int

	// Err and Output carry the last attempt's failure detail
	Err    error
	Output string
}

// Hooks lets the orchestrator observe each attempt for run logging
type Hooks struct {
	OnAttemptStart func(ph phase.Name, iteration int)
	OnAttemptEnd   func(ph phase.Name, iteration int, res *executor.Result)
}

// Controller drives a phase through the quality loop
type Controller struct {
	agent   executor.Agent
	caps    phase.IterationCaps
	enabled bool
	hooks   Hooks
}

// New creates a controller. When enabled is false every phase gets exactly
// one attempt and failures surface immediately.
func New(agent executor.Agent, caps phase.IterationCaps, enabled bool) *Controller {
	return &Controller{agent: agent, caps: caps, enabled: enabled}
}

// SetHooks installs attempt observers
func (c *Controller) SetHooks(h Hooks) {
	c.hooks = h
}

// Run executes req's phase, interleaving fix cycles on failure until the
// phase succeeds or the class cap is exhausted. The iteration count is
// reported regardless of outcome.
func (c *Controller) Run(ctx context.Context, req *executor.Request) *Outcome {
	maxIter := c.caps.For(req.Phase)
	if !c.enabled {
		maxIter = 0
	}

	attempt := func(iteration int, fixContext string) *executor.Result {
		r := *req
		r.FixContext = fixContext
		if c.hooks.OnAttemptStart != nil {
			c.hooks.OnAttemptStart(req.Phase, iteration)
		}
		res := c.agent.Execute(ctx, &r)
		if c.hooks.OnAttemptEnd != nil {
			c.hooks.OnAttemptEnd(req.Phase, iteration, res)
		}
		return res
	}

	res := attempt(0, req.FixContext)

	iteration := 0
	for res.Failed() && iteration < maxIter {
		if ctx.Err() != nil {
			break
		}
		log.Printf("🔄 %s failed for %s, fix cycle %d/%d", req.Phase.Display(), req.IssueID, iteration+1, maxIter)

		fixReq := *req
		fixReq.Phase = phase.Fix
		fixReq.FixContext = failureContext(res)
		if c.hooks.OnAttemptStart != nil {
			c.hooks.OnAttemptStart(phase.Fix, iteration+1)
		}
		fixRes := c.agent.Execute(ctx, &fixReq)
		if c.hooks.OnAttemptEnd != nil {
			c.hooks.OnAttemptEnd(phase.Fix, iteration+1, fixRes)
		}
		if fixRes.Failed() {
			log.Printf("⚠️ Fix cycle itself failed for %s: %v", req.IssueID, fixRes.Err)
		}

		iteration++
		res = attempt(iteration, failureContext(res))
	}

	out := &Outcome{Iterations: iteration}
	switch {
	case res.Status == executor.StatusTimeout:
		out.Status = types.PhaseStatusTimedOut
		out.Err = res.Err
		out.Output = res.Output
	case res.Failed():
		out.Status = types.PhaseStatusFailed
		out.Err = res.Err
		out.Output = res.Output
	default:
		out.Status = types.PhaseStatusCompleted
		out.Verdict = res.Verdict
		out.Output = res.Output
	}
	return out
}

// failureContext flattens a failed result into prompt context for the fix
// cycle and the retry
func failureContext(res *executor.Result) string {
	if res.Err != nil && res.Output != "" {
		return res.Err.Error() + "\n\n" + res.Output
	}
	if res.Err != nil {
		return res.Err.Error()
	}
	return res.Output
}
