package executor

import (
	"fmt"
	"strings"

	"github.com/cloud-shuttle/muster/internal/phase"
)

// phaseInstructions maps each phase to the instruction the agent receives.
// Planning-only phases explicitly forbid edits so a misbehaving agent can't
// dirty the orchestrator checkout they run in.
var phaseInstructions = map[phase.Name]string{
	phase.Plan: "Produce an implementation plan for this issue. Identify the files " +
		"to change, the approach, and any risks. Do NOT modify any files.",
	phase.GenerateTests: "Write tests that capture the required behavior for this issue. " +
		"The tests should fail until the implementation lands.",
	phase.Implement: "Implement this issue completely. Make the code changes and get " +
		"the tests passing.",
	phase.UITest: "Exercise the user-facing behavior this issue affects and fix any " +
		"problems you find.",
	phase.Review: "Review the changes made for this issue as a careful reviewer would. " +
		"Report problems; do NOT modify any files.",
	phase.Fix: "Fix the problems described below, making the smallest change that " +
		"resolves them.",
}

// BuildPrompt assembles the per-phase prompt sent to the agent
func BuildPrompt(req *Request) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("Issue: %s\n", req.IssueTitle))
	if req.IssueBody != "" {
		prompt.WriteString(fmt.Sprintf("Description: %s\n", req.IssueBody))
	}

	prompt.WriteString(fmt.Sprintf("\nPhase: %s\n", req.Phase.Display()))
	if instr, ok := phaseInstructions[req.Phase]; ok {
		prompt.WriteString(instr)
		prompt.WriteString("\n")
	}

	if req.FixContext != "" {
		prompt.WriteString("\n=== PREVIOUS FAILURE ===\n")
		prompt.WriteString(req.FixContext)
		prompt.WriteString("\n========================\n")
	}

	prompt.WriteString("\nWhen you are done, end your response with a single line:\n")
	prompt.WriteString("VERDICT: pass | pass-with-notes | needs-external-verification\n")
	prompt.WriteString("Use pass-with-notes for concerns worth recording, and " +
		"needs-external-verification when correctness can only be confirmed " +
		"outside this environment.")

	return prompt.String()
}
