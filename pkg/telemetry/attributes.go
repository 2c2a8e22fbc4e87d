// Package telemetry provides OpenTelemetry observability for Muster
package telemetry

import "go.opentelemetry.io/otel/attribute"

// Semantic convention keys for Muster-specific attributes
const (
	// Batch attributes
	KeyBatchID   = "muster.batch.id"
	KeyBatchMode = "muster.batch.mode"

	// Issue attributes
	KeyIssueID     = "muster.issue.id"
	KeyIssueTitle  = "muster.issue.title"
	KeyIssueStatus = "muster.issue.status"
	KeyChainPos    = "muster.issue.chain_pos"

	// Phase attributes
	KeyPhaseName      = "muster.phase.name"
	KeyPhaseClass     = "muster.phase.class"
	KeyPhaseIteration = "muster.phase.iteration"
	KeyPhaseVerdict   = "muster.phase.verdict"

	// Workspace attributes
	KeyWorkspacePath   = "muster.workspace.path"
	KeyWorkspaceBranch = "muster.workspace.branch"
	KeyWorkspaceBase   = "muster.workspace.base"

	// Agent attributes
	KeyAgentType = "muster.agent.type"

	// Error attributes
	KeyErrorCategory = "muster.error.category"
)

// Common attribute key values
const (
	// Batch modes
	BatchModeSequential = "sequential"
	BatchModeChain      = "chain"
	BatchModeIsolated   = "isolated"

	// Agent types
	AgentTypeClaudeCode = "claude-code"
	AgentTypeOpenCode   = "opencode"

	// Error categories
	ErrorCategoryExecutor  = "executor"
	ErrorCategoryTimeout   = "timeout"
	ErrorCategoryChain     = "chain"
	ErrorCategoryWorkspace = "workspace"
	ErrorCategoryState     = "state"
	ErrorCategoryUnknown   = "unknown"
)

// IssueAttrs returns a set of attributes for an issue
func IssueAttrs(id, title, status string, chainPos int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyIssueID, id),
		attribute.String(KeyIssueTitle, title),
		attribute.String(KeyIssueStatus, status),
		attribute.Int(KeyChainPos, chainPos),
	}
}

// PhaseAttrs returns a set of attributes for a phase execution
func PhaseAttrs(name, class string, iteration int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyPhaseName, name),
		attribute.String(KeyPhaseClass, class),
		attribute.Int(KeyPhaseIteration, iteration),
	}
}
