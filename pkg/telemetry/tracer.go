// Package telemetry provides OpenTelemetry observability for Muster
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the global tracer for Muster
var tracer = otel.Tracer("muster")

// Span names for Muster operations
const (
	// Batch spans
	SpanBatchRun = "muster.batch.run"

	// Issue spans
	SpanIssueRun      = "muster.issue.run"
	SpanIssueComplete = "muster.issue.complete"
	SpanIssueBlock    = "muster.issue.block"

	// Phase spans
	SpanPhaseExecute = "muster.phase.execute"
	SpanPhaseRetry   = "muster.phase.retry"
	SpanPhaseFix     = "muster.phase.fix"

	// Chain spans
	SpanChainAdvance    = "muster.chain.advance"
	SpanChainRebase     = "muster.chain.rebase"
	SpanChainCheckpoint = "muster.chain.checkpoint"

	// Workspace spans
	SpanWorkspaceCreate   = "muster.workspace.create"
	SpanWorkspaceTeardown = "muster.workspace.teardown"

	// Agent spans
	SpanAgentExecute = "muster.agent.execute"

	// State store spans
	SpanStateUpdate  = "muster.state.update"
	SpanStateRebuild = "muster.state.rebuild"
)

// StartBatchSpan starts a span for a batch invocation
func StartBatchSpan(ctx context.Context, batchID, mode string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String(KeyBatchID, batchID),
		attribute.String(KeyBatchMode, mode),
	)
	return tracer.Start(ctx, SpanBatchRun, trace.WithAttributes(attrs...))
}

// StartSpan starts a plain named span
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartIssueSpan starts a span for an issue operation with issue attributes
func StartIssueSpan(ctx context.Context, name string, issueAttrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(issueAttrs...))
}

// StartPhaseSpan starts a span for one phase execution
func StartPhaseSpan(ctx context.Context, name string, phaseAttrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(phaseAttrs...))
}

// StartAgentSpan starts a span for agent execution
func StartAgentSpan(ctx context.Context, agentType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(KeyAgentType, agentType))
	return tracer.Start(ctx, SpanAgentExecute, trace.WithAttributes(attrs...))
}

// StartWorkspaceSpan starts a span for workspace operations
func StartWorkspaceSpan(ctx context.Context, name, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(KeyWorkspacePath, path))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError records an error on a span with an error category
func RecordError(span trace.Span, err error, category string) {
	if err == nil {
		return
	}
	span.RecordError(err, trace.WithAttributes(
		attribute.String(KeyErrorCategory, category),
	))
	span.SetStatus(codes.Error, err.Error())
}

// SetIssueStatus sets the issue status as a span attribute
func SetIssueStatus(span trace.Span, status string) {
	span.SetAttributes(attribute.String(KeyIssueStatus, status))
}

// SetPhaseVerdict sets the executor verdict as a span attribute
func SetPhaseVerdict(span trace.Span, verdict string) {
	span.SetAttributes(attribute.String(KeyPhaseVerdict, verdict))
}

// GetTraceID returns the trace ID from context if available
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
