package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloud-shuttle/muster/internal/events"
	"github.com/cloud-shuttle/muster/internal/state"
	"github.com/cloud-shuttle/muster/pkg/telemetry"
	"github.com/cloud-shuttle/muster/pkg/types"
)

// ErrNotReady is returned when merge is requested for an issue that has
// not passed all its phases
var ErrNotReady = errors.New("issue is not ready for review")

// MergeIssue merges an issue's branch into the base branch and tears down
// its workspace. The ordering is fixed: merge first, remove second, so a
// failed merge never loses the workspace.
func (o *Orchestrator) MergeIssue(ctx context.Context, issueID string) error {
	_, span := telemetry.StartWorkspaceSpan(ctx, telemetry.SpanWorkspaceTeardown, o.wt.Path(issueID))
	defer span.End()

	run, err := o.store.Get(issueID)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", issueID, err)
	}
	if run.Status == types.IssueStatusMerged {
		log.Printf("⏭️ %s is already merged", issueID)
		return o.teardown(issueID)
	}
	if !run.Status.Successful() {
		return fmt.Errorf("%s is %s: %w", issueID, run.Status, ErrNotReady)
	}

	if err := o.wt.MergeIntoBase(issueID, o.cfg.BaseBranch); err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryWorkspace)
		return err
	}
	log.Printf("🔀 Merged %s into %s", issueID, o.cfg.BaseBranch)

	if err := o.store.Update(issueID, func(run *types.IssueRun) error {
		return run.SetStatus(types.IssueStatusMerged, time.Now().UTC())
	}); err != nil {
		return fmt.Errorf("recording merge of %s: %w", issueID, err)
	}
	_ = o.bus.Publish(events.New(events.EventIssueMerged, "", issueID))

	return o.teardown(issueID)
}

// teardown removes the workspace, trusting the worktree manager's own
// merged check as the final guard
func (o *Orchestrator) teardown(issueID string) error {
	if err := o.wt.Remove(issueID, o.cfg.BaseBranch); err != nil {
		return err
	}
	return o.store.Update(issueID, func(run *types.IssueRun) error {
		run.Workspace = nil
		return nil
	})
}

// AbandonIssue marks an issue abandoned and discards its workspace
// without a merge check
func (o *Orchestrator) AbandonIssue(ctx context.Context, issueID string) error {
	_, span := telemetry.StartWorkspaceSpan(ctx, telemetry.SpanWorkspaceTeardown, o.wt.Path(issueID))
	defer span.End()

	err := o.store.Update(issueID, func(run *types.IssueRun) error {
		return run.SetStatus(types.IssueStatusAbandoned, time.Now().UTC())
	})
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("recording abandonment of %s: %w", issueID, err)
	}

	if err := o.wt.RemoveAbandoned(issueID); err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryWorkspace)
		return err
	}
	log.Printf("🗑️ Abandoned %s", issueID)
	return o.store.Update(issueID, func(run *types.IssueRun) error {
		run.Workspace = nil
		return nil
	})
}
