package workflow

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cloud-shuttle/muster/internal/git"
	"github.com/cloud-shuttle/muster/internal/runlog"
	"github.com/cloud-shuttle/muster/internal/state"
	"github.com/cloud-shuttle/muster/pkg/telemetry"
	"github.com/cloud-shuttle/muster/pkg/types"
)

// StateInit discovers worktrees on disk that the state store does not
// know about and adds entries for them. Existing entries are never
// touched. Returns the IDs that were added.
func StateInit(store *state.Store, wt *git.WorktreeManager) ([]string, error) {
	ids, err := wt.ListWorktreesOnDisk()
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}

	discovered := make([]state.Discovered, 0, len(ids))
	for _, id := range ids {
		ws := types.Workspace{
			Path:   wt.Path(id),
			Branch: git.BranchName(id),
		}
		if tip, err := wt.BranchTip(ws.Branch); err == nil {
			ws.BaseCommit = tip
		}
		discovered = append(discovered, state.Discovered{IssueID: id, Workspace: ws})
	}

	added, err := store.InitEntries(discovered)
	if err != nil {
		return nil, err
	}
	for _, id := range added {
		log.Printf("➕ Tracked existing worktree for %s", id)
	}
	return added, nil
}

// StateRebuild reconstructs the state store from the run logs, the
// append-only ground truth, and reconciles the result against worktrees
// actually on disk. The previous state file is replaced wholesale, so
// callers gate this behind explicit confirmation.
func StateRebuild(ctx context.Context, store *state.Store, wt *git.WorktreeManager, runLogDir string) (int, error) {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanStateRebuild)
	defer span.End()

	records, err := runlog.ReadAll(runLogDir)
	if err != nil {
		return 0, fmt.Errorf("reading run logs: %w", err)
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("no run logs found in %s, nothing to rebuild from", runLogDir)
	}

	runs := runlog.Reconstruct(records)

	// The logs describe what happened; the disk describes what survives.
	// A workspace the logs mention but the disk lacks is dropped from
	// the rebuilt entry.
	for id, run := range runs {
		if run.Workspace == nil {
			continue
		}
		if _, err := os.Stat(run.Workspace.Path); err != nil {
			log.Printf("⚠️ Workspace for %s is gone, clearing its reference", id)
			run.Workspace = nil
		}
	}

	doc := state.NewDocument()
	doc.Issues = runs
	doc.UpdatedAt = time.Now().UTC()
	if err := store.Replace(doc); err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryState)
		return 0, err
	}

	log.Printf("🔁 Rebuilt state for %d issue(s) from %d run log record(s)", len(runs), len(records))
	return len(runs), nil
}

// StateClean removes entries whose workspaces no longer exist on disk.
// Recently-updated entries are spared: a batch may be mid-creation.
func StateClean(store *state.Store, olderThan time.Duration) ([]string, error) {
	removed, err := store.Clean(state.CleanOptions{
		WorkspaceExists: func(run *types.IssueRun) bool {
			if run.Workspace == nil {
				// Active entries without a workspace (planning-only so
				// far) are kept; retired ones age out via OlderThan.
				return !run.Status.Terminal()
			}
			_, err := os.Stat(run.Workspace.Path)
			return err == nil
		},
		OlderThan: olderThan,
	})
	if err != nil {
		return nil, err
	}
	for _, id := range removed {
		log.Printf("🧹 Dropped stale entry for %s", id)
	}
	return removed, nil
}
