// Package git handles branch-backed worktree isolation for issue execution
package git

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cloud-shuttle/muster/pkg/types"
)

// ErrRebaseConflict is returned when rebasing a workspace onto an advanced
// base hits a conflict. The rebase is aborted and the workspace is left in
// its prior state; the caller decides how to surface the condition.
var ErrRebaseConflict = errors.New("rebase conflict")

// ErrNotMerged is returned when teardown is requested for a workspace whose
// branch has not been confirmed merged into its target.
var ErrNotMerged = errors.New("branch not merged into target")

// WorktreeManager creates and manages git worktrees, one per issue
type WorktreeManager struct {
	baseDir     string // Base repository directory
	worktreeDir string // Where worktrees are created (.muster/worktrees)
	verbose     bool   // Enable verbose logging
}

// NewWorktreeManager creates a new worktree manager
func NewWorktreeManager(baseDir, worktreeDir string) *WorktreeManager {
	return &WorktreeManager{
		baseDir:     baseDir,
		worktreeDir: worktreeDir,
	}
}

// SetVerbose enables or disables verbose logging
func (wm *WorktreeManager) SetVerbose(v bool) {
	wm.verbose = v
}

// BranchName returns the branch name for an issue
func BranchName(issueID string) string {
	return "muster/" + issueID
}

// CheckpointRef returns the checkpoint tag name for an issue. Checkpoints
// give chain resumes a stable rebase target even if local branches are
// later rewritten.
func CheckpointRef(issueID string) string {
	return "muster/checkpoint/" + issueID
}

// Path returns the worktree path for an issue
func (wm *WorktreeManager) Path(issueID string) string {
	return filepath.Join(wm.worktreeDir, issueID)
}

// Exists reports whether a worktree for the issue is already materialized
// on disk and registered with git
func (wm *WorktreeManager) Exists(issueID string) bool {
	wtPath := wm.Path(issueID)
	if _, err := os.Stat(wtPath); err != nil {
		return false
	}
	out, err := wm.git(wm.baseDir, "worktree", "list", "--porcelain")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimPrefix(line, "worktree ") == wtPath && strings.HasPrefix(line, "worktree ") {
			return true
		}
	}
	return false
}

// Create materializes a worktree for an issue rooted at baseRef.
// If a workspace for the issue already exists it is reused as-is,
// preserving in-progress edits; the returned workspace then reflects the
// existing branch rather than a fresh one.
func (wm *WorktreeManager) Create(issueID, baseRef string) (*types.Workspace, error) {
	branch := BranchName(issueID)
	wtPath := wm.Path(issueID)

	if wm.Exists(issueID) {
		if wm.verbose {
			log.Printf("♻️  Reusing existing worktree for %s at %s", issueID, wtPath)
		}
		base, _ := wm.mergeBase(branch, baseRef)
		return &types.Workspace{
			Path:       wtPath,
			Branch:     branch,
			BaseRef:    baseRef,
			BaseCommit: base,
		}, nil
	}

	if err := os.MkdirAll(wm.worktreeDir, 0755); err != nil {
		return nil, fmt.Errorf("creating worktree directory: %w", err)
	}

	// Pull the latest base before branching. The remote may not exist in
	// tests or offline runs, so a fetch failure is not fatal.
	if remote, ref, ok := splitRemoteRef(baseRef); ok {
		if _, err := wm.git(wm.baseDir, "fetch", remote, ref); err != nil && wm.verbose {
			log.Printf("⚠️  Fetch %s failed, using local ref: %v", baseRef, err)
		}
	}

	baseCommit, err := wm.RevParse(baseRef)
	if err != nil {
		return nil, fmt.Errorf("resolving base ref %s: %w", baseRef, err)
	}

	// Stale registrations from interrupted runs block worktree add
	_, _ = wm.git(wm.baseDir, "worktree", "prune")

	if out, err := wm.git(wm.baseDir, "worktree", "add", "-b", branch, wtPath, baseCommit); err != nil {
		return nil, fmt.Errorf("git worktree add: %s: %w", out, err)
	}

	if wm.verbose {
		log.Printf("🌱 Created worktree for %s at %s (base %s = %s)", issueID, wtPath, baseRef, short(baseCommit))
	}

	return &types.Workspace{
		Path:       wtPath,
		Branch:     branch,
		BaseRef:    baseRef,
		BaseCommit: baseCommit,
	}, nil
}

// RevParse resolves a ref to a commit hash
func (wm *WorktreeManager) RevParse(ref string) (string, error) {
	out, err := wm.git(wm.baseDir, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("rev-parse %s: %w", ref, err)
	}
	return strings.TrimSpace(out), nil
}

// HeadCommit returns the current commit of an issue's workspace
func (wm *WorktreeManager) HeadCommit(issueID string) (string, error) {
	out, err := wm.git(wm.Path(issueID), "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("reading HEAD of %s: %w", issueID, err)
	}
	return strings.TrimSpace(out), nil
}

// BranchTip returns the commit a branch points at
func (wm *WorktreeManager) BranchTip(branch string) (string, error) {
	return wm.RevParse(branch)
}

// BasedOn reports whether the issue's branch contains the given commit,
// i.e. whether its workspace is rooted at (or past) that base
func (wm *WorktreeManager) BasedOn(issueID, commit string) bool {
	_, err := wm.git(wm.baseDir, "merge-base", "--is-ancestor", commit, BranchName(issueID))
	return err == nil
}

// Rebase moves the issue's workspace onto a new base. On conflict the
// rebase is aborted, the workspace keeps its prior state, and
// ErrRebaseConflict is returned.
func (wm *WorktreeManager) Rebase(issueID, ontoRef string) error {
	wtPath := wm.Path(issueID)

	if out, err := wm.git(wtPath, "rebase", ontoRef); err != nil {
		// Leave no rebase in progress behind: the workspace must come
		// back exactly as it was.
		if _, abortErr := wm.git(wtPath, "rebase", "--abort"); abortErr != nil && wm.verbose {
			log.Printf("⚠️  rebase --abort for %s also failed: %v", issueID, abortErr)
		}
		if strings.Contains(out, "CONFLICT") || strings.Contains(out, "could not apply") {
			return fmt.Errorf("rebasing %s onto %s: %w", issueID, ontoRef, ErrRebaseConflict)
		}
		return fmt.Errorf("rebasing %s onto %s: %s: %w", issueID, ontoRef, out, err)
	}

	if wm.verbose {
		log.Printf("🔀 Rebased %s onto %s", issueID, ontoRef)
	}
	return nil
}

// Checkpoint tags the issue branch tip so later chain resumes have a
// stable rebase target. An existing checkpoint is moved forward.
func (wm *WorktreeManager) Checkpoint(issueID string) (string, error) {
	tip, err := wm.BranchTip(BranchName(issueID))
	if err != nil {
		return "", err
	}
	if out, err := wm.git(wm.baseDir, "tag", "-f", CheckpointRef(issueID), tip); err != nil {
		return "", fmt.Errorf("creating checkpoint for %s: %s: %w", issueID, out, err)
	}
	return tip, nil
}

// MergeIntoBase merges the issue's branch into target with a merge commit.
// The primary checkout is switched to target first if needed. A merge
// conflict aborts and leaves target untouched.
func (wm *WorktreeManager) MergeIntoBase(issueID, target string) error {
	branch := BranchName(issueID)

	cur, err := wm.git(wm.baseDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return fmt.Errorf("resolving current branch: %w", err)
	}
	if strings.TrimSpace(cur) != target {
		if out, err := wm.git(wm.baseDir, "checkout", target); err != nil {
			return fmt.Errorf("checking out %s: %s: %w", target, out, err)
		}
	}

	msg := fmt.Sprintf("Merge %s", branch)
	if out, err := wm.git(wm.baseDir, "merge", "--no-ff", "-m", msg, branch); err != nil {
		_, _ = wm.git(wm.baseDir, "merge", "--abort")
		return fmt.Errorf("merging %s into %s: %s: %w", branch, target, out, err)
	}
	return nil
}

// IsMerged reports whether the issue's branch has been merged into target
func (wm *WorktreeManager) IsMerged(issueID, target string) (bool, error) {
	branch := BranchName(issueID)
	tip, err := wm.BranchTip(branch)
	if err != nil {
		return false, err
	}
	_, err = wm.git(wm.baseDir, "merge-base", "--is-ancestor", tip, target)
	return err == nil, nil
}

// Remove tears down an issue's workspace. Teardown is refused unless the
// branch is confirmed merged into target: removing first can orphan the
// branch reference the merge tool still needs.
func (wm *WorktreeManager) Remove(issueID, target string) error {
	merged, err := wm.IsMerged(issueID, target)
	if err != nil {
		return fmt.Errorf("checking merge status of %s: %w", issueID, err)
	}
	if !merged {
		return fmt.Errorf("refusing to remove workspace for %s: %w", issueID, ErrNotMerged)
	}
	return wm.forceRemove(issueID)
}

// RemoveAbandoned tears down the workspace of an abandoned issue without a
// merge check. Callers must have decided the work is expendable.
func (wm *WorktreeManager) RemoveAbandoned(issueID string) error {
	return wm.forceRemove(issueID)
}

func (wm *WorktreeManager) forceRemove(issueID string) error {
	wtPath := wm.Path(issueID)

	if out, err := wm.git(wm.baseDir, "worktree", "remove", "--force", wtPath); err != nil {
		outStr := string(out)
		if !strings.Contains(outStr, "is not a working tree") &&
			!strings.Contains(outStr, "No such file or directory") {
			return fmt.Errorf("removing worktree: %s: %w", out, err)
		}
	}

	// Handle unregistered leftovers from interrupted runs
	if _, err := os.Stat(wtPath); err == nil {
		_ = os.RemoveAll(wtPath)
	}

	_, _ = wm.git(wm.baseDir, "branch", "-D", BranchName(issueID))
	_, _ = wm.git(wm.baseDir, "worktree", "prune")

	if wm.verbose {
		log.Printf("🗑️  Removed worktree for %s", issueID)
	}
	return nil
}

// ListWorktreesOnDisk returns the issue IDs of all worktree directories
// that exist under the worktree dir, registered or not
func (wm *WorktreeManager) ListWorktreesOnDisk() ([]string, error) {
	entries, err := os.ReadDir(wm.worktreeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading worktree directory: %w", err)
	}

	var issues []string
	for _, entry := range entries {
		if entry.IsDir() {
			issues = append(issues, entry.Name())
		}
	}
	return issues, nil
}

// CommitAll stages and commits everything in the issue's workspace.
// Returns (hasChanges, error); a clean tree is not an error.
func (wm *WorktreeManager) CommitAll(issueID, message string) (bool, error) {
	wtPath := wm.Path(issueID)

	out, err := wm.git(wtPath, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("checking status: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return false, nil
	}

	if out, err := wm.git(wtPath, "add", "-A"); err != nil {
		return false, fmt.Errorf("staging changes: %s: %w", out, err)
	}

	if out, err := wm.git(wtPath, "commit", "-m", message); err != nil {
		// The tree can race clean between the status check and the commit
		if strings.Contains(out, "nothing to commit") {
			return false, nil
		}
		return false, fmt.Errorf("committing: %s: %w", out, err)
	}

	return true, nil
}

// mergeBase returns the merge base of a branch and a ref
func (wm *WorktreeManager) mergeBase(branch, ref string) (string, error) {
	out, err := wm.git(wm.baseDir, "merge-base", branch, ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// git runs a git command in dir and returns its combined output
func (wm *WorktreeManager) git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// splitRemoteRef splits "origin/main" into ("origin", "main", true).
// Plain local refs return ok=false.
func splitRemoteRef(ref string) (remote, name string, ok bool) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	// Only treat the common remote name as a remote; anything else is a
	// local branch with a slash in it (e.g. muster/issue-1).
	if parts[0] != "origin" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func short(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
