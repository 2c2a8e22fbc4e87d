// Package git_test provides tests for the git package
package git_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloud-shuttle/muster/internal/git"
)

// setupTestRepo creates a temporary git repository for testing
func setupTestRepo(t *testing.T) (string, *git.WorktreeManager) {
	t.Helper()

	tmpDir := t.TempDir()

	runGit(t, tmpDir, "init")
	runGit(t, tmpDir, "config", "user.email", "test@example.com")
	runGit(t, tmpDir, "config", "user.name", "Test User")

	initialFile := filepath.Join(tmpDir, "README.md")
	if err := os.WriteFile(initialFile, []byte("# Test Repo\n"), 0644); err != nil {
		t.Fatalf("Failed to create initial file: %v", err)
	}
	runGit(t, tmpDir, "add", "README.md")
	runGit(t, tmpDir, "commit", "-m", "Initial commit")
	runGit(t, tmpDir, "branch", "-M", "main")

	worktreeDir := filepath.Join(tmpDir, ".muster", "worktrees")
	return tmpDir, git.NewWorktreeManager(tmpDir, worktreeDir)
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %s: %v", args, out, err)
	}
	return strings.TrimSpace(string(out))
}

// commitFile writes a file and commits it in dir
func commitFile(t *testing.T, dir, name, content, message string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	runGit(t, dir, "add", name)
	runGit(t, dir, "commit", "-m", message)
}

func TestBranchName(t *testing.T) {
	if got := git.BranchName("issue-42"); got != "muster/issue-42" {
		t.Errorf("BranchName = %q, want muster/issue-42", got)
	}
	if got := git.CheckpointRef("issue-42"); got != "muster/checkpoint/issue-42" {
		t.Errorf("CheckpointRef = %q, want muster/checkpoint/issue-42", got)
	}
}

func TestCreate_NewWorktree(t *testing.T) {
	_, wm := setupTestRepo(t)

	ws, err := wm.Create("issue-1", "main")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ws.Branch != "muster/issue-1" {
		t.Errorf("Branch = %q", ws.Branch)
	}
	if ws.BaseCommit == "" {
		t.Error("BaseCommit not recorded")
	}
	if _, err := os.Stat(filepath.Join(ws.Path, "README.md")); err != nil {
		t.Errorf("worktree not materialized: %v", err)
	}
	if !wm.Exists("issue-1") {
		t.Error("Exists should report the new worktree")
	}
}

func TestCreate_ReusesExistingWorktree(t *testing.T) {
	_, wm := setupTestRepo(t)

	ws, err := wm.Create("issue-1", "main")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// In-progress edits must survive a resumed Create.
	scratch := filepath.Join(ws.Path, "work-in-progress.txt")
	if err := os.WriteFile(scratch, []byte("uncommitted"), 0644); err != nil {
		t.Fatal(err)
	}

	ws2, err := wm.Create("issue-1", "main")
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if ws2.Path != ws.Path {
		t.Errorf("reuse returned different path %q", ws2.Path)
	}
	if _, err := os.Stat(scratch); err != nil {
		t.Errorf("in-progress edit lost on reuse: %v", err)
	}
}

func TestCreate_BadBaseRef(t *testing.T) {
	_, wm := setupTestRepo(t)
	if _, err := wm.Create("issue-1", "no-such-branch"); err == nil {
		t.Error("Create should fail for an unresolvable base ref")
	}
}

func TestHeadCommitAndCommitAll(t *testing.T) {
	_, wm := setupTestRepo(t)
	ws, err := wm.Create("issue-1", "main")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	before, err := wm.HeadCommit("issue-1")
	if err != nil {
		t.Fatalf("HeadCommit failed: %v", err)
	}

	// Clean tree: no commit, no error.
	changed, err := wm.CommitAll("issue-1", "no-op")
	if err != nil {
		t.Fatalf("CommitAll on clean tree failed: %v", err)
	}
	if changed {
		t.Error("CommitAll reported changes on a clean tree")
	}

	if err := os.WriteFile(filepath.Join(ws.Path, "new.txt"), []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}
	changed, err = wm.CommitAll("issue-1", "add new file")
	if err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}
	if !changed {
		t.Error("CommitAll should report changes")
	}

	after, err := wm.HeadCommit("issue-1")
	if err != nil {
		t.Fatalf("HeadCommit failed: %v", err)
	}
	if before == after {
		t.Error("HEAD did not advance after commit")
	}
}

func TestRebase_FastForwardOntoAdvancedBase(t *testing.T) {
	repoDir, wm := setupTestRepo(t)

	ws, err := wm.Create("issue-1", "main")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Path, "feature.txt"), []byte("feature"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := wm.CommitAll("issue-1", "feature work"); err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}

	// main advances with a non-conflicting change
	commitFile(t, repoDir, "other.txt", "unrelated", "advance main")

	tip, err := wm.RevParse("main")
	if err != nil {
		t.Fatalf("RevParse failed: %v", err)
	}
	if wm.BasedOn("issue-1", tip) {
		t.Fatal("fixture broken: workspace already contains new tip")
	}

	if err := wm.Rebase("issue-1", "main"); err != nil {
		t.Fatalf("Rebase failed: %v", err)
	}
	if !wm.BasedOn("issue-1", tip) {
		t.Error("workspace not rooted at new tip after rebase")
	}
	if _, err := os.Stat(filepath.Join(ws.Path, "feature.txt")); err != nil {
		t.Errorf("feature work lost in rebase: %v", err)
	}
}

func TestRebase_ConflictAbortsAndPreservesWorkspace(t *testing.T) {
	repoDir, wm := setupTestRepo(t)

	ws, err := wm.Create("issue-1", "main")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Path, "README.md"), []byte("# workspace version\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := wm.CommitAll("issue-1", "workspace edit"); err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}
	headBefore, _ := wm.HeadCommit("issue-1")

	// Conflicting edit to the same file on main
	commitFile(t, repoDir, "README.md", "# main version\n", "conflicting main edit")

	err = wm.Rebase("issue-1", "main")
	if !errors.Is(err, git.ErrRebaseConflict) {
		t.Fatalf("Rebase = %v, want ErrRebaseConflict", err)
	}

	// Workspace must be exactly as it was: same HEAD, same content, no
	// rebase in progress.
	headAfter, err := wm.HeadCommit("issue-1")
	if err != nil {
		t.Fatalf("HeadCommit after conflict failed: %v", err)
	}
	if headAfter != headBefore {
		t.Errorf("HEAD moved across aborted rebase: %s -> %s", headBefore, headAfter)
	}
	content, err := os.ReadFile(filepath.Join(ws.Path, "README.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "# workspace version\n" {
		t.Errorf("workspace content corrupted: %q", content)
	}
	if _, err := os.Stat(filepath.Join(repoDir, ".git", "rebase-merge")); err == nil {
		t.Error("rebase left in progress")
	}
}

func TestCheckpoint(t *testing.T) {
	_, wm := setupTestRepo(t)
	if _, err := wm.Create("issue-1", "main"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	tip, err := wm.Checkpoint("issue-1")
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	resolved, err := wm.RevParse(git.CheckpointRef("issue-1"))
	if err != nil {
		t.Fatalf("checkpoint ref not resolvable: %v", err)
	}
	if resolved != tip {
		t.Errorf("checkpoint = %s, want branch tip %s", resolved, tip)
	}
}

func TestRemove_RefusedUntilMerged(t *testing.T) {
	repoDir, wm := setupTestRepo(t)

	ws, err := wm.Create("issue-1", "main")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Path, "feature.txt"), []byte("unmerged"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := wm.CommitAll("issue-1", "unmerged work"); err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}

	err = wm.Remove("issue-1", "main")
	if !errors.Is(err, git.ErrNotMerged) {
		t.Fatalf("Remove before merge = %v, want ErrNotMerged", err)
	}
	if !wm.Exists("issue-1") {
		t.Fatal("workspace removed despite refusal")
	}

	// Merge first, remove second.
	runGit(t, repoDir, "merge", "--no-ff", "-m", "merge issue-1", git.BranchName("issue-1"))
	if err := wm.Remove("issue-1", "main"); err != nil {
		t.Fatalf("Remove after merge failed: %v", err)
	}
	if wm.Exists("issue-1") {
		t.Error("workspace still present after teardown")
	}
}

func TestRemoveAbandoned_SkipsMergeCheck(t *testing.T) {
	_, wm := setupTestRepo(t)
	ws, err := wm.Create("issue-1", "main")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Path, "feature.txt"), []byte("doomed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := wm.CommitAll("issue-1", "doomed work"); err != nil {
		t.Fatal(err)
	}

	if err := wm.RemoveAbandoned("issue-1"); err != nil {
		t.Fatalf("RemoveAbandoned failed: %v", err)
	}
	if wm.Exists("issue-1") {
		t.Error("workspace still present")
	}
}

func TestListWorktreesOnDisk(t *testing.T) {
	_, wm := setupTestRepo(t)

	issues, err := wm.ListWorktreesOnDisk()
	if err != nil {
		t.Fatalf("ListWorktreesOnDisk failed: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("fresh repo lists %v", issues)
	}

	if _, err := wm.Create("issue-1", "main"); err != nil {
		t.Fatal(err)
	}
	if _, err := wm.Create("issue-2", "main"); err != nil {
		t.Fatal(err)
	}

	issues, err = wm.ListWorktreesOnDisk()
	if err != nil {
		t.Fatalf("ListWorktreesOnDisk failed: %v", err)
	}
	if len(issues) != 2 {
		t.Errorf("listed %v, want two issues", issues)
	}
}

func TestIsMerged(t *testing.T) {
	repoDir, wm := setupTestRepo(t)
	ws, err := wm.Create("issue-1", "main")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws.Path, "feature.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := wm.CommitAll("issue-1", "work"); err != nil {
		t.Fatal(err)
	}

	merged, err := wm.IsMerged("issue-1", "main")
	if err != nil {
		t.Fatalf("IsMerged failed: %v", err)
	}
	if merged {
		t.Error("unmerged branch reported merged")
	}

	runGit(t, repoDir, "merge", "--no-ff", "-m", "merge", git.BranchName("issue-1"))
	merged, err = wm.IsMerged("issue-1", "main")
	if err != nil {
		t.Fatalf("IsMerged failed: %v", err)
	}
	if !merged {
		t.Error("merged branch reported unmerged")
	}
}
