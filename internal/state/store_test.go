package state_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloud-shuttle/muster/internal/state"
	"github.com/cloud-shuttle/muster/pkg/types"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	return state.NewStore(filepath.Join(t.TempDir(), "state.json"), 2*time.Second)
}

func TestStore_ReadMissingFile(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(doc.Issues) != 0 {
		t.Errorf("missing file should read as empty document, got %d issues", len(doc.Issues))
	}
}

func TestStore_PutGet(t *testing.T) {
	s := newTestStore(t)
	run := &types.IssueRun{
		ID:     "issue-1",
		Title:  "First issue",
		Status: types.IssueStatusInProgress,
	}
	if err := s.Put(run); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get("issue-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "First issue" || got.Status != types.IssueStatusInProgress {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := s.Get("issue-nope"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}
}

func TestStore_UpdateCreatesAndMutates(t *testing.T) {
	s := newTestStore(t)

	err := s.Update("issue-7", func(run *types.IssueRun) error {
		run.Title = "Seventh"
		run.Status = types.IssueStatusInProgress
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = s.Update("issue-7", func(run *types.IssueRun) error {
		if run.Title != "Seventh" {
			t.Errorf("Update should see prior content, got %q", run.Title)
		}
		run.Status = types.IssueStatusReadyForReview
		return nil
	})
	if err != nil {
		t.Fatalf("second Update failed: %v", err)
	}

	got, err := s.Get("issue-7")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != types.IssueStatusReadyForReview {
		t.Errorf("Status = %q, want ready_for_review", got.Status)
	}
}

// Update must re-read from disk so edits made by other tools between
// orchestrator steps are honored.
func TestStore_UpdateSeesExternalEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	a := state.NewStore(path, 2*time.Second)
	b := state.NewStore(path, 2*time.Second)

	if err := a.Put(&types.IssueRun{ID: "issue-1", Status: types.IssueStatusInProgress}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := b.Update("issue-1", func(run *types.IssueRun) error {
		run.Title = "edited elsewhere"
		return nil
	}); err != nil {
		t.Fatalf("Update via second store failed: %v", err)
	}

	err := a.Update("issue-1", func(run *types.IssueRun) error {
		if run.Title != "edited elsewhere" {
			t.Errorf("Update should read latest disk content, got %q", run.Title)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestStore_UpdateErrorDoesNotPersist(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(&types.IssueRun{ID: "issue-1", Title: "before"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	boom := errors.New("boom")
	err := s.Update("issue-1", func(run *types.IssueRun) error {
		run.Title = "after"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update should propagate fn error, got %v", err)
	}

	got, _ := s.Get("issue-1")
	if got.Title != "before" {
		t.Errorf("failed Update must not persist, Title = %q", got.Title)
	}
}

func TestStore_CorruptFileRefused(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	s := state.NewStore(path, 2*time.Second)
	if _, err := s.Read(); !errors.Is(err, state.ErrCorrupt) {
		t.Errorf("Read corrupt = %v, want ErrCorrupt", err)
	}
	err := s.Update("issue-1", func(run *types.IssueRun) error { return nil })
	if !errors.Is(err, state.ErrCorrupt) {
		t.Errorf("Update on corrupt file = %v, want ErrCorrupt", err)
	}

	// The corrupt file must be left in place for inspection, never
	// silently replaced.
	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Errorf("corrupt file was modified: %q", data)
	}
}

func TestStore_InitEntries(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(&types.IssueRun{ID: "issue-1", Status: types.IssueStatusMerged}); err != nil {
		t.Fatal(err)
	}

	added, err := s.InitEntries([]state.Discovered{
		{IssueID: "issue-1", Workspace: types.Workspace{Path: "/wt/issue-1"}},
		{IssueID: "issue-2", Workspace: types.Workspace{Path: "/wt/issue-2", Branch: "muster/issue-2"}},
	})
	if err != nil {
		t.Fatalf("InitEntries failed: %v", err)
	}
	if len(added) != 1 || added[0] != "issue-2" {
		t.Errorf("added = %v, want [issue-2]", added)
	}

	got, err := s.Get("issue-1")
	if err != nil || got.Status != types.IssueStatusMerged {
		t.Errorf("existing entry must be untouched: %+v err=%v", got, err)
	}
	got2, err := s.Get("issue-2")
	if err != nil {
		t.Fatalf("Get issue-2 failed: %v", err)
	}
	if got2.Workspace == nil || got2.Workspace.Branch != "muster/issue-2" {
		t.Errorf("workspace not recorded: %+v", got2.Workspace)
	}
}

func TestStore_Clean(t *testing.T) {
	s := newTestStore(t)
	live := filepath.Join(t.TempDir(), "wt-live")
	if err := os.MkdirAll(live, 0755); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(&types.IssueRun{ID: "live", Workspace: &types.Workspace{Path: live}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(&types.IssueRun{ID: "gone", Workspace: &types.Workspace{Path: "/does/not/exist"}}); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Clean(state.CleanOptions{
		WorkspaceExists: func(run *types.IssueRun) bool {
			if run.Workspace == nil {
				return false
			}
			_, err := os.Stat(run.Workspace.Path)
			return err == nil
		},
	})
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != "gone" {
		t.Errorf("removed = %v, want [gone]", removed)
	}
	if _, err := s.Get("live"); err != nil {
		t.Errorf("live entry should survive: %v", err)
	}
}

func TestStore_CleanOlderThanSparesRecent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(&types.IssueRun{ID: "recent"}); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Clean(state.CleanOptions{
		WorkspaceExists: func(*types.IssueRun) bool { return false },
		OlderThan:       24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("recently updated entry removed: %v", removed)
	}
}

func TestStore_Replace(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(&types.IssueRun{ID: "old"}); err != nil {
		t.Fatal(err)
	}

	doc := state.NewDocument()
	doc.Issues["new"] = &types.IssueRun{ID: "new", Status: types.IssueStatusInProgress}
	if err := s.Replace(doc); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	ids, err := s.IssueIDs()
	if err != nil {
		t.Fatalf("IssueIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "new" {
		t.Errorf("ids = %v, want [new]", ids)
	}
}
