package history_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cloud-shuttle/muster/internal/history"
	"github.com/cloud-shuttle/muster/pkg/types"
)

func openTestStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQueryIssueHistory(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordRun("run-1", time.Now(), "chain"); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	execs := []*history.PhaseExecution{
		{RunID: "run-1", IssueID: "issue-1", IssueTitle: "First", Phase: "implement",
			Status: types.PhaseStatusFailed, Iterations: 1, DurationMS: 1200, Error: "tests failed",
			RecordedAt: time.Now().Add(-2 * time.Minute)},
		{RunID: "run-1", IssueID: "issue-1", IssueTitle: "First", Phase: "implement",
			Status: types.PhaseStatusCompleted, Verdict: types.VerdictPass, Iterations: 2,
			DurationMS: 900, CommitBefore: "aaa", CommitAfter: "bbb",
			RecordedAt: time.Now().Add(-time.Minute)},
		{RunID: "run-1", IssueID: "issue-2", Phase: "plan",
			Status: types.PhaseStatusCompleted, Verdict: types.VerdictPassWithNotes,
			RecordedAt: time.Now()},
	}
	for _, e := range execs {
		if err := s.RecordPhase(e); err != nil {
			t.Fatalf("RecordPhase failed: %v", err)
		}
	}

	hist, err := s.IssueHistory("issue-1")
	if err != nil {
		t.Fatalf("IssueHistory failed: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("got %d records, want 2", len(hist))
	}
	if hist[0].Status != types.PhaseStatusFailed || hist[1].Status != types.PhaseStatusCompleted {
		t.Errorf("records out of order: %q then %q", hist[0].Status, hist[1].Status)
	}
	if hist[1].Verdict != types.VerdictPass || hist[1].CommitAfter != "bbb" {
		t.Errorf("fields not round-tripped: %+v", hist[1])
	}
}

func TestRecent(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordRun("run-1", time.Now(), "isolated"); err != nil {
		t.Fatal(err)
	}
	for i, phase := range []string{"plan", "implement", "review"} {
		err := s.RecordPhase(&history.PhaseExecution{
			RunID: "run-1", IssueID: "issue-1", Phase: phase,
			Status:     types.PhaseStatusCompleted,
			RecordedAt: time.Now().Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	recent, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d records, want 2", len(recent))
	}
	if recent[0].Phase != "review" {
		t.Errorf("newest first expected, got %q", recent[0].Phase)
	}
}

func TestRuns(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordRun("run-1", time.Now().Add(-time.Hour), "chain"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordRun("run-2", time.Now(), "isolated"); err != nil {
		t.Fatal(err)
	}
	for _, issueID := range []string{"issue-1", "issue-2"} {
		if err := s.RecordPhase(&history.PhaseExecution{
			RunID: "run-2", IssueID: issueID, Phase: "plan",
			Status: types.PhaseStatusCompleted,
		}); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.Runs(10)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].RunID != "run-2" {
		t.Errorf("newest run first expected, got %q", runs[0].RunID)
	}
	if runs[0].Phases != 2 || runs[0].Issues != 2 {
		t.Errorf("run-2 counts = %d phases / %d issues, want 2/2", runs[0].Phases, runs[0].Issues)
	}
	if runs[1].Phases != 0 {
		t.Errorf("run-1 should have no phases, got %d", runs[1].Phases)
	}
}
