// Package runlog writes the append-only record of each batch invocation.
// One JSONL file per run: a batch_start record carrying the effective
// configuration, then per-phase and per-issue records with the commits
// observed before and after each phase. These files are the ground truth
// the state rebuild operation reconstructs from.
package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloud-shuttle/muster/pkg/types"
	"github.com/google/uuid"
)

// Kind discriminates run log records
type Kind string

const (
	KindBatchStart Kind = "batch_start"
	KindPhaseStart Kind = "phase_start"
	KindPhaseEnd   Kind = "phase_end"
	KindIssueEnd   Kind = "issue_end"
	KindBatchEnd   Kind = "batch_end"
)

// BatchConfig snapshots the effective options for one run
type BatchConfig struct {
	Phases        []string `json:"phases"`
	Sequential    bool     `json:"sequential"`
	Chain         bool     `json:"chain"`
	QAGate        bool     `json:"qa_gate"`
	QualityLoop   bool     `json:"quality_loop"`
	MaxIterations int      `json:"max_iterations,omitempty"`
	BaseBranch    string   `json:"base_branch"`
	DryRun        bool     `json:"dry_run,omitempty"`
}

// Record is one line of the run log
type Record struct {
	Kind  Kind      `json:"kind"`
	Time  time.Time `json:"time"`
	RunID string    `json:"run_id"`

	Config *BatchConfig `json:"config,omitempty"`

	IssueID    string           `json:"issue_id,omitempty"`
	IssueTitle string           `json:"issue_title,omitempty"`
	Workspace  *types.Workspace `json:"workspace,omitempty"`

	Phase        string            `json:"phase,omitempty"`
	Iteration    int               `json:"iteration,omitempty"`
	PhaseStatus  types.PhaseStatus `json:"phase_status,omitempty"`
	Verdict      types.Verdict     `json:"verdict,omitempty"`
	Error        string            `json:"error,omitempty"`
	CommitBefore string            `json:"commit_before,omitempty"`
	CommitAfter  string            `json:"commit_after,omitempty"`

	IssueStatus types.IssueStatus     `json:"issue_status,omitempty"`
	Category    types.FailureCategory `json:"category,omitempty"`
}

// Writer appends records for one batch run
type Writer struct {
	mu    sync.Mutex
	file  *os.File
	runID string
	path  string
}

// NewWriter creates the run log file for a fresh batch run
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create run log directory: %w", err)
	}
	runID := uuid.NewString()
	path := filepath.Join(dir, fmt.Sprintf("run-%s.jsonl", runID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create run log: %w", err)
	}
	return &Writer{file: f, runID: runID, path: path}, nil
}

// RunID returns the unique ID of this batch run
func (w *Writer) RunID() string {
	return w.runID
}

// Path returns the run log file path
func (w *Writer) Path() string {
	return w.path
}

// Append writes one record. Timestamps and the run ID are stamped here so
// callers only fill the payload fields.
func (w *Writer) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec.RunID = w.runID
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run log record: %w", err)
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append run log record: %w", err)
	}
	return nil
}

// Close flushes and closes the run log file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReadFile parses one run log file. Lines that fail to parse are skipped
// rather than failing the whole read: a crashed run may leave a torn final
// line, and rebuild must still work from what is intact.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan run log: %w", err)
	}
	return records, nil
}

// ReadAll parses every run log in the directory, oldest record first
func ReadAll(dir string) ([]Record, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "run-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list run logs: %w", err)
	}
	var all []Record
	for _, path := range matches {
		records, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Time.Before(all[j].Time)
	})
	return all, nil
}
