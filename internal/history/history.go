// Package history persists per-phase execution records to SQLite. The
// state file holds current truth; history keeps what happened across runs
// for the `muster history` report.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cloud-shuttle/muster/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// Store manages the history database
type Store struct {
	DB *sql.DB
}

// PhaseExecution is one recorded phase attempt cycle
type PhaseExecution struct {
	RunID        string
	IssueID      string
	IssueTitle   string
	Phase        string
	Status       types.PhaseStatus
	Verdict      types.Verdict
	Iterations   int
	DurationMS   int64
	CommitBefore string
	CommitAfter  string
	Error        string
	RecordedAt   time.Time
}

// RunInfo summarizes one batch run
type RunInfo struct {
	RunID     string
	StartedAt time.Time
	Mode      string
	Phases    int
	Issues    int
}

// Open opens the history database at the given path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	// WAL tolerates a reader while the orchestrator writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{DB: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		mode TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS phase_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		issue_id TEXT NOT NULL,
		issue_title TEXT,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		verdict TEXT,
		iterations INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		commit_before TEXT,
		commit_after TEXT,
		error TEXT,
		recorded_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id)
	);

	CREATE INDEX IF NOT EXISTS idx_phase_executions_issue ON phase_executions(issue_id);
	CREATE INDEX IF NOT EXISTS idx_phase_executions_run ON phase_executions(run_id);
	`
	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("creating history schema: %w", err)
	}
	return nil
}

// RecordRun registers a batch run
func (s *Store) RecordRun(runID string, startedAt time.Time, mode string) error {
	_, err := s.DB.Exec(
		"INSERT OR REPLACE INTO runs (run_id, started_at, mode) VALUES (?, ?, ?)",
		runID, startedAt.Unix(), mode)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// RecordPhase appends one phase execution record
func (s *Store) RecordPhase(exec *PhaseExecution) error {
	recordedAt := exec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := s.DB.Exec(`
		INSERT INTO phase_executions
		(run_id, issue_id, issue_title, phase, status, verdict, iterations,
		 duration_ms, commit_before, commit_after, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.RunID, exec.IssueID, exec.IssueTitle, exec.Phase,
		string(exec.Status), string(exec.Verdict), exec.Iterations,
		exec.DurationMS, exec.CommitBefore, exec.CommitAfter, exec.Error,
		recordedAt.Unix())
	if err != nil {
		return fmt.Errorf("recording phase execution: %w", err)
	}
	return nil
}

// IssueHistory returns all phase executions for an issue, oldest first
func (s *Store) IssueHistory(issueID string) ([]*PhaseExecution, error) {
	rows, err := s.DB.Query(`
		SELECT run_id, issue_id, issue_title, phase, status, verdict,
		       iterations, duration_ms, commit_before, commit_after, error, recorded_at
		FROM phase_executions
		WHERE issue_id = ?
		ORDER BY recorded_at ASC, id ASC`, issueID)
	if err != nil {
		return nil, fmt.Errorf("querying issue history: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// Recent returns the latest phase executions across all issues
func (s *Store) Recent(limit int) ([]*PhaseExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.Query(`
		SELECT run_id, issue_id, issue_title, phase, status, verdict,
		       iterations, duration_ms, commit_before, commit_after, error, recorded_at
		FROM phase_executions
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent history: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// Runs lists recorded batch runs, newest first, with per-run counts
func (s *Store) Runs(limit int) ([]*RunInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.Query(`
		SELECT r.run_id, r.started_at, r.mode,
		       COUNT(p.id), COUNT(DISTINCT p.issue_id)
		FROM runs r
		LEFT JOIN phase_executions p ON p.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunInfo
	for rows.Next() {
		var info RunInfo
		var startedAt int64
		if err := rows.Scan(&info.RunID, &startedAt, &info.Mode, &info.Phases, &info.Issues); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		info.StartedAt = time.Unix(startedAt, 0).UTC()
		runs = append(runs, &info)
	}
	return runs, rows.Err()
}

func scanExecutions(rows *sql.Rows) ([]*PhaseExecution, error) {
	var execs []*PhaseExecution
	for rows.Next() {
		var e PhaseExecution
		var status, verdict string
		var recordedAt int64
		if err := rows.Scan(&e.RunID, &e.IssueID, &e.IssueTitle, &e.Phase,
			&status, &verdict, &e.Iterations, &e.DurationMS,
			&e.CommitBefore, &e.CommitAfter, &e.Error, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning phase execution: %w", err)
		}
		e.Status = types.PhaseStatus(status)
		e.Verdict = types.Verdict(verdict)
		e.RecordedAt = time.Unix(recordedAt, 0).UTC()
		execs = append(execs, &e)
	}
	return execs, rows.Err()
}
