// Package state persists issue run records as a single JSON document.
// The file is the shared mutable resource between the orchestrator and the
// manual state utilities, so every mutation is a locked read-modify-write
// against the latest on-disk content, never a long-lived in-memory copy.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cloud-shuttle/muster/pkg/types"
	"github.com/gofrs/flock"
)

// ErrCorrupt indicates the state file exists but is not valid JSON.
// Callers must surface this and never fabricate replacement state.
var ErrCorrupt = errors.New("state file is corrupt, run 'muster state rebuild'")

// ErrLockTimeout indicates the advisory lock could not be acquired within
// the configured wait window
var ErrLockTimeout = errors.New("timed out waiting for state file lock")

// ErrNotFound indicates the requested issue has no entry
var ErrNotFound = errors.New("issue not tracked in state file")

const documentVersion = 1

// Document is the on-disk shape of the state file
type Document struct {
	Version   int                        `json:"version"`
	Issues    map[string]*types.IssueRun `json:"issues"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// NewDocument returns an empty document at the current schema version
func NewDocument() *Document {
	return &Document{
		Version: documentVersion,
		Issues:  make(map[string]*types.IssueRun),
	}
}

// Store provides locked access to the state file
type Store struct {
	path     string
	lockWait time.Duration
}

// NewStore creates a store for the given state file path
func NewStore(path string, lockWait time.Duration) *Store {
	if lockWait <= 0 {
		lockWait = 10 * time.Second
	}
	return &Store{path: path, lockWait: lockWait}
}

// Path returns the state file path
func (s *Store) Path() string {
	return s.path
}

// withLock runs fn while holding the advisory lock on the state file.
// Acquisition is bounded: contention past the wait window fails loudly.
func (s *Store) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	lock := flock.New(s.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), s.lockWait)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("acquire state lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w after %v (%s)", ErrLockTimeout, s.lockWait, s.path)
	}
	defer lock.Unlock()

	return fn()
}

// load reads the latest on-disk document. A missing file is an empty
// document; malformed JSON is ErrCorrupt.
func (s *Store) load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Issues == nil {
		doc.Issues = make(map[string]*types.IssueRun)
	}
	return &doc, nil
}

// write persists the document atomically: temp file in the same directory,
// fsync, then rename over the old file
func (s *Store) write(doc *Document) error {
	doc.Version = documentVersion
	doc.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Read returns a point-in-time snapshot of the whole document
func (s *Store) Read() (*Document, error) {
	var doc *Document
	err := s.withLock(func() error {
		var err error
		doc, err = s.load()
		return err
	})
	return doc, err
}

// Get returns the record for one issue
func (s *Store) Get(issueID string) (*types.IssueRun, error) {
	doc, err := s.Read()
	if err != nil {
		return nil, err
	}
	run, ok := doc.Issues[issueID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, issueID)
	}
	return run, nil
}

// Put inserts or replaces one issue record
func (s *Store) Put(run *types.IssueRun) error {
	return s.withLock(func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		run.UpdatedAt = time.Now().UTC()
		doc.Issues[run.ID] = run
		return s.write(doc)
	})
}

// Update applies fn to one issue record under the lock and persists the
// result. The record is re-read from disk, so edits made by other tools
// between orchestrator steps are honored. fn receives a record created on
// the spot when the issue is untracked.
func (s *Store) Update(issueID string, fn func(*types.IssueRun) error) error {
	return s.withLock(func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		run, ok := doc.Issues[issueID]
		if !ok {
			run = &types.IssueRun{
				ID:        issueID,
				Status:    types.IssueStatusNotStarted,
				CreatedAt: time.Now().UTC(),
			}
			doc.Issues[issueID] = run
		}
		if err := fn(run); err != nil {
			return err
		}
		run.UpdatedAt = time.Now().UTC()
		return s.write(doc)
	})
}

// Replace overwrites the whole document. Used by rebuild, which is
// destructive and confirmation-gated at the CLI.
func (s *Store) Replace(doc *Document) error {
	return s.withLock(func() error {
		return s.write(doc)
	})
}

// IssueIDs returns all tracked issue IDs in sorted order
func (s *Store) IssueIDs() ([]string, error) {
	doc, err := s.Read()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(doc.Issues))
	for id := range doc.Issues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
