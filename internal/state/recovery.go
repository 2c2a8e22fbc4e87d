package state

import (
	"log"
	"time"

	"github.com/cloud-shuttle/muster/pkg/types"
)

// Discovered is a workspace found on disk during recovery scanning
type Discovered struct {
	IssueID   string
	Workspace types.Workspace
}

// InitEntries adds records for discovered workspaces that have no state
// entry. Existing entries are never touched. Returns the IDs added.
func (s *Store) InitEntries(found []Discovered) ([]string, error) {
	var added []string
	err := s.withLock(func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, d := range found {
			if _, ok := doc.Issues[d.IssueID]; ok {
				continue
			}
			ws := d.Workspace
			doc.Issues[d.IssueID] = &types.IssueRun{
				ID:        d.IssueID,
				Status:    types.IssueStatusInProgress,
				Workspace: &ws,
				CreatedAt: now,
				UpdatedAt: now,
			}
			added = append(added, d.IssueID)
			log.Printf("📋 Tracked untracked workspace for %s at %s", d.IssueID, d.Workspace.Path)
		}
		if len(added) == 0 {
			return nil
		}
		return s.write(doc)
	})
	return added, err
}

// CleanOptions controls which entries Clean removes
type CleanOptions struct {
	// WorkspaceExists reports whether an issue's workspace is still on
	// disk. Entries whose workspace is gone are removal candidates.
	WorkspaceExists func(run *types.IssueRun) bool

	// OlderThan, when non-zero, restricts removal to entries not updated
	// within the window
	OlderThan time.Duration
}

// Clean removes entries whose workspace no longer exists, optionally only
// those stale beyond OlderThan. Returns the IDs removed.
func (s *Store) Clean(opts CleanOptions) ([]string, error) {
	var removed []string
	err := s.withLock(func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		cutoff := time.Time{}
		if opts.OlderThan > 0 {
			cutoff = time.Now().UTC().Add(-opts.OlderThan)
		}
		for id, run := range doc.Issues {
			if opts.WorkspaceExists != nil && opts.WorkspaceExists(run) {
				continue
			}
			if !cutoff.IsZero() && run.UpdatedAt.After(cutoff) {
				continue
			}
			delete(doc.Issues, id)
			removed = append(removed, id)
			log.Printf("🗑️ Removed stale state entry for %s", id)
		}
		if len(removed) == 0 {
			return nil
		}
		return s.write(doc)
	})
	return removed, err
}
