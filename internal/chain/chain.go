// Package chain enforces ordering between dependent issues: issue i
// branches from issue i-1's tip, may not start until its predecessor is
// eligible, and gets rebased when the predecessor's branch advances.
package chain

import (
	"errors"
	"fmt"
	"log"

	"github.com/cloud-shuttle/muster/internal/git"
	"github.com/cloud-shuttle/muster/internal/phase"
	"github.com/cloud-shuttle/muster/pkg/types"
)

// ErrGateNotPassed indicates the predecessor has not cleared the quality
// gate. This pauses the chain; it is not a failure.
var ErrGateNotPassed = errors.New("predecessor has not passed the quality gate")

// ErrPredecessorNotReady indicates the predecessor has not reached a
// chain-eligible status
var ErrPredecessorNotReady = errors.New("predecessor not chain-eligible")

// DefaultWarnLength is the chain length past which an advisory is logged
const DefaultWarnLength = 5

// Manager maintains chain ordering over a worktree manager
type Manager struct {
	wt         *git.WorktreeManager
	baseBranch string
	qaGate     bool
	warnLength int
}

// New creates a chain manager rooted at the given base branch
func New(wt *git.WorktreeManager, baseBranch string, qaGate bool, warnLength int) *Manager {
	if warnLength <= 0 {
		warnLength = DefaultWarnLength
	}
	return &Manager{wt: wt, baseBranch: baseBranch, qaGate: qaGate, warnLength: warnLength}
}

// CheckEligible verifies the predecessor reached a chain-eligible status.
// With qaGate set the predecessor must specifically have passed review;
// a gate miss returns ErrGateNotPassed so callers pause rather than fail.
func (m *Manager) CheckEligible(pred *types.IssueRun) error {
	if pred == nil {
		return nil
	}
	if m.qaGate {
		review := pred.Phase(string(phase.Review))
		if review == nil || review.Status != types.PhaseStatusCompleted || !review.Verdict.ForwardProgress() {
			return fmt.Errorf("%w: issue %s review status %s", ErrGateNotPassed, pred.ID, reviewStatus(review))
		}
		return nil
	}
	if !pred.Status.Successful() {
		return fmt.Errorf("%w: issue %s is %s", ErrPredecessorNotReady, pred.ID, pred.Status)
	}
	return nil
}

func reviewStatus(p *types.PhaseRecord) string {
	if p == nil {
		return "not run"
	}
	return string(p.Status)
}

// BaseRefFor returns the ref issue pos should branch from: the trunk for
// the chain head, otherwise the predecessor's checkpoint tag when one
// exists (stable across branch rewrites) and its branch tip when not.
func (m *Manager) BaseRefFor(pos int, predecessorID string) string {
	if pos == 0 || predecessorID == "" {
		return m.baseBranch
	}
	checkpoint := git.CheckpointRef(predecessorID)
	if _, err := m.wt.RevParse(checkpoint); err == nil {
		return checkpoint
	}
	return git.BranchName(predecessorID)
}

// Maintain rebases an existing workspace for issueID onto its
// predecessor's current tip when the predecessor advanced since the
// workspace was created. A conflict aborts the rebase, leaves the
// workspace untouched, and is reported through the wrapped
// git.ErrRebaseConflict so the caller can flag the issue for manual
// reconciliation.
func (m *Manager) Maintain(issueID, predecessorID string) error {
	if predecessorID == "" || !m.wt.Exists(issueID) {
		return nil
	}

	tip, err := m.wt.BranchTip(git.BranchName(predecessorID))
	if err != nil {
		return fmt.Errorf("resolve predecessor tip for %s: %w", predecessorID, err)
	}
	if m.wt.BasedOn(issueID, tip) {
		return nil
	}

	log.Printf("🔄 Rebasing %s onto %s's new tip %.8s", issueID, predecessorID, tip)
	if err := m.wt.Rebase(issueID, tip); err != nil {
		if errors.Is(err, git.ErrRebaseConflict) {
			log.Printf("⚠️ Rebase conflict for %s, workspace left on its prior base, reconcile manually", issueID)
		}
		return err
	}
	return nil
}

// Checkpoint tags the issue's branch tip after a successful review so a
// later chain resume has a stable rebase target
func (m *Manager) Checkpoint(issueID string) (string, error) {
	ref, err := m.wt.Checkpoint(issueID)
	if err != nil {
		return "", fmt.Errorf("checkpoint %s: %w", issueID, err)
	}
	log.Printf("📋 Checkpointed %s at %s", issueID, ref)
	return ref, nil
}

// WarnIfLong emits the long-chain advisory. Non-blocking: long chains
// raise recovery cost but are not forbidden.
func (m *Manager) WarnIfLong(length int) {
	if length > m.warnLength {
		log.Printf("⚠️ Chain of %d issues exceeds advisory length %d, recovery and review cost grow with depth", length, m.warnLength)
	}
}
