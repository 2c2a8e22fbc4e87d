// Package workflow drives batches of issues through their phases. One
// phase executes at a time against the external agent; the state store is
// updated after every transition so an interrupted batch can resume.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloud-shuttle/muster/internal/chain"
	"github.com/cloud-shuttle/muster/internal/config"
	"github.com/cloud-shuttle/muster/internal/events"
	"github.com/cloud-shuttle/muster/internal/executor"
	"github.com/cloud-shuttle/muster/internal/git"
	"github.com/cloud-shuttle/muster/internal/history"
	"github.com/cloud-shuttle/muster/internal/loop"
	"github.com/cloud-shuttle/muster/internal/phase"
	"github.com/cloud-shuttle/muster/internal/runlog"
	"github.com/cloud-shuttle/muster/internal/state"
	"github.com/cloud-shuttle/muster/internal/tracker"
	"github.com/cloud-shuttle/muster/internal/webhooks"
	"github.com/cloud-shuttle/muster/pkg/telemetry"
	"github.com/cloud-shuttle/muster/pkg/types"
)

// Orchestrator manages the batch execution loop
type Orchestrator struct {
	cfg      *config.Config
	opts     Options
	agent    executor.Agent
	store    *state.Store
	wt       *git.WorktreeManager
	loop     *loop.Controller
	chain    *chain.Manager
	bus      *events.Bus
	notifier *webhooks.Notifier
	hist     *history.Store
	track    tracker.Tracker
	verbose  bool
}

// New creates an orchestrator. Options are validated here so invalid flag
// combinations fail before any phase executes.
func New(cfg *config.Config, opts Options, agent executor.Agent) (*Orchestrator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	wt := git.NewWorktreeManager(cfg.ProjectDir, cfg.WorktreeDir)
	wt.SetVerbose(cfg.Verbose)

	caps := phase.IterationCaps{
		Implementation: cfg.MaxImplementIterations,
		Review:         cfg.MaxReviewIterations,
	}
	if opts.MaxIterations > 0 {
		caps.Implementation = opts.MaxIterations
	}

	o := &Orchestrator{
		cfg:     cfg,
		opts:    opts,
		agent:   agent,
		store:   state.NewStore(cfg.StateFile, cfg.LockWait),
		wt:      wt,
		loop:    loop.New(agent, caps, opts.QualityLoop),
		bus:     events.NewBus(),
		verbose: cfg.Verbose,
	}
	if opts.Chain {
		o.chain = chain.New(wt, cfg.BaseBranch, opts.QAGate, cfg.ChainWarnLength)
	}

	o.notifier = webhooks.NewNotifier(cfg.WebhookURL, cfg.WebhookSecret)
	o.notifier.Start(o.bus)

	if cfg.HistoryDB != "" {
		hist, err := history.Open(cfg.HistoryDB)
		if err != nil {
			// History is an advisory record; a broken database must not
			// stop orchestration.
			log.Printf("⚠️ History database unavailable: %v", err)
		} else {
			o.hist = hist
		}
	}
	if cfg.TrackerRepo != "" {
		o.track = tracker.NewGH(cfg.TrackerRepo)
	}

	return o, nil
}

// SetTracker overrides the tracker client
func (o *Orchestrator) SetTracker(t tracker.Tracker) {
	o.track = t
}

// Store exposes the orchestrator's state store
func (o *Orchestrator) Store() *state.Store {
	return o.store
}

// Bus exposes the event bus for additional subscribers
func (o *Orchestrator) Bus() *events.Bus {
	return o.bus
}

// Close releases background resources
func (o *Orchestrator) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.notifier.Stop(ctx)
	o.bus.Close()
	if o.hist != nil {
		o.hist.Close()
	}
}

// Run processes the batch and returns the aggregate summary. The returned
// error reports infrastructure failures only; per-issue failures live in
// the summary.
func (o *Orchestrator) Run(ctx context.Context, issues []Issue) (*types.BatchSummary, error) {
	start := time.Now()

	if o.opts.DryRun {
		return o.dryRun(issues, start), nil
	}

	rl, err := runlog.NewWriter(o.cfg.RunLogDir)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	defer rl.Close()

	ctx, batchSpan := telemetry.StartBatchSpan(ctx, rl.RunID(), o.opts.Mode())
	defer batchSpan.End()

	log.Printf("🐂 Starting batch %s: %d issues, phases %v, mode %s", rl.RunID(), len(issues), phase.Strings(o.opts.Phases), o.opts.Mode())

	_ = rl.Append(runlog.Record{Kind: runlog.KindBatchStart, Config: o.batchConfig()})
	if o.hist != nil {
		if err := o.hist.RecordRun(rl.RunID(), start, o.opts.Mode()); err != nil {
			log.Printf("⚠️ Recording run in history failed: %v", err)
		}
	}
	_ = o.bus.Publish(events.New(events.EventBatchStarted, rl.RunID(), ""))

	if o.chain != nil {
		o.chain.WarnIfLong(len(issues))
	}

	summary := &types.BatchSummary{
		RunID:      rl.RunID(),
		StartedAt:  start,
		ByCategory: make(map[types.FailureCategory]int),
	}
	var infraErr error

	for i, issue := range issues {
		if ctx.Err() != nil {
			infraErr = ctx.Err()
			break
		}

		issueStart := time.Now()
		status, category, err := o.runIssue(ctx, rl, issues, i)
		if err != nil && !errors.Is(err, errIssueHandled) {
			infraErr = err
			break
		}

		summary.Issues = append(summary.Issues, types.IssueSummary{
			IssueID:  issue.ID,
			Title:    issue.Title,
			Status:   status,
			Category: category,
			Duration: time.Since(issueStart),
		})
		if category != types.CategoryNone {
			summary.ByCategory[category]++
		}

		switch {
		case status.Successful():
			summary.Passed++
		case status == types.IssueStatusWaitingForGate:
			summary.Waiting++
		default:
			summary.Failed++
		}

		if status == types.IssueStatusWaitingForGate {
			// The chain is paused, not failed; successors are never
			// started.
			log.Printf("⏸️ Chain paused at %s, %d issue(s) not started", issue.ID, len(issues)-i-1)
			break
		}
		if status == types.IssueStatusBlocked && o.opts.Sequential {
			log.Printf("🛑 Halting batch: %s is blocked and sequential mode is on", issue.ID)
			break
		}
	}

	summary.Duration = time.Since(start)
	_ = rl.Append(runlog.Record{Kind: runlog.KindBatchEnd})
	_ = o.bus.Publish(events.New(events.EventBatchCompleted, rl.RunID(), "").
		WithData("passed", summary.Passed).
		WithData("failed", summary.Failed))

	if infraErr != nil {
		telemetry.RecordError(batchSpan, infraErr, telemetry.ErrorCategoryUnknown)
	}
	return summary, infraErr
}

// errIssueHandled marks per-issue failures already reflected in the
// issue's status; Run keeps going (or halts per mode) without treating
// them as infrastructure errors.
var errIssueHandled = errors.New("issue failure recorded")

func (o *Orchestrator) batchConfig() *runlog.BatchConfig {
	return &runlog.BatchConfig{
		Phases:        phase.Strings(o.opts.Phases),
		Sequential:    o.opts.Sequential,
		Chain:         o.opts.Chain,
		QAGate:        o.opts.QAGate,
		QualityLoop:   o.opts.QualityLoop,
		MaxIterations: o.opts.MaxIterations,
		BaseBranch:    o.cfg.BaseBranch,
	}
}

// runIssue drives one issue through all configured phases
func (o *Orchestrator) runIssue(ctx context.Context, rl *runlog.Writer, issues []Issue, pos int) (types.IssueStatus, types.FailureCategory, error) {
	issue := issues[pos]

	ctx, issueSpan := telemetry.StartIssueSpan(ctx, telemetry.SpanIssueRun,
		telemetry.IssueAttrs(issue.ID, issue.Title, "", pos)...)
	defer issueSpan.End()

	// First touch: create or reset the record depending on resume mode.
	var skip bool
	var skipStatus types.IssueStatus
	err := o.store.Update(issue.ID, func(run *types.IssueRun) error {
		run.Title = issue.Title
		if o.opts.Chain {
			p := pos
			run.ChainPos = &p
		}
		if run.Status.Terminal() {
			skip, skipStatus = true, run.Status
			return nil
		}
		if o.opts.Resume {
			if run.Status == types.IssueStatusReadyForReview {
				skip, skipStatus = true, run.Status
				return nil
			}
			// A crash or abort can strand a phase in_progress. Settle it
			// as failed so it re-enters the state machine cleanly and
			// re-runs below.
			for i := range run.Phases {
				p := &run.Phases[i]
				if p.Status == types.PhaseStatusInProgress {
					log.Printf("🔁 %s/%s was interrupted, will re-run", issue.ID, p.Name)
					if err := p.Finish(types.PhaseStatusFailed, "interrupted before completion", time.Now().UTC()); err != nil {
						return err
					}
				}
			}
			return nil
		}
		// Fresh run: phase history restarts from scratch.
		run.Phases = nil
		run.Category = types.CategoryNone
		if run.Status != types.IssueStatusNotStarted {
			run.Status = types.IssueStatusInProgress
		}
		return nil
	})
	if err != nil {
		return types.IssueStatusNotStarted, types.CategoryStateStore, fmt.Errorf("state store: %w", err)
	}
	if skip {
		log.Printf("⏭️ Skipping %s: already %s", issue.ID, skipStatus)
		return skipStatus, types.CategoryNone, nil
	}

	// Chain ordering: the predecessor must be eligible before any phase
	// of this issue starts.
	if o.chain != nil && pos > 0 {
		predID := issues[pos-1].ID
		pred, err := o.store.Get(predID)
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			return types.IssueStatusNotStarted, types.CategoryStateStore, fmt.Errorf("state store: %w", err)
		}
		if err := o.chain.CheckEligible(pred); err != nil {
			return o.pauseForGate(rl, issue, err)
		}
	}

	status, category := o.executePhases(ctx, rl, issues, pos)
	return status, category, errForStatus(status)
}

// errForStatus keeps Run's error channel reserved for infrastructure
// failures
func errForStatus(status types.IssueStatus) error {
	if status == types.IssueStatusBlocked {
		return errIssueHandled
	}
	return nil
}

// pauseForGate parks the issue in waiting_for_gate. This is a pause, not
// a failure: no category is assigned and the batch halts the chain.
func (o *Orchestrator) pauseForGate(rl *runlog.Writer, issue Issue, cause error) (types.IssueStatus, types.FailureCategory, error) {
	log.Printf("⏸️ %s waiting for gate: %v", issue.ID, cause)
	err := o.store.Update(issue.ID, func(run *types.IssueRun) error {
		return run.SetStatus(types.IssueStatusWaitingForGate, time.Now().UTC())
	})
	if err != nil {
		return types.IssueStatusNotStarted, types.CategoryStateStore, fmt.Errorf("state store: %w", err)
	}
	_ = rl.Append(runlog.Record{Kind: runlog.KindIssueEnd, IssueID: issue.ID, IssueTitle: issue.Title,
		IssueStatus: types.IssueStatusWaitingForGate})
	_ = o.bus.Publish(events.New(events.EventIssueWaiting, rl.RunID(), issue.ID))
	return types.IssueStatusWaitingForGate, types.CategoryNone, nil
}

// executePhases runs every configured phase for one issue and settles the
// issue's final status
func (o *Orchestrator) executePhases(ctx context.Context, rl *runlog.Writer, issues []Issue, pos int) (types.IssueStatus, types.FailureCategory) {
	issue := issues[pos]
	now := func() time.Time { return time.Now().UTC() }

	if err := o.store.Update(issue.ID, func(run *types.IssueRun) error {
		return run.SetStatus(types.IssueStatusInProgress, now())
	}); err != nil {
		log.Printf("❌ %s: %v", issue.ID, err)
		return o.blockIssue(rl, issue, types.CategoryStateStore, err.Error())
	}
	_ = o.bus.Publish(events.New(events.EventIssueStarted, rl.RunID(), issue.ID))

	doneFromTracker := o.completedPhasesFromTracker(ctx, issue)

	var ws *types.Workspace
	if existing, err := o.store.Get(issue.ID); err == nil && existing.Workspace != nil {
		ws = existing.Workspace
	}

	// Chain maintenance: if the workspace predates a predecessor
	// advance, rebase it. A conflict is reported and the issue proceeds
	// on its stale base, flagged for manual reconciliation.
	category := types.CategoryNone
	if o.chain != nil && pos > 0 && ws != nil {
		if err := o.chain.Maintain(issue.ID, issues[pos-1].ID); err != nil {
			if errors.Is(err, git.ErrRebaseConflict) {
				category = types.CategoryWorkspaceConflict
				_ = o.bus.Publish(events.New(events.EventChainConflict, rl.RunID(), issue.ID))
				_ = o.store.Update(issue.ID, func(run *types.IssueRun) error {
					run.Category = types.CategoryWorkspaceConflict
					return nil
				})
			} else {
				log.Printf("⚠️ Chain maintenance for %s failed: %v", issue.ID, err)
			}
		} else {
			_ = o.bus.Publish(events.New(events.EventChainRebased, rl.RunID(), issue.ID))
		}
	}

	for _, ph := range o.opts.Phases {
		if ctx.Err() != nil {
			// Leave the record terminal-consistent: nothing in flight,
			// the next resume picks up from here.
			return o.blockIssue(rl, issue, types.CategoryExecutorFailure, "batch cancelled")
		}

		if o.opts.Resume {
			skipped := false
			_ = o.store.Update(issue.ID, func(run *types.IssueRun) error {
				p := run.Phase(string(ph))
				if (p != nil && p.Status.Done()) || doneFromTracker[string(ph)] {
					if p == nil {
						p = run.EnsurePhase(string(ph))
						p.Status = types.PhaseStatusSkipped
					}
					skipped = true
				}
				return nil
			})
			if skipped {
				log.Printf("⏭️ Skipping %s phase for %s: already completed", ph.Display(), issue.ID)
				continue
			}
		}

		// Planning-only phases run against the orchestrator's checkout;
		// everything else gets the issue workspace, created on first
		// need.
		if ph.MutatesWorkspace() && ws == nil {
			created, err := o.createWorkspace(ctx, rl, issues, pos)
			if err != nil {
				log.Printf("❌ Workspace for %s: %v", issue.ID, err)
				return o.blockIssue(rl, issue, types.CategoryWorkspaceConflict, err.Error())
			}
			ws = created
		}

		status, cat := o.runPhase(ctx, rl, issue, ph, ws)
		if status != types.PhaseStatusCompleted {
			return o.blockIssue(rl, issue, cat, fmt.Sprintf("%s phase %s", ph, status))
		}

		// A review pass is the chain's stable point: checkpoint it so
		// later resumes rebase onto a fixed ref.
		if o.chain != nil && ph == phase.Review && ws != nil {
			if _, err := o.chain.Checkpoint(issue.ID); err != nil {
				log.Printf("⚠️ Checkpoint for %s failed: %v", issue.ID, err)
			} else {
				_ = o.bus.Publish(events.New(events.EventCheckpoint, rl.RunID(), issue.ID))
			}
		}
	}

	if err := o.store.Update(issue.ID, func(run *types.IssueRun) error {
		return run.SetStatus(types.IssueStatusReadyForReview, now())
	}); err != nil {
		log.Printf("❌ %s: %v", issue.ID, err)
		return o.blockIssue(rl, issue, types.CategoryStateStore, err.Error())
	}

	log.Printf("✅ %s is ready for review", issue.ID)
	_ = rl.Append(runlog.Record{Kind: runlog.KindIssueEnd, IssueID: issue.ID, IssueTitle: issue.Title,
		IssueStatus: types.IssueStatusReadyForReview, Category: category})
	_ = o.bus.Publish(events.New(events.EventIssueReady, rl.RunID(), issue.ID))
	o.postStatusComment(ctx, issue, "all-phases", string(types.IssueStatusReadyForReview))
	return types.IssueStatusReadyForReview, category
}

// createWorkspace materializes the issue's worktree at the right base
func (o *Orchestrator) createWorkspace(ctx context.Context, rl *runlog.Writer, issues []Issue, pos int) (*types.Workspace, error) {
	issue := issues[pos]
	baseRef := o.cfg.BaseBranch
	if o.chain != nil && pos > 0 {
		baseRef = o.chain.BaseRefFor(pos, issues[pos-1].ID)
	}

	_, span := telemetry.StartWorkspaceSpan(ctx, telemetry.SpanWorkspaceCreate, o.wt.Path(issue.ID))
	defer span.End()

	ws, err := o.wt.Create(issue.ID, baseRef)
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryWorkspace)
		return nil, err
	}
	if err := o.store.Update(issue.ID, func(run *types.IssueRun) error {
		run.Workspace = ws
		return nil
	}); err != nil {
		return nil, err
	}
	return ws, nil
}

// runPhase drives one phase through the quality loop and persists every
// transition
func (o *Orchestrator) runPhase(ctx context.Context, rl *runlog.Writer, issue Issue, ph phase.Name, ws *types.Workspace) (types.PhaseStatus, types.FailureCategory) {
	now := func() time.Time { return time.Now().UTC() }
	phaseStart := time.Now()

	ctx, span := telemetry.StartPhaseSpan(ctx, telemetry.SpanPhaseExecute,
		telemetry.PhaseAttrs(string(ph), string(ph.Class()), 0)...)
	defer span.End()

	var commitBefore string
	if ws != nil {
		if head, err := o.wt.HeadCommit(issue.ID); err == nil {
			commitBefore = head
		}
	}

	if err := o.store.Update(issue.ID, func(run *types.IssueRun) error {
		p := run.EnsurePhase(string(ph))
		p.CommitBefore = commitBefore
		return p.Begin(now())
	}); err != nil {
		log.Printf("❌ %s/%s: %v", issue.ID, ph, err)
		return types.PhaseStatusFailed, types.CategoryStateStore
	}
	_ = rl.Append(runlog.Record{Kind: runlog.KindPhaseStart, IssueID: issue.ID, IssueTitle: issue.Title,
		Phase: string(ph), CommitBefore: commitBefore, Workspace: ws})
	_ = o.bus.Publish(events.New(events.EventPhaseStarted, rl.RunID(), issue.ID).WithPhase(string(ph)))

	log.Printf("▶️ Running %s for %s", ph.Display(), issue.ID)

	req := &executor.Request{
		IssueID:    issue.ID,
		IssueTitle: issue.Title,
		IssueBody:  issue.Body,
		Phase:      ph,
	}
	if ws != nil && ph.MutatesWorkspace() {
		req.WorkspacePath = ws.Path
	}
	outcome := o.loop.Run(ctx, req)

	// The agent's edits become durable before anything else happens.
	var commitAfter string
	if ws != nil && ph.MutatesWorkspace() {
		if _, err := o.wt.CommitAll(issue.ID, fmt.Sprintf("%s: %s", ph, issue.ID)); err != nil {
			log.Printf("⚠️ Committing %s work for %s failed: %v", ph, issue.ID, err)
		}
		if head, err := o.wt.HeadCommit(issue.ID); err == nil {
			commitAfter = head
		}
	}

	errMsg := ""
	if outcome.Err != nil {
		errMsg = outcome.Err.Error()
	}
	if err := o.store.Update(issue.ID, func(run *types.IssueRun) error {
		p := run.EnsurePhase(string(ph))
		p.Iterations = outcome.Iterations
		p.Verdict = outcome.Verdict
		p.CommitAfter = commitAfter
		return p.Finish(outcome.Status, errMsg, now())
	}); err != nil {
		log.Printf("❌ %s/%s: %v", issue.ID, ph, err)
		return types.PhaseStatusFailed, types.CategoryStateStore
	}

	_ = rl.Append(runlog.Record{Kind: runlog.KindPhaseEnd, IssueID: issue.ID, IssueTitle: issue.Title,
		Phase: string(ph), Iteration: outcome.Iterations, PhaseStatus: outcome.Status,
		Verdict: outcome.Verdict, Error: errMsg, CommitAfter: commitAfter})
	if o.hist != nil {
		_ = o.hist.RecordPhase(&history.PhaseExecution{
			RunID: rl.RunID(), IssueID: issue.ID, IssueTitle: issue.Title,
			Phase: string(ph), Status: outcome.Status, Verdict: outcome.Verdict,
			Iterations: outcome.Iterations, DurationMS: time.Since(phaseStart).Milliseconds(),
			CommitBefore: commitBefore, CommitAfter: commitAfter, Error: errMsg,
		})
	}

	switch outcome.Status {
	case types.PhaseStatusCompleted:
		log.Printf("✅ %s completed for %s (%d fix cycles, verdict %s)", ph.Display(), issue.ID, outcome.Iterations, outcome.Verdict)
		telemetry.SetPhaseVerdict(span, string(outcome.Verdict))
		_ = o.bus.Publish(events.New(events.EventPhaseCompleted, rl.RunID(), issue.ID).
			WithPhase(string(ph)).WithData("verdict", string(outcome.Verdict)))
		o.postStatusComment(ctx, issue, string(ph), string(types.PhaseStatusCompleted))
		return outcome.Status, types.CategoryNone

	case types.PhaseStatusTimedOut:
		log.Printf("❌ %s timed out for %s after %d fix cycles", ph.Display(), issue.ID, outcome.Iterations)
		telemetry.RecordError(span, outcome.Err, telemetry.ErrorCategoryTimeout)
		_ = o.bus.Publish(events.New(events.EventPhaseFailed, rl.RunID(), issue.ID).WithPhase(string(ph)))
		o.postStatusComment(ctx, issue, string(ph), string(types.PhaseStatusTimedOut))
		return outcome.Status, types.CategoryExecutorTimeout

	default:
		log.Printf("❌ %s failed for %s after %d fix cycles: %v", ph.Display(), issue.ID, outcome.Iterations, outcome.Err)
		telemetry.RecordError(span, outcome.Err, telemetry.ErrorCategoryExecutor)
		_ = o.bus.Publish(events.New(events.EventPhaseFailed, rl.RunID(), issue.ID).WithPhase(string(ph)))
		o.postStatusComment(ctx, issue, string(ph), string(types.PhaseStatusFailed))
		return outcome.Status, types.CategoryExecutorFailure
	}
}

// blockIssue settles an issue as blocked with its failure category
func (o *Orchestrator) blockIssue(rl *runlog.Writer, issue Issue, category types.FailureCategory, reason string) (types.IssueStatus, types.FailureCategory) {
	if err := o.store.Update(issue.ID, func(run *types.IssueRun) error {
		run.Category = category
		return run.SetStatus(types.IssueStatusBlocked, time.Now().UTC())
	}); err != nil {
		log.Printf("❌ Recording blocked status for %s failed: %v", issue.ID, err)
	}
	log.Printf("🚫 %s is blocked (%s): %s", issue.ID, category, reason)
	_ = rl.Append(runlog.Record{Kind: runlog.KindIssueEnd, IssueID: issue.ID, IssueTitle: issue.Title,
		IssueStatus: types.IssueStatusBlocked, Category: category})
	_ = o.bus.Publish(events.New(events.EventIssueBlocked, rl.RunID(), issue.ID).WithData("category", string(category)))
	return types.IssueStatusBlocked, category
}

// completedPhasesFromTracker reconciles resume state against tracker
// status comments, the external ground-truth markers
func (o *Orchestrator) completedPhasesFromTracker(ctx context.Context, issue Issue) map[string]bool {
	done := make(map[string]bool)
	if !o.opts.Resume || o.track == nil || issue.Number == 0 {
		return done
	}
	comments, err := o.track.ListComments(ctx, issue.Number)
	if err != nil {
		log.Printf("⚠️ Reading tracker comments for %s failed: %v", issue.ID, err)
		return done
	}
	for _, body := range comments {
		issueID, ph, status, ok := tracker.ParseStatusComment(body)
		if ok && issueID == issue.ID && status == string(types.PhaseStatusCompleted) {
			done[ph] = true
		}
	}
	return done
}

// postStatusComment records phase progress on the tracker issue,
// best-effort
func (o *Orchestrator) postStatusComment(ctx context.Context, issue Issue, ph, status string) {
	if o.track == nil || issue.Number == 0 {
		return
	}
	body := tracker.FormatStatusComment(issue.ID, ph, status)
	if err := o.track.PostComment(ctx, issue.Number, body); err != nil {
		log.Printf("⚠️ Posting status comment for %s failed: %v", issue.ID, err)
	}
}
