package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cloud-shuttle/muster/internal/executor"
	"github.com/cloud-shuttle/muster/internal/git"
	"github.com/cloud-shuttle/muster/internal/history"
	"github.com/cloud-shuttle/muster/internal/phase"
	"github.com/cloud-shuttle/muster/internal/schedule"
	"github.com/cloud-shuttle/muster/internal/state"
	"github.com/cloud-shuttle/muster/internal/tracker"
	"github.com/cloud-shuttle/muster/internal/workflow"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize Muster in the current project",
		Long: `Initialize Muster in the current project.

Creates a .muster directory holding the JSON state store, append-only run
logs, the phase-execution history database, and issue worktrees.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}

			musterDir := filepath.Join(dir, ".muster")
			if _, err := os.Stat(musterDir); err == nil {
				return fmt.Errorf("already initialized in %s", musterDir)
			}
			for _, sub := range []string{"runs", "worktrees"} {
				if err := os.MkdirAll(filepath.Join(musterDir, sub), 0755); err != nil {
					return fmt.Errorf("creating %s: %w", sub, err)
				}
			}

			fmt.Printf("🐂 Initialized Muster in %s\n", musterDir)
			fmt.Println("\nNext steps:")
			fmt.Println("  muster run issue-1 issue-2")
			fmt.Println("  muster run --batch issues.json --chain --sequential")
			fmt.Println("  muster status")
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var (
		phasesFlag    string
		sequential    bool
		chainFlag     bool
		qaGate        bool
		qualityLoop   bool
		maxIterations int
		batchFile     string
		resume        bool
		dryRun        bool
		scheduleExpr  string
	)

	cmd := &cobra.Command{
		Use:   "run [issue-ref...]",
		Short: "Run a batch of issues through their phases",
		Long: `Run a batch of issues through their phases.

Issue refs are tracker issue numbers (fetched via gh when a tracker repo
is configured) or plain identifiers. Alternatively --batch names a JSON
file containing [{"id","title","body","number"}, ...].`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProject(); err != nil {
				return err
			}

			opts := workflow.Options{
				Sequential:    sequential,
				Chain:         chainFlag,
				QAGate:        qaGate,
				QualityLoop:   qualityLoop,
				MaxIterations: maxIterations,
				Resume:        resume,
				DryRun:        dryRun,
			}
			if phasesFlag != "" {
				names, err := phase.ParseList(phasesFlag)
				if err != nil {
					return fmt.Errorf("%w: %v", workflow.ErrConfig, err)
				}
				opts.Phases = names
			}

			issues, err := loadIssues(cmd.Context(), args, batchFile)
			if err != nil {
				return err
			}
			if len(issues) == 0 {
				return fmt.Errorf("%w: no issues to run", workflow.ErrConfig)
			}

			agent, err := executor.New(executor.Config{
				Type:    cfg.AgentType,
				Path:    cfg.AgentPath,
				Timeout: cfg.PhaseTimeout,
			})
			if err != nil {
				return fmt.Errorf("%w: %v", workflow.ErrConfig, err)
			}
			agent.SetVerbose(cfg.Verbose)
			if !dryRun {
				if err := agent.CheckInstalled(); err != nil {
					return fmt.Errorf("agent not available: %w", err)
				}
			}

			o, err := workflow.New(cfg, opts, agent)
			if err != nil {
				return err
			}
			defer o.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runOnce := func(ctx context.Context) error {
				summary, err := o.Run(ctx, issues)
				if summary != nil {
					workflow.PrintSummary(os.Stdout, summary)
				}
				if err != nil {
					return err
				}
				if code := workflow.ExitCode(summary, nil); code != workflow.ExitOK {
					return fmt.Errorf("batch finished with failures")
				}
				return nil
			}

			if scheduleExpr != "" {
				sched, err := schedule.New(scheduleExpr, runOnce)
				if err != nil {
					return fmt.Errorf("%w: %v", workflow.ErrConfig, err)
				}
				if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}

			summary, err := o.Run(ctx, issues)
			if summary != nil {
				workflow.PrintSummary(os.Stdout, summary)
			}
			o.Close()
			os.Exit(workflow.ExitCode(summary, err))
			return nil
		},
	}

	cmd.Flags().StringVar(&phasesFlag, "phases", "", "comma-separated phase list (default plan,generate-tests,implement,review)")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "halt the batch when an issue blocks")
	cmd.Flags().BoolVar(&chainFlag, "chain", false, "base each issue on its predecessor's work (requires --sequential)")
	cmd.Flags().BoolVar(&qaGate, "qa-gate", false, "require a passed review before a successor starts (requires --chain)")
	cmd.Flags().BoolVar(&qualityLoop, "quality-loop", true, "retry failed phases with fix cycles")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the implementation-class fix-cycle cap")
	cmd.Flags().StringVar(&batchFile, "batch", "", "JSON file describing the issues to run")
	cmd.Flags().BoolVar(&resume, "resume", false, "skip phases already completed in a prior run")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the plan without executing anything")
	cmd.Flags().StringVar(&scheduleExpr, "schedule", "", "cron expression for recurring runs")
	return cmd
}

// newOrchestrator builds an orchestrator for lifecycle commands that never
// invoke the agent
func newOrchestrator() (*workflow.Orchestrator, error) {
	agent, err := executor.New(executor.Config{
		Type:    cfg.AgentType,
		Path:    cfg.AgentPath,
		Timeout: cfg.PhaseTimeout,
	})
	if err != nil {
		return nil, err
	}
	return workflow.New(cfg, workflow.Options{}, agent)
}

// loadIssues resolves the batch's issues from a file or positional refs
func loadIssues(ctx context.Context, args []string, batchFile string) ([]workflow.Issue, error) {
	if batchFile != "" {
		data, err := os.ReadFile(batchFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading batch file: %v", workflow.ErrConfig, err)
		}
		var issues []workflow.Issue
		if err := json.Unmarshal(data, &issues); err != nil {
			return nil, fmt.Errorf("%w: parsing batch file: %v", workflow.ErrConfig, err)
		}
		return issues, nil
	}

	var gh *tracker.GH
	if cfg.TrackerRepo != "" {
		gh = tracker.NewGH(cfg.TrackerRepo)
	}

	var issues []workflow.Issue
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil && gh != nil {
			fetched, err := gh.FetchIssue(ctx, n)
			if err != nil {
				return nil, fmt.Errorf("fetching issue %d: %w", n, err)
			}
			issues = append(issues, workflow.Issue{
				ID:     fmt.Sprintf("issue-%d", fetched.Number),
				Title:  fetched.Title,
				Body:   fetched.Body,
				Number: fetched.Number,
			})
			continue
		}
		issues = append(issues, workflow.Issue{ID: arg})
	}
	return issues, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of all tracked issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProject(); err != nil {
				return err
			}
			store := state.NewStore(cfg.StateFile, cfg.LockWait)
			doc, err := store.Read()
			if err != nil {
				return err
			}
			if len(doc.Issues) == 0 {
				fmt.Println("No issues tracked yet")
				return nil
			}

			fmt.Printf("📊 %d issue(s), updated %s\n\n", len(doc.Issues), doc.UpdatedAt.Format(time.RFC3339))
			ids, _ := store.IssueIDs()
			for _, id := range ids {
				run := doc.Issues[id]
				line := fmt.Sprintf("  %s: %s", id, run.Status)
				if run.Title != "" {
					line = fmt.Sprintf("  %s (%s): %s", id, run.Title, run.Status)
				}
				if run.Category != "" {
					line += fmt.Sprintf(" [%s]", run.Category)
				}
				fmt.Println(line)
				for _, p := range run.Phases {
					detail := string(p.Status)
					if p.Iterations > 0 {
						detail += fmt.Sprintf(", %d fix cycles", p.Iterations)
					}
					if p.Verdict != "" {
						detail += fmt.Sprintf(", verdict %s", p.Verdict)
					}
					fmt.Printf("      %s: %s\n", p.Name, detail)
				}
			}
			return nil
		},
	}
}

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and repair the state store",
	}
	cmd.AddCommand(stateInitCmd(), stateRebuildCmd(), stateCleanCmd())
	return cmd
}

func stateInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Track existing worktrees the state store does not know about",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProject(); err != nil {
				return err
			}
			store := state.NewStore(cfg.StateFile, cfg.LockWait)
			wt := git.NewWorktreeManager(cfg.ProjectDir, cfg.WorktreeDir)
			added, err := workflow.StateInit(store, wt)
			if err != nil {
				return err
			}
			fmt.Printf("Tracked %d worktree(s)\n", len(added))
			return nil
		},
	}
}

func stateRebuildCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Reconstruct the state store from the run logs",
		Long: `Reconstruct the state store from the append-only run logs.

The run logs are the ground truth; the current state file is replaced
wholesale. Use this after the state file is reported corrupt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProject(); err != nil {
				return err
			}
			if !yes {
				fmt.Print("This replaces the current state file. Continue? [y/N] ")
				var answer string
				fmt.Scanln(&answer)
				if !strings.HasPrefix(strings.ToLower(answer), "y") {
					fmt.Println("Aborted")
					return nil
				}
			}
			store := state.NewStore(cfg.StateFile, cfg.LockWait)
			wt := git.NewWorktreeManager(cfg.ProjectDir, cfg.WorktreeDir)
			n, err := workflow.StateRebuild(cmd.Context(), store, wt, cfg.RunLogDir)
			if err != nil {
				return err
			}
			fmt.Printf("Rebuilt state for %d issue(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

func stateCleanCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Drop entries whose worktrees no longer exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProject(); err != nil {
				return err
			}
			store := state.NewStore(cfg.StateFile, cfg.LockWait)
			removed, err := workflow.StateClean(store, olderThan)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d stale entr(ies)\n", len(removed))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "spare entries updated more recently than this")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [issue-id]",
		Short: "Show phase execution history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProject(); err != nil {
				return err
			}
			hist, err := history.Open(cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer hist.Close()

			var execs []*history.PhaseExecution
			if len(args) == 1 {
				execs, err = hist.IssueHistory(args[0])
			} else {
				execs, err = hist.Recent(limit)
			}
			if err != nil {
				return err
			}
			if len(execs) == 0 {
				fmt.Println("No phase executions recorded")
				return nil
			}
			for _, e := range execs {
				line := fmt.Sprintf("%s  %s/%s: %s", e.RecordedAt.Format("2006-01-02 15:04"), e.IssueID, e.Phase, e.Status)
				if e.Iterations > 0 {
					line += fmt.Sprintf(" (%d fix cycles)", e.Iterations)
				}
				if e.Verdict != "" {
					line += fmt.Sprintf(" verdict=%s", e.Verdict)
				}
				if e.Error != "" {
					line += fmt.Sprintf(" error=%s", e.Error)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of recent executions to show")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the muster version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("muster", cmd.Root().Version)
		},
	}
}

func mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <issue-id>",
		Short: "Merge a ready issue into the base branch and tear down its workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProject(); err != nil {
				return err
			}
			o, err := newOrchestrator()
			if err != nil {
				return err
			}
			defer o.Close()
			return o.MergeIssue(cmd.Context(), args[0])
		},
	}
}

func abandonCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "abandon <issue-id>",
		Short: "Abandon an issue and discard its workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProject(); err != nil {
				return err
			}
			if !yes {
				fmt.Printf("This discards all work for %s. Continue? [y/N] ", args[0])
				var answer string
				fmt.Scanln(&answer)
				if !strings.HasPrefix(strings.ToLower(answer), "y") {
					fmt.Println("Aborted")
					return nil
				}
			}
			o, err := newOrchestrator()
			if err != nil {
				return err
			}
			defer o.Close()
			return o.AbandonIssue(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}
