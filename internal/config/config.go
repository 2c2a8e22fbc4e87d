// Package config handles Muster configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds Muster configuration
type Config struct {
	// Project layout
	StateFile   string // JSON state store path
	RunLogDir   string // append-only batch run logs
	HistoryDB   string // sqlite phase-execution history
	WorktreeDir string // where issue worktrees are created

	// Version control
	BaseBranch      string // trunk; chain base when no predecessor exists
	ChainWarnLength int    // advisory ceiling before long-chain warning

	// Agent settings
	AgentType    string // "claude" or "opencode"
	AgentPath    string // path to agent binary
	PhaseTimeout time.Duration

	// Quality loop budgets
	MaxImplementIterations int
	MaxReviewIterations    int

	// State store locking
	LockWait time.Duration

	// Issue tracker
	TrackerRepo string // owner/repo for gh; empty disables tracker calls

	// Webhook notifications
	WebhookURL    string
	WebhookSecret string

	// Project directory (detected)
	ProjectDir string

	// Verbose mode for debugging
	Verbose bool
}

// Load loads configuration from environment and defaults
func Load() (*Config, error) {
	cfg := &Config{
		StateFile:              filepath.Join(".muster", "state.json"),
		RunLogDir:              filepath.Join(".muster", "runs"),
		HistoryDB:              filepath.Join(".muster", "history.db"),
		WorktreeDir:            filepath.Join(".muster", "worktrees"),
		BaseBranch:             "main",
		ChainWarnLength:        5,
		AgentType:              "claude",
		AgentPath:              "claude",
		PhaseTimeout:           45 * time.Minute,
		MaxImplementIterations: 3,
		MaxReviewIterations:    2,
		LockWait:               10 * time.Second,
	}

	// Environment overrides
	if v := os.Getenv("MUSTER_STATE_FILE"); v != "" {
		cfg.StateFile = v
	}
	if v := os.Getenv("MUSTER_BASE_BRANCH"); v != "" {
		cfg.BaseBranch = v
	}
	if v := os.Getenv("MUSTER_AGENT_TYPE"); v != "" {
		cfg.AgentType = v
	}
	if v := os.Getenv("MUSTER_AGENT_PATH"); v != "" {
		cfg.AgentPath = v
	}
	if v := os.Getenv("MUSTER_PHASE_TIMEOUT"); v != "" {
		cfg.PhaseTimeout = parseDurationOrDefault(v, cfg.PhaseTimeout)
	}
	if v := os.Getenv("MUSTER_MAX_IMPLEMENT_ITERATIONS"); v != "" {
		cfg.MaxImplementIterations = parseIntOrDefault(v, cfg.MaxImplementIterations)
	}
	if v := os.Getenv("MUSTER_MAX_REVIEW_ITERATIONS"); v != "" {
		cfg.MaxReviewIterations = parseIntOrDefault(v, cfg.MaxReviewIterations)
	}
	if v := os.Getenv("MUSTER_CHAIN_WARN_LENGTH"); v != "" {
		cfg.ChainWarnLength = parseIntOrDefault(v, cfg.ChainWarnLength)
	}
	if v := os.Getenv("MUSTER_LOCK_WAIT"); v != "" {
		cfg.LockWait = parseDurationOrDefault(v, cfg.LockWait)
	}
	if v := os.Getenv("MUSTER_TRACKER_REPO"); v != "" {
		cfg.TrackerRepo = v
	}
	if v := os.Getenv("MUSTER_WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}
	if v := os.Getenv("MUSTER_WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
	if v := os.Getenv("MUSTER_VERBOSE"); v != "" {
		cfg.Verbose = v == "true" || v == "1"
	}

	// AgentPath defaults follow AgentType unless explicitly set
	if cfg.AgentPath == "claude" && cfg.AgentType == "opencode" {
		cfg.AgentPath = "opencode"
	}

	return cfg, nil
}

// Resolve anchors the project-relative paths at the given project directory
func (c *Config) Resolve(projectDir string) {
	c.ProjectDir = projectDir
	for _, p := range []*string{&c.StateFile, &c.RunLogDir, &c.HistoryDB, &c.WorktreeDir} {
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(projectDir, *p)
		}
	}
}

func parseIntOrDefault(s string, def int) int {
	var i int
	if _, err := fmt.Sscanf(s, "%d", &i); err != nil {
		return def
	}
	return i
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
