package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseBranch != "main" {
		t.Errorf("BaseBranch = %q, want main", cfg.BaseBranch)
	}
	if cfg.MaxImplementIterations != 3 || cfg.MaxReviewIterations != 2 {
		t.Errorf("iteration caps = %d/%d, want 3/2", cfg.MaxImplementIterations, cfg.MaxReviewIterations)
	}
	if cfg.PhaseTimeout != 45*time.Minute {
		t.Errorf("PhaseTimeout = %s, want 45m", cfg.PhaseTimeout)
	}
	if cfg.AgentType != "claude" || cfg.AgentPath != "claude" {
		t.Errorf("agent defaults = %s/%s", cfg.AgentType, cfg.AgentPath)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MUSTER_BASE_BRANCH", "develop")
	t.Setenv("MUSTER_PHASE_TIMEOUT", "10m")
	t.Setenv("MUSTER_MAX_IMPLEMENT_ITERATIONS", "5")
	t.Setenv("MUSTER_AGENT_TYPE", "opencode")
	t.Setenv("MUSTER_VERBOSE", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseBranch != "develop" {
		t.Errorf("BaseBranch = %q", cfg.BaseBranch)
	}
	if cfg.PhaseTimeout != 10*time.Minute {
		t.Errorf("PhaseTimeout = %s", cfg.PhaseTimeout)
	}
	if cfg.MaxImplementIterations != 5 {
		t.Errorf("MaxImplementIterations = %d", cfg.MaxImplementIterations)
	}
	if cfg.AgentPath != "opencode" {
		t.Errorf("AgentPath should follow AgentType, got %q", cfg.AgentPath)
	}
	if !cfg.Verbose {
		t.Error("Verbose not set")
	}
}

func TestBadEnvValuesKeepDefaults(t *testing.T) {
	t.Setenv("MUSTER_PHASE_TIMEOUT", "soon")
	t.Setenv("MUSTER_MAX_IMPLEMENT_ITERATIONS", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PhaseTimeout != 45*time.Minute {
		t.Errorf("PhaseTimeout = %s, want default", cfg.PhaseTimeout)
	}
	if cfg.MaxImplementIterations != 3 {
		t.Errorf("MaxImplementIterations = %d, want default", cfg.MaxImplementIterations)
	}
}

func TestResolveAnchorsPaths(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	cfg.Resolve(dir)

	if cfg.ProjectDir != dir {
		t.Errorf("ProjectDir = %q", cfg.ProjectDir)
	}
	for name, p := range map[string]string{
		"StateFile":   cfg.StateFile,
		"RunLogDir":   cfg.RunLogDir,
		"HistoryDB":   cfg.HistoryDB,
		"WorktreeDir": cfg.WorktreeDir,
	} {
		if !filepath.IsAbs(p) {
			t.Errorf("%s not absolute: %q", name, p)
		}
		if rel, err := filepath.Rel(dir, p); err != nil || rel == p {
			t.Errorf("%s not under project dir: %q", name, p)
		}
	}
}

func TestResolveKeepsAbsolutePaths(t *testing.T) {
	t.Setenv("MUSTER_STATE_FILE", "/var/lib/muster/state.json")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Resolve(t.TempDir())
	if cfg.StateFile != "/var/lib/muster/state.json" {
		t.Errorf("absolute path rewritten: %q", cfg.StateFile)
	}
}
