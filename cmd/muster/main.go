// Package main is the entry point for the Muster CLI
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloud-shuttle/muster/internal/config"
	"github.com/spf13/cobra"
)

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}

	rootCmd := &cobra.Command{
		Use:   "muster",
		Short: "Drive batches of issues through phased agent workflows",
		Long: `Muster orchestrates multi-phase software changes across batches of issues.
Each issue moves through explicit phases (plan, generate-tests, implement,
review) in its own git worktree, with quality-loop retries, chained
dependent issues, and durable state that survives interruption.`,
		Version: "0.1.0",
	}

	rootCmd.AddCommand(
		initCmd(),
		runCmd(),
		statusCmd(),
		stateCmd(),
		historyCmd(),
		mergeCmd(),
		abandonCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

// findProjectDir locates the muster project root by searching upward
func findProjectDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".muster")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a muster project (or any parent up to root)")
		}
		dir = parent
	}
}

// requireProject resolves config against the enclosing muster project
func requireProject() error {
	dir, err := findProjectDir()
	if err != nil {
		return err
	}
	cfg.Resolve(dir)
	return nil
}
