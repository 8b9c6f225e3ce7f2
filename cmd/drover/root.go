package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mgearhart/drover/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Task graph orchestrator for heterogeneous worker pools",
	Long: `Drover coordinates dependency-ordered task graphs across a pool of
workers with different capabilities, budgets, and context capacities.

Core capabilities:
- Validates and schedules task DAGs with deterministic worker selection
- Enforces per-worker cost budgets with hard stops
- Learns from failures via reflection and a tiered memory store
- Flags stuck tasks and retries transient failures
- Persists run state for crash recovery`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the effective configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (overrides discovery)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(versionCmd)
}
