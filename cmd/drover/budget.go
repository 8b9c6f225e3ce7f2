package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mgearhart/drover/internal/config"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show and adjust worker token budgets",
	Long: `Budget prints the token ceiling configured for each worker.

A ceiling of 0 means unlimited. Live usage is reported in the run
summary when a run finishes.`,
	RunE: runBudget,
}

var budgetSetCmd = &cobra.Command{
	Use:   "set <worker-id> <ceiling>",
	Short: "Set a worker's token ceiling in the user config",
	Args:  cobra.ExactArgs(2),
	RunE:  runBudgetSet,
}

func init() {
	budgetCmd.AddCommand(budgetSetCmd)
}

func runBudget(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if len(cfg.Workers) == 0 {
		fmt.Println("No workers configured.")
		return nil
	}

	for _, wc := range cfg.Workers {
		if wc.BudgetCeiling == 0 {
			fmt.Printf("%-16s unlimited\n", wc.ID)
			continue
		}
		color.Cyan("%-16s ceiling %d tokens (tier %s)", wc.ID, wc.BudgetCeiling, wc.CostTier)
	}
	return nil
}

// runBudgetSet rewrites the worker's ceiling in the user config file.
// Takes effect on the next run; a live orchestrator keeps the ceiling it
// started with.
func runBudgetSet(cmd *cobra.Command, args []string) error {
	workerID := args[0]
	ceiling, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || ceiling < 0 {
		return fmt.Errorf("ceiling must be a non-negative integer, got %q", args[1])
	}

	path := config.GetUserConfigPath()
	doc := map[string]any{}
	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	workers, _ := doc["workers"].([]any)
	found := false
	for _, w := range workers {
		m, ok := w.(map[string]any)
		if !ok {
			continue
		}
		if id, _ := m["id"].(string); id == workerID {
			m["budget_ceiling"] = ceiling
			found = true
		}
	}
	if !found {
		workers = append(workers, map[string]any{"id": workerID, "budget_ceiling": ceiling})
	}
	doc["workers"] = workers

	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if ceiling == 0 {
		color.Green("%s: ceiling removed (unlimited)", workerID)
	} else {
		color.Green("%s: ceiling set to %d tokens", workerID, ceiling)
	}
	return nil
}
