package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mgearhart/drover/internal/memory"
	"github.com/mgearhart/drover/internal/state"
	"github.com/mgearhart/drover/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted graph and memory state",
	Long: `Display the persisted state of submitted graphs.

Shows:
  - Graphs and their per-state task counts
  - Individual task progress with attempts and errors
  - Memory store tier sizes`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dbPath := state.DefaultDBPath(cfg.DataDir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No state recorded. Run 'drover run <graph.yaml>' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	graphIDs, err := db.ActiveGraphs()
	if err != nil {
		return fmt.Errorf("list graphs: %w", err)
	}
	if len(graphIDs) == 0 {
		fmt.Println("No active graphs.")
	}

	for _, graphID := range graphIDs {
		tasks, err := db.GraphTasks(graphID)
		if err != nil {
			return fmt.Errorf("load graph %s: %w", graphID, err)
		}
		displayGraph(graphID, tasks)
	}

	return displayMemoryStats(cfg.DataDir)
}

func displayGraph(graphID string, tasks []*models.Task) {
	counts := make(map[models.TaskState]int)
	for _, t := range tasks {
		counts[t.State]++
	}

	fmt.Printf("Graph %s (%d tasks):", graphID, len(tasks))
	for _, st := range []models.TaskState{
		models.TaskStatePending, models.TaskStateReady, models.TaskStateRunning,
		models.TaskStateCompleted, models.TaskStateFailedRetryable,
		models.TaskStateFailedTerminal, models.TaskStateCancelled,
	} {
		if n := counts[st]; n > 0 {
			fmt.Printf(" %s=%d", st, n)
		}
	}
	fmt.Println()

	for _, t := range tasks {
		title := t.Title
		if title == "" {
			title = t.ID
		}
		line := fmt.Sprintf("  %-12s %-24s", t.ID, title)
		switch t.State {
		case models.TaskStateCompleted:
			color.Green("%s completed", line)
		case models.TaskStateFailedTerminal:
			color.Red("%s failed (%d attempts): %s", line, t.Attempts, t.Error)
		case models.TaskStateCancelled:
			color.Magenta("%s cancelled", line)
		case models.TaskStateRunning:
			color.Blue("%s running on %s", line, t.AssignedTo)
		default:
			if t.Attempts > 0 {
				color.Yellow("%s %s (attempt %d)", line, t.State, t.Attempts)
			} else {
				fmt.Printf("%s %s\n", line, t.State)
			}
		}
	}
}

func displayMemoryStats(dataDir string) error {
	memPath := memory.DBPath(dataDir)
	if _, err := os.Stat(memPath); os.IsNotExist(err) {
		return nil
	}

	mem, err := memory.Open(memPath, memory.Options{})
	if err != nil {
		return nil
	}
	defer mem.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	counts, err := mem.TierCounts(ctx)
	if err != nil {
		return nil
	}

	fmt.Printf("Memory: short=%d working=%d long=%d\n",
		counts[models.TierShort], counts[models.TierWorking], counts[models.TierLong])
	return nil
}
