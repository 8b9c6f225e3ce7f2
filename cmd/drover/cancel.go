package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mgearhart/drover/internal/state"
	"github.com/mgearhart/drover/pkg/models"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a persisted task and everything downstream of it",
	Long: `Cancel marks a task and all tasks that depend on it, directly or
transitively, as cancelled in the state database. Completed and already
terminal tasks are left untouched. Takes effect on the next run; a live
orchestrator will not pick cancelled tasks back up on recovery.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := state.Open(state.DefaultDBPath(cfg.DataDir))
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

	for _, graphID := range graphIDs {
		tasks, err := db.GraphTasks(graphID)
		if err != nil {
			return fmt.Errorf("load graph %s: %w", graphID, err)
		}
		byID := make(map[string]*models.Task, len(tasks))
		for _, t := range tasks {
			byID[t.ID] = t
		}
		if _, ok := byID[taskID]; !ok {
			continue
		}

		edges, err := db.GraphEdges(graphID)
		if err != nil {
			return fmt.Errorf("load edges for graph %s: %w", graphID, err)
		}

		cancelled := 0
		for _, id := range downstreamOf(taskID, tasks, edges) {
			t := byID[id]
			switch t.State {
			case models.TaskStateCompleted, models.TaskStateFailedTerminal, models.TaskStateCancelled:
				continue
			}
			t.State = models.TaskStateCancelled
			t.AssignedTo = ""
			if err := db.SaveTask(t); err != nil {
				return fmt.Errorf("cancel task %s: %w", id, err)
			}
			color.Magenta("cancelled %s", id)
			cancelled++
		}
		if cancelled == 0 {
			fmt.Printf("task %s and its dependents are already settled\n", taskID)
		}
		return nil
	}

	return fmt.Errorf("task %s not found in any active graph", taskID)
}

// downstreamOf returns the task plus every transitive dependent, using
// both explicit edges and per-task depends_on lists.
func downstreamOf(taskID string, tasks []*models.Task, edges []models.Edge) []string {
	dependents := make(map[string][]string)
	for _, e := range edges {
		dependents[e.From] = append(dependents[e.From], e.To)
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	seen := map[string]bool{taskID: true}
	order := []string{taskID}
	queue := []string{taskID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range dependents[id] {
			if seen[next] {
				continue
			}
			seen[next] = true
			order = append(order, next)
			queue = append(queue, next)
		}
	}
	return order
}
