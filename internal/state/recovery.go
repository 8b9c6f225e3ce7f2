package state

import (
	"fmt"

	"github.com/mgearhart/drover/pkg/models"
)

// RecoveredGraph is one graph reloaded from the database after a restart.
type RecoveredGraph struct {
	GraphID string
	Tasks   []*models.Task
	Edges   []models.Edge
}

// Recover loads every active graph for resubmission. Tasks that were
// mid-flight at the crash come back as pending, so a completed-but-
// unrecorded attempt runs again. Execution is at-least-once; completed
// and terminal states are preserved.
func (db *DB) Recover() ([]RecoveredGraph, error) {
	graphIDs, err := db.ActiveGraphs()
	if err != nil {
		return nil, fmt.Errorf("list active graphs: %w", err)
	}

	var out []RecoveredGraph
	for _, graphID := range graphIDs {
		tasks, err := db.GraphTasks(graphID)
		if err != nil {
			return nil, fmt.Errorf("load tasks for graph %s: %w", graphID, err)
		}
		edges, err := db.GraphEdges(graphID)
		if err != nil {
			return nil, fmt.Errorf("load edges for graph %s: %w", graphID, err)
		}

		for _, t := range tasks {
			if !t.State.Terminal() && t.State != models.TaskStateCompleted {
				t.State = models.TaskStatePending
				t.AssignedTo = ""
			}
		}
		out = append(out, RecoveredGraph{GraphID: graphID, Tasks: tasks, Edges: edges})
	}
	return out, nil
}
