// Package graph holds the task dependency graphs and drives the per-task
// state machine. It accepts validated {tasks, edges} payloads, exposes the
// ready set, and performs atomic state transitions.
package graph

import (
	"fmt"

	"github.com/mgearhart/drover/pkg/models"
)

// taskGraph is a single submitted DAG. Topology is immutable after
// submission; only per-task state changes afterwards.
type taskGraph struct {
	id string
	// records maps task ID to its guarded record.
	records map[string]*record
	// deps maps task ID to the IDs it is blocked by.
	deps map[string][]string
	// dependents maps task ID to the IDs blocked by it.
	dependents map[string][]string
	// order preserves submission order for stable iteration.
	order []string
}

// hasCycle runs depth-first search with coloring to detect back edges.
// Color states: 0 = unvisited, 1 = in progress, 2 = done.
func hasCycle(ids []string, deps map[string][]string) bool {
	colors := make(map[string]int, len(ids))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range deps[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, id := range ids {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// buildDeps merges the per-task DependsOn lists with the explicit edge list
// into a single dependency map, validating that every reference resolves.
func buildDeps(tasks []*models.Task, edges []models.Edge) (map[string][]string, error) {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}

	deps := make(map[string][]string, len(tasks))
	seen := make(map[string]map[string]bool, len(tasks))
	add := func(taskID, depID string) error {
		if !known[depID] {
			return fmt.Errorf("task %s depends on unknown task %s: %w", taskID, depID, ErrUnknownTask)
		}
		if seen[taskID] == nil {
			seen[taskID] = make(map[string]bool)
		}
		if seen[taskID][depID] {
			return nil
		}
		seen[taskID][depID] = true
		deps[taskID] = append(deps[taskID], depID)
		return nil
	}

	for _, t := range tasks {
		deps[t.ID] = nil
		for _, depID := range t.DependsOn {
			if err := add(t.ID, depID); err != nil {
				return nil, err
			}
		}
	}
	for _, e := range edges {
		if !known[e.To] {
			return nil, fmt.Errorf("edge targets unknown task %s: %w", e.To, ErrUnknownTask)
		}
		if err := add(e.To, e.From); err != nil {
			return nil, err
		}
	}
	return deps, nil
}

// invertDeps builds the dependents map from the dependency map.
func invertDeps(deps map[string][]string) map[string][]string {
	dependents := make(map[string][]string, len(deps))
	for id, blockedBy := range deps {
		for _, depID := range blockedBy {
			dependents[depID] = append(dependents[depID], id)
		}
	}
	return dependents
}

// TopologicalOrder returns the graph's task IDs with every dependency
// before the tasks that depend on it. Iteration follows submission order
// so the result is deterministic.
func (g *taskGraph) topologicalOrder() []string {
	visited := make(map[string]bool, len(g.order))
	var result []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.deps[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for _, id := range g.order {
		visit(id)
	}
	return result
}
