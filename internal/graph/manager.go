package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mgearhart/drover/pkg/models"
)

// Manager holds every submitted task graph and performs all task state
// transitions. Tasks are mutated exclusively through Mark; they are never
// deleted, only terminalized.
type Manager struct {
	// mu protects the graph/task maps, not task state. Task state is
	// guarded per record.
	mu     sync.RWMutex
	graphs map[string]*taskGraph
	// byTask maps task ID to its record for direct lookup.
	byTask map[string]*record
	// taskGraphOf maps task ID to its owning graph.
	taskGraphOf map[string]*taskGraph
	// now is the clock, swappable in tests.
	now func() time.Time
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		graphs:      make(map[string]*taskGraph),
		byTask:      make(map[string]*record),
		taskGraphOf: make(map[string]*taskGraph),
		now:         time.Now,
	}
}

// SubmitGraph validates and stores a task graph. The dependency lists on the
// tasks and the explicit edge list are merged. Returns ErrCycleDetected if
// the combined graph is not acyclic; a rejected submission stores nothing.
func (m *Manager) SubmitGraph(tasks []*models.Task, edges []models.Edge) (string, error) {
	return m.submit(uuid.New().String()[:8], tasks, edges)
}

// ResumeGraph registers a recovered graph under its original ID. Task
// states on the input are preserved, so completed work stays completed
// across a restart.
func (m *Manager) ResumeGraph(graphID string, tasks []*models.Task, edges []models.Edge) error {
	if graphID == "" {
		return fmt.Errorf("graph ID required for resume")
	}
	m.mu.RLock()
	_, exists := m.graphs[graphID]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("graph %s already registered", graphID)
	}
	_, err := m.submit(graphID, tasks, edges)
	return err
}

func (m *Manager) submit(graphID string, tasks []*models.Task, edges []models.Edge) (string, error) {
	if len(tasks) == 0 {
		return "", fmt.Errorf("empty graph submission")
	}

	deps, err := buildDeps(tasks, edges)
	if err != nil {
		return "", err
	}

	ids := make([]string, 0, len(tasks))
	idSet := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if idSet[t.ID] {
			return "", fmt.Errorf("task %s submitted twice: %w", t.ID, ErrDuplicateTask)
		}
		idSet[t.ID] = true
		ids = append(ids, t.ID)
	}

	if hasCycle(ids, deps) {
		return "", ErrCycleDetected
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range tasks {
		if _, exists := m.byTask[t.ID]; exists {
			return "", fmt.Errorf("task %s already registered: %w", t.ID, ErrDuplicateTask)
		}
	}

	now := m.now()

	g := &taskGraph{
		id:         graphID,
		records:    make(map[string]*record, len(tasks)),
		deps:       deps,
		dependents: invertDeps(deps),
		order:      ids,
	}

	for _, t := range tasks {
		c := copyTask(t)
		c.GraphID = graphID
		c.DependsOn = append([]string(nil), deps[t.ID]...)
		if c.State == "" {
			c.State = models.TaskStatePending
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		rec := &record{task: c, lastTransition: now, pendingSince: now}
		g.records[t.ID] = rec
		m.byTask[t.ID] = rec
		m.taskGraphOf[t.ID] = g
	}
	m.graphs[graphID] = g

	return graphID, nil
}

// ReadyTasks returns copies of the tasks in the graph that are pending with
// every predecessor completed, ordered by priority then creation time then
// ID. The ordering is stable so scheduling is reproducible.
func (m *Manager) ReadyTasks(graphID string) ([]*models.Task, error) {
	m.mu.RLock()
	g, ok := m.graphs[graphID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("graph %s: %w", graphID, ErrUnknownGraph)
	}

	var ready []*models.Task
	for _, id := range g.order {
		rec := g.records[id]
		t := rec.snapshot()
		if t.State != models.TaskStatePending {
			continue
		}
		if m.depsCompleted(g, id) {
			ready = append(ready, t)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].ID < ready[j].ID
	})

	return ready, nil
}

// depsCompleted reports whether every predecessor of the task is completed.
// Each dependency record is locked individually, never the whole graph.
func (m *Manager) depsCompleted(g *taskGraph, taskID string) bool {
	for _, depID := range g.deps[taskID] {
		dep := g.records[depID]
		dep.mu.Lock()
		state := dep.task.State
		dep.mu.Unlock()
		if state != models.TaskStateCompleted {
			return false
		}
	}
	return true
}

// Mark performs an atomic state transition on a single task. Illegal
// transitions fail with ErrInvalidTransition. Marking a task completed
// unblocks its dependents for the next ReadyTasks call; no re-submission
// is needed.
func (m *Manager) Mark(taskID string, state models.TaskState, result *models.Result, errMsg string) error {
	rec, err := m.record(taskID)
	if err != nil {
		return err
	}
	g := m.graphOf(taskID)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	from := rec.task.State
	if !models.CanTransition(from, state) {
		return fmt.Errorf("task %s: %s -> %s: %w", taskID, from, state, ErrInvalidTransition)
	}
	if state == models.TaskStateReady && !m.depsCompleted(g, taskID) {
		return fmt.Errorf("task %s: predecessors incomplete: %w", taskID, ErrInvalidTransition)
	}

	now := m.now()
	rec.task.State = state
	rec.lastTransition = now

	switch state {
	case models.TaskStatePending:
		rec.task.AssignedTo = ""
		rec.pendingSince = now
	case models.TaskStateRunning:
		rec.task.Attempts++
		at := now
		rec.task.AssignedAt = &at
	case models.TaskStateCompleted:
		rec.task.Result = result
		rec.task.Error = ""
		ct := now
		rec.task.CompletedAt = &ct
	case models.TaskStateFailedRetryable:
		rec.task.Error = errMsg
	case models.TaskStateFailedTerminal, models.TaskStateCancelled:
		if errMsg != "" {
			rec.task.Error = errMsg
		}
		ct := now
		rec.task.CompletedAt = &ct
	}

	return nil
}

// Assign records the worker an about-to-run task was given to. Called
// between the ready and running transitions at dispatch time.
func (m *Manager) Assign(taskID, workerID string) error {
	rec, err := m.record(taskID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.task.AssignedTo = workerID
	return nil
}

// Touch refreshes a task's liveness timestamp without a state change.
// Workers report progress through this path so the health monitor does not
// flag long-running but live tasks.
func (m *Manager) Touch(taskID string) {
	rec, err := m.record(taskID)
	if err != nil {
		return
	}
	rec.mu.Lock()
	rec.lastTransition = m.now()
	rec.mu.Unlock()
}

// Task returns a copy of the task with the given ID.
func (m *Manager) Task(taskID string) (*models.Task, error) {
	rec, err := m.record(taskID)
	if err != nil {
		return nil, err
	}
	return rec.snapshot(), nil
}

// Tasks returns copies of every task in the graph, in submission order.
func (m *Manager) Tasks(graphID string) ([]*models.Task, error) {
	m.mu.RLock()
	g, ok := m.graphs[graphID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("graph %s: %w", graphID, ErrUnknownGraph)
	}

	tasks := make([]*models.Task, 0, len(g.order))
	for _, id := range g.order {
		tasks = append(tasks, g.records[id].snapshot())
	}
	return tasks, nil
}

// Graphs returns the IDs of all registered graphs.
func (m *Manager) Graphs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.graphs))
	for id := range m.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Done reports whether every task in the graph is in a terminal state.
func (m *Manager) Done(graphID string) bool {
	m.mu.RLock()
	g, ok := m.graphs[graphID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	for _, id := range g.order {
		rec := g.records[id]
		rec.mu.Lock()
		terminal := rec.task.State.Terminal()
		rec.mu.Unlock()
		if !terminal {
			return false
		}
	}
	return true
}

// AddReflection appends a failure analysis to the task's history.
func (m *Manager) AddReflection(taskID string, r *models.Reflection) error {
	rec, err := m.record(taskID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	rec.reflections = append(rec.reflections, r)
	rec.mu.Unlock()
	return nil
}

// Reflections returns the task's full reflection history, oldest first.
// A terminal failure always surfaces with this history attached.
func (m *Manager) Reflections(taskID string) ([]*models.Reflection, error) {
	rec, err := m.record(taskID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]*models.Reflection(nil), rec.reflections...), nil
}

// RunningTask is a snapshot of an in-flight task used by the health monitor.
type RunningTask struct {
	TaskID         string
	WorkerID       string
	LastTransition time.Time
}

// Running returns a snapshot of every task currently in the running state.
// The monitor iterates this copy, never the live maps.
func (m *Manager) Running() []RunningTask {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.byTask))
	for _, rec := range m.byTask {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	var running []RunningTask
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.task.State == models.TaskStateRunning {
			running = append(running, RunningTask{
				TaskID:         rec.task.ID,
				WorkerID:       rec.task.AssignedTo,
				LastTransition: rec.lastTransition,
			})
		}
		rec.mu.Unlock()
	}

	sort.Slice(running, func(i, j int) bool { return running[i].TaskID < running[j].TaskID })
	return running
}

// PendingSince returns how long the task has been pending without an
// assignment. Zero if the task is not pending.
func (m *Manager) PendingSince(taskID string) time.Duration {
	rec, err := m.record(taskID)
	if err != nil {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.task.State != models.TaskStatePending {
		return 0
	}
	return m.now().Sub(rec.pendingSince)
}

// Dependents returns the transitive dependents of a task: every task
// that directly or indirectly depends on it, in deterministic order.
// Cancellation propagates along this set.
func (m *Manager) Dependents(taskID string) ([]string, error) {
	if _, err := m.record(taskID); err != nil {
		return nil, err
	}
	g := m.graphOf(taskID)

	seen := map[string]bool{taskID: true}
	var out []string
	queue := []string{taskID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependents[id] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			queue = append(queue, dep)
		}
	}
	sort.Strings(out)
	return out, nil
}

// TopologicalOrder returns the graph's task IDs in dependency order.
func (m *Manager) TopologicalOrder(graphID string) ([]string, error) {
	m.mu.RLock()
	g, ok := m.graphs[graphID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("graph %s: %w", graphID, ErrUnknownGraph)
	}
	return g.topologicalOrder(), nil
}

// record looks up the guarded record for a task ID.
func (m *Manager) record(taskID string) (*record, error) {
	m.mu.RLock()
	rec, ok := m.byTask[taskID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrUnknownTask)
	}
	return rec, nil
}

// graphOf returns the owning graph for a task. Caller must have verified
// the task exists.
func (m *Manager) graphOf(taskID string) *taskGraph {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.taskGraphOf[taskID]
}
