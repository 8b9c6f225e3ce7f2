package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mgearhart/drover/internal/budget"
	"github.com/mgearhart/drover/internal/graph"
	"github.com/mgearhart/drover/internal/health"
	"github.com/mgearhart/drover/internal/memory"
	"github.com/mgearhart/drover/internal/pool"
	"github.com/mgearhart/drover/internal/reflection"
	"github.com/mgearhart/drover/pkg/models"
)

// MemoryStore is the slice of the memory store the orchestrator needs.
// Nil disables memory context and pattern capture.
type MemoryStore interface {
	Retrieve(ctx context.Context, q memory.Query) ([]memory.Scored, error)
	Save(ctx context.Context, item *models.MemoryItem) error
}

// MemoryMaintainer is the optional maintenance surface of a memory
// store. When the configured MemoryStore also implements it, the run
// loop sweeps expired items and promotes eligible ones periodically.
type MemoryMaintainer interface {
	Expire(ctx context.Context) (int, error)
	PromoteEligible(ctx context.Context) ([]string, error)
}

// StateStore receives task and graph snapshots for crash recovery.
// Nil disables persistence.
type StateStore interface {
	SaveGraph(graphID string, tasks []*models.Task, edges []models.Edge) error
	SaveTask(task *models.Task) error
}

// inflightAttempt tracks one dispatched attempt so completions can be
// reconciled and cancellations propagated to the executor.
type inflightAttempt struct {
	workerID string
	estimate int64
	cancel   context.CancelFunc
}

// Orchestrator drives task graphs to completion across the worker pool.
type Orchestrator struct {
	cfg     Config
	graphs  *graph.Manager
	pool    *pool.Pool
	ledger  *budget.Ledger
	mem     MemoryStore
	reflect *reflection.Engine
	monitor *health.Monitor
	emitter *EventEmitter
	logger  *DebugLogger
	state   StateStore

	mu       sync.Mutex
	inflight map[string]*inflightAttempt
}

// Deps carries the orchestrator's collaborators. Graphs, Pool, and
// Ledger are required; the rest are optional.
type Deps struct {
	Graphs  *graph.Manager
	Pool    *pool.Pool
	Ledger  *budget.Ledger
	Memory  MemoryStore
	Reflect *reflection.Engine
	Monitor *health.Monitor
	Logger  *DebugLogger
	State   StateStore
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Graphs == nil || deps.Pool == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("graph manager, pool, and ledger are required")
	}
	cfg = cfg.withDefaults()

	if deps.Reflect == nil {
		deps.Reflect = reflection.NewEngine(nil, deps.Memory)
	}
	if deps.Logger == nil {
		deps.Logger = NopLogger()
	}

	o := &Orchestrator{
		cfg:      cfg,
		graphs:   deps.Graphs,
		pool:     deps.Pool,
		ledger:   deps.Ledger,
		mem:      deps.Memory,
		reflect:  deps.Reflect,
		monitor:  deps.Monitor,
		emitter:  NewEventEmitter(cfg.EventBuffer),
		logger:   deps.Logger,
		state:    deps.State,
		inflight: make(map[string]*inflightAttempt),
	}

	if o.monitor != nil {
		o.monitor.OnStuck(func(rt graph.RunningTask, quiet time.Duration) {
			o.logger.Log("[health] task %s on worker %s quiet for %s", rt.TaskID, rt.WorkerID, quiet)
			o.emitter.Emit(Event{
				Type:     EventTaskStuck,
				TaskID:   rt.TaskID,
				WorkerID: rt.WorkerID,
				Message:  fmt.Sprintf("no activity for %s", quiet.Round(time.Second)),
			})
			// Cancel the in-flight attempt; its failed completion consumes
			// a retry through the normal failure path.
			o.mu.Lock()
			attempt := o.inflight[rt.TaskID]
			o.mu.Unlock()
			if attempt != nil {
				attempt.cancel()
			}
		})
	}
	return o, nil
}

// Events is the orchestrator's notification stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// DroppedEvents returns how many events were dropped on a full channel.
func (o *Orchestrator) DroppedEvents() uint64 {
	return o.emitter.DroppedCount()
}

// SubmitGraph validates and registers a task graph for execution. Tasks
// become eligible as their predecessors complete; nothing runs until the
// run loop picks them up.
func (o *Orchestrator) SubmitGraph(tasks []*models.Task, edges []models.Edge) (string, error) {
	graphID, err := o.graphs.SubmitGraph(tasks, edges)
	if err != nil {
		return "", err
	}
	o.logger.Log("[submit] graph %s accepted with %d tasks", graphID, len(tasks))

	if o.state != nil {
		stored, err := o.graphs.Tasks(graphID)
		if err == nil {
			if err := o.state.SaveGraph(graphID, stored, edges); err != nil {
				o.logger.Log("[submit] persist graph %s: %v", graphID, err)
			}
		}
	}

	o.emitter.Emit(Event{
		Type:    EventGraphSubmitted,
		GraphID: graphID,
		Message: fmt.Sprintf("%d tasks", len(tasks)),
	})
	return graphID, nil
}

// Cancel cancels a task and every transitive dependent that has not
// reached a terminal state. An in-flight attempt has its context
// cancelled; its eventual completion is discarded.
func (o *Orchestrator) Cancel(taskID string) error {
	dependents, err := o.graphs.Dependents(taskID)
	if err != nil {
		return err
	}

	for _, id := range append([]string{taskID}, dependents...) {
		o.cancelOne(id)
	}
	return nil
}

func (o *Orchestrator) cancelOne(taskID string) {
	o.mu.Lock()
	attempt := o.inflight[taskID]
	o.mu.Unlock()
	if attempt != nil {
		attempt.cancel()
	}

	err := o.graphs.Mark(taskID, models.TaskStateCancelled, nil, "cancelled")
	if err != nil {
		if !errors.Is(err, graph.ErrInvalidTransition) {
			o.logger.Log("[cancel] task %s: %v", taskID, err)
		}
		return
	}
	o.persistTask(taskID)
	o.emitter.Emit(Event{Type: EventTaskCancelled, TaskID: taskID})
}

// CancelGraph cancels every non-terminal task in a graph.
func (o *Orchestrator) CancelGraph(graphID string) error {
	tasks, err := o.graphs.Tasks(graphID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if !t.State.Terminal() {
			o.cancelOne(t.ID)
		}
	}
	return nil
}

// persistTask writes the task's current state through the state store.
func (o *Orchestrator) persistTask(taskID string) {
	if o.state == nil {
		return
	}
	t, err := o.graphs.Task(taskID)
	if err != nil {
		return
	}
	if err := o.state.SaveTask(t); err != nil {
		o.logger.Log("[state] persist task %s: %v", taskID, err)
	}
}

// memoryContext fetches relevant memory for a task under the configured
// timeout. Retrieval failure degrades to an empty context; the dispatch
// proceeds regardless.
func (o *Orchestrator) memoryContext(ctx context.Context, task *models.Task) []string {
	if o.mem == nil {
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, o.cfg.MemoryTimeout)
	defer cancel()

	scored, err := o.mem.Retrieve(rctx, memory.Query{
		Text:      task.Description,
		ProjectID: task.ProjectID,
		Tags:      task.Capabilities,
		Limit:     o.cfg.MemoryLimit,
	})
	if err != nil {
		o.logger.Log("[memory] retrieval for task %s degraded: %v", task.ID, err)
		return nil
	}

	out := make([]string, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.Item.Content)
	}
	return out
}

// capturePattern stores a reusable result as a working-tier memory item
// so later tasks with overlapping capabilities can retrieve it.
func (o *Orchestrator) capturePattern(ctx context.Context, task *models.Task, result *models.Result) {
	if o.mem == nil || result == nil || !result.Reusable {
		return
	}

	content := result.Summary
	if content == "" {
		content = result.Output
	}
	if content == "" {
		return
	}

	item := &models.MemoryItem{
		Tier:          models.TierWorking,
		Content:       content,
		Tags:          append([]string(nil), task.Capabilities...),
		ProjectID:     task.ProjectID,
		SuccessWeight: 0.7,
	}
	if err := o.mem.Save(ctx, item); err != nil {
		o.logger.Log("[memory] capture pattern for task %s: %v", task.ID, err)
		return
	}
	o.emitter.Emit(Event{Type: EventPatternCaptured, TaskID: task.ID})
}

// Snapshot is a point-in-time status summary across all graphs.
type Snapshot struct {
	Graphs    []GraphStatus    `json:"graphs"`
	Running   []RunningStatus  `json:"running"`
	Budget    []budget.Usage   `json:"budget"`
	Workers   []*models.Worker `json:"workers"`
	Dropped   uint64           `json:"dropped_events"`
	Timestamp time.Time        `json:"timestamp"`
}

// GraphStatus summarizes one graph's task states.
type GraphStatus struct {
	GraphID string                   `json:"graph_id"`
	Counts  map[models.TaskState]int `json:"counts"`
	Done    bool                     `json:"done"`
	Tasks   []*models.Task           `json:"tasks"`
}

// RunningStatus is one in-flight task in the snapshot.
type RunningStatus struct {
	TaskID   string        `json:"task_id"`
	WorkerID string        `json:"worker_id"`
	Quiet    time.Duration `json:"quiet"`
}

// Snapshot assembles the current status across graphs, workers, and
// budgets. Reads only copies; safe to call from any goroutine.
func (o *Orchestrator) Snapshot() Snapshot {
	now := time.Now()
	snap := Snapshot{
		Budget:    o.ledger.Report(),
		Workers:   o.pool.Workers(),
		Dropped:   o.emitter.DroppedCount(),
		Timestamp: now,
	}

	for _, graphID := range o.graphs.Graphs() {
		tasks, err := o.graphs.Tasks(graphID)
		if err != nil {
			continue
		}
		gs := GraphStatus{
			GraphID: graphID,
			Counts:  make(map[models.TaskState]int),
			Done:    o.graphs.Done(graphID),
			Tasks:   tasks,
		}
		for _, t := range tasks {
			gs.Counts[t.State]++
		}
		snap.Graphs = append(snap.Graphs, gs)
	}

	for _, rt := range o.graphs.Running() {
		snap.Running = append(snap.Running, RunningStatus{
			TaskID:   rt.TaskID,
			WorkerID: rt.WorkerID,
			Quiet:    now.Sub(rt.LastTransition),
		})
	}
	return snap
}

// Reflections returns the reflection history for a task.
func (o *Orchestrator) Reflections(taskID string) ([]*models.Reflection, error) {
	return o.graphs.Reflections(taskID)
}

// Task returns a copy of a task's current state.
func (o *Orchestrator) Task(taskID string) (*models.Task, error) {
	return o.graphs.Task(taskID)
}
