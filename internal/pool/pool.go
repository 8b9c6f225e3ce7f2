// Package pool manages the registered worker set: capability metadata,
// live load, rolling success rates, and asynchronous task dispatch.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/mgearhart/drover/pkg/models"
)

// successWindow is the number of recent outcomes the rolling success
// rate is computed over.
const successWindow = 20

var (
	// ErrUnknownWorker indicates no worker is registered under the ID.
	ErrUnknownWorker = errors.New("unknown worker")
	// ErrDuplicateWorker indicates the worker ID is already registered.
	ErrDuplicateWorker = errors.New("worker already registered")
	// ErrAtCapacity indicates the worker has no free concurrency slot.
	ErrAtCapacity = errors.New("worker at capacity")
)

// Executor performs the actual work of one task. Implementations wrap
// whatever executes tasks: a subprocess, an API call, an in-process
// function in tests.
type Executor interface {
	Execute(ctx context.Context, task *models.Task, memoryContext []string) (*models.Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *models.Task, memoryContext []string) (*models.Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task *models.Task, memoryContext []string) (*models.Result, error) {
	return f(ctx, task, memoryContext)
}

// Completion is the outcome of one dispatched attempt, delivered on the
// pool's completion channel.
type Completion struct {
	TaskID   string
	WorkerID string
	Result   *models.Result
	Err      error
}

// entry is the pool's per-worker state. All fields are guarded by the
// pool mutex; dispatch holds it only for bookkeeping, never across an
// executor call.
type entry struct {
	worker   *models.Worker
	executor Executor
	inflight int
	// outcomes is a ring of recent attempt outcomes, newest last.
	outcomes []bool
}

func (e *entry) successRate() float64 {
	if len(e.outcomes) == 0 {
		// No history yet: score optimistically so new workers get work.
		return 1.0
	}
	ok := 0
	for _, o := range e.outcomes {
		if o {
			ok++
		}
	}
	return float64(ok) / float64(len(e.outcomes))
}

func (e *entry) record(success bool) {
	e.outcomes = append(e.outcomes, success)
	if len(e.outcomes) > successWindow {
		e.outcomes = e.outcomes[len(e.outcomes)-successWindow:]
	}
}

// Pool is the registered worker set.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry

	completions chan Completion
	wg          conc.WaitGroup
	now         func() time.Time
}

// New creates an empty pool. The completion channel is buffered so
// executors finishing in a burst do not block each other behind a slow
// consumer.
func New(buffer int) *Pool {
	if buffer <= 0 {
		buffer = 64
	}
	return &Pool{
		entries:     make(map[string]*entry),
		completions: make(chan Completion, buffer),
		now:         time.Now,
	}
}

// Register adds a worker and its executor to the pool.
func (p *Pool) Register(w *models.Worker, ex Executor) error {
	if w.ID == "" {
		return fmt.Errorf("worker ID required")
	}
	if ex == nil {
		return fmt.Errorf("worker %s: executor required", w.ID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[w.ID]; exists {
		return fmt.Errorf("worker %s: %w", w.ID, ErrDuplicateWorker)
	}

	c := *w
	c.Capabilities = append([]string(nil), w.Capabilities...)
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	c.LastStatusChange = p.now()
	p.entries[w.ID] = &entry{worker: &c, executor: ex}
	return nil
}

// Deregister removes a worker. In-flight attempts run to completion;
// their outcomes are dropped.
func (p *Pool) Deregister(workerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[workerID]; !ok {
		return fmt.Errorf("worker %s: %w", workerID, ErrUnknownWorker)
	}
	delete(p.entries, workerID)
	return nil
}

// Workers returns snapshots of every registered worker with live load
// and success rate filled in, sorted by ID.
func (p *Pool) Workers() []*models.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*models.Worker, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, p.snapshotLocked(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Worker returns a snapshot of one worker.
func (p *Pool) Worker(workerID string) (*models.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[workerID]
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", workerID, ErrUnknownWorker)
	}
	return p.snapshotLocked(e), nil
}

func (p *Pool) snapshotLocked(e *entry) *models.Worker {
	c := *e.worker
	c.Capabilities = append([]string(nil), e.worker.Capabilities...)
	c.Load = e.inflight
	c.SuccessRate = e.successRate()
	return &c
}

// Dispatch hands a task to a worker's executor on a fresh goroutine.
// The worker's load is incremented immediately and released when the
// attempt finishes; the outcome arrives on Completions. Dispatch fails
// fast when the worker is unknown or already at its concurrency limit,
// the scheduler keeps the task ready and tries again later.
func (p *Pool) Dispatch(ctx context.Context, workerID string, task *models.Task, memoryContext []string) error {
	p.mu.Lock()
	e, ok := p.entries[workerID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("worker %s: %w", workerID, ErrUnknownWorker)
	}
	if e.inflight >= e.worker.Concurrency {
		p.mu.Unlock()
		return fmt.Errorf("worker %s: %w", workerID, ErrAtCapacity)
	}
	e.inflight++
	e.worker.LastStatusChange = p.now()
	executor := e.executor
	p.mu.Unlock()

	p.wg.Go(func() {
		result, err := executor.Execute(ctx, task, memoryContext)

		p.mu.Lock()
		if cur, ok := p.entries[workerID]; ok {
			cur.inflight--
			cur.record(err == nil)
			cur.worker.LastStatusChange = p.now()
		}
		p.mu.Unlock()

		p.completions <- Completion{
			TaskID:   task.ID,
			WorkerID: workerID,
			Result:   result,
			Err:      err,
		}
	})
	return nil
}

// Completions is the stream of finished attempts.
func (p *Pool) Completions() <-chan Completion {
	return p.completions
}

// Wait blocks until every in-flight attempt has finished. Shutdown path;
// the caller must keep draining Completions or buffered sends may block.
func (p *Pool) Wait() {
	p.wg.Wait()
}
