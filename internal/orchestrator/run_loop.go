package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mgearhart/drover/internal/budget"
	"github.com/mgearhart/drover/internal/pool"
	"github.com/mgearhart/drover/pkg/models"
)

// Run drives scheduling until the context is cancelled, or until every
// graph is terminal when ExitWhenIdle is set. Blocking; callers start it
// on its own goroutine for service use.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.monitor != nil {
		go o.monitor.Run(ctx)
	}
	if o.mem != nil {
		go o.runMemorySweeps(ctx)
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()

		case c := <-o.pool.Completions():
			o.handleCompletion(ctx, c)

		case <-ticker.C:
			o.scheduleReady(ctx)
			if o.cfg.ExitWhenIdle && o.allDone() {
				o.logger.Log("[runLoop] all graphs terminal, exiting")
				return nil
			}
		}
	}
}

// shutdown cancels every in-flight attempt and waits for the executors
// to finish, draining completions the whole time so no executor stays
// blocked sending to a full completion buffer.
func (o *Orchestrator) shutdown() {
	o.cancelInflight()

	done := make(chan struct{})
	go func() {
		o.pool.Wait()
		close(done)
	}()
	for {
		select {
		case c := <-o.pool.Completions():
			o.releaseAttempt(c)
		case <-done:
			o.drainCompletions()
			return
		}
	}
}

// runMemorySweeps periodically expires stale memory items and promotes
// eligible working-tier items, when the configured store supports it.
func (o *Orchestrator) runMemorySweeps(ctx context.Context) {
	maint, ok := o.mem.(MemoryMaintainer)
	if !ok {
		return
	}

	ticker := time.NewTicker(o.cfg.MemorySweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := maint.Expire(ctx); err != nil {
				o.logger.Log("[memory] expiry sweep: %v", err)
			} else if n > 0 {
				o.logger.Log("[memory] expired %d items", n)
			}
			if ids, err := maint.PromoteEligible(ctx); err != nil {
				o.logger.Log("[memory] promotion sweep: %v", err)
			} else if len(ids) > 0 {
				o.logger.Log("[memory] promoted %d items to long", len(ids))
			}
		}
	}
}

// cancelInflight cancels the executor context of every in-flight attempt.
func (o *Orchestrator) cancelInflight() {
	o.mu.Lock()
	attempts := make([]*inflightAttempt, 0, len(o.inflight))
	for _, a := range o.inflight {
		attempts = append(attempts, a)
	}
	o.mu.Unlock()

	for _, a := range attempts {
		a.cancel()
	}
}

// drainCompletions empties the completion channel after shutdown so
// executor goroutines blocked on a full buffer can exit.
func (o *Orchestrator) drainCompletions() {
	for {
		select {
		case c := <-o.pool.Completions():
			o.releaseAttempt(c)
		default:
			return
		}
	}
}

// releaseAttempt drops the inflight bookkeeping and budget reservation
// for a completion that will not be processed.
func (o *Orchestrator) releaseAttempt(c pool.Completion) {
	o.mu.Lock()
	attempt := o.inflight[c.TaskID]
	delete(o.inflight, c.TaskID)
	o.mu.Unlock()
	if attempt != nil {
		o.ledger.Release(attempt.workerID, attempt.estimate)
	}
}

// allDone reports whether every registered graph is terminal.
func (o *Orchestrator) allDone() bool {
	o.mu.Lock()
	inflight := len(o.inflight)
	o.mu.Unlock()
	if inflight > 0 {
		return false
	}
	for _, id := range o.graphs.Graphs() {
		if !o.graphs.Done(id) {
			return false
		}
	}
	return true
}

// scheduleReady runs one scheduling pass: collect ready tasks across all
// graphs and dispatch each to the best-scoring eligible worker.
func (o *Orchestrator) scheduleReady(ctx context.Context) {
	workers := o.pool.Workers()

	for _, graphID := range o.graphs.Graphs() {
		if o.graphs.Done(graphID) {
			continue
		}
		ready, err := o.graphs.ReadyTasks(graphID)
		if err != nil {
			continue
		}

		for _, task := range ready {
			o.mu.Lock()
			_, busy := o.inflight[task.ID]
			o.mu.Unlock()
			if busy {
				continue
			}
			o.dispatchTask(ctx, graphID, task, workers)
		}
	}
}

// dispatchTask routes one ready task: unassignable detection, worker
// selection, budget reservation, memory retrieval, then handoff.
func (o *Orchestrator) dispatchTask(ctx context.Context, graphID string, task *models.Task, workers []*models.Worker) {
	if !anyCapable(task, workers, o.cfg.MemoryContextTokens) {
		o.markUnassignable(graphID, task.ID,
			fmt.Sprintf("no registered worker satisfies capabilities %v within capacity", task.Capabilities))
		return
	}

	worker := pickWorker(task, workers, o.cfg.MemoryContextTokens)
	if worker == nil {
		// Capable workers exist but all are saturated; try next tick,
		// up to the pending bound.
		if o.graphs.PendingSince(task.ID) > o.cfg.MaxPending {
			o.markUnassignable(graphID, task.ID,
				fmt.Sprintf("no worker qualified within %s", o.cfg.MaxPending))
		}
		return
	}

	estimate := task.EstimatedTokens
	ok, err := o.ledger.Reserve(worker.ID, estimate)
	if err != nil {
		if errors.Is(err, budget.ErrUnknownAccount) {
			o.ledger.Register(worker.ID, 0)
			ok, err = o.ledger.Reserve(worker.ID, estimate)
		}
		if err != nil {
			o.logger.Log("[budget] reserve for task %s on %s: %v", task.ID, worker.ID, err)
			return
		}
	}
	if !ok {
		o.emitter.Emit(Event{
			Type:     EventBudgetDeferred,
			GraphID:  graphID,
			TaskID:   task.ID,
			WorkerID: worker.ID,
			Message:  "reservation denied, task deferred",
		})
		return
	}

	if err := o.graphs.Mark(task.ID, models.TaskStateReady, nil, ""); err != nil {
		o.ledger.Release(worker.ID, estimate)
		return
	}
	o.emitter.Emit(Event{Type: EventTaskReady, GraphID: graphID, TaskID: task.ID})

	o.graphs.Assign(task.ID, worker.ID)
	if err := o.graphs.Mark(task.ID, models.TaskStateRunning, nil, ""); err != nil {
		o.ledger.Release(worker.ID, estimate)
		return
	}
	o.persistTask(task.ID)

	taskCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.inflight[task.ID] = &inflightAttempt{workerID: worker.ID, estimate: estimate, cancel: cancel}
	o.mu.Unlock()

	// Re-snapshot after the running transition so the attempt count on
	// the dispatched copy is current.
	current, err := o.graphs.Task(task.ID)
	if err != nil {
		current = task
	}

	// Memory retrieval and the handoff run off the loop goroutine so a
	// slow retrieval never delays other ready-task dispatches.
	go func() {
		memctx := o.memoryContext(taskCtx, current)
		if taskCtx.Err() != nil {
			o.abortDispatch(task.ID, worker.ID, estimate, cancel)
			return
		}

		if err := o.pool.Dispatch(taskCtx, worker.ID, current, memctx); err != nil {
			o.logger.Log("[dispatch] task %s to %s failed: %v", task.ID, worker.ID, err)
			o.abortDispatch(task.ID, worker.ID, estimate, cancel)
			o.graphs.Mark(task.ID, models.TaskStateFailedRetryable, nil, err.Error())
			o.graphs.Mark(task.ID, models.TaskStatePending, nil, "")
			return
		}

		o.logger.Log("[dispatch] task %s -> worker %s (attempt %d)", task.ID, worker.ID, current.Attempts)
		o.emitter.Emit(Event{
			Type:     EventTaskDispatched,
			GraphID:  graphID,
			TaskID:   task.ID,
			WorkerID: worker.ID,
			Attempt:  current.Attempts,
		})
	}()
}

// markUnassignable terminalizes a task no worker can serve and surfaces
// the reason. The Mark can race a concurrent cancellation; the event is
// only emitted when the transition took.
func (o *Orchestrator) markUnassignable(graphID, taskID, msg string) {
	o.logger.Log("[schedule] task %s unassignable: %s", taskID, msg)
	if err := o.graphs.Mark(taskID, models.TaskStateFailedTerminal, nil, msg); err != nil {
		return
	}
	o.persistTask(taskID)
	o.emitter.Emit(Event{Type: EventTaskUnassignable, GraphID: graphID, TaskID: taskID, Message: msg})
	if o.graphs.Done(graphID) {
		o.emitter.Emit(Event{Type: EventGraphDone, GraphID: graphID})
	}
}

// abortDispatch unwinds the bookkeeping of a dispatch that never reached
// an executor.
func (o *Orchestrator) abortDispatch(taskID, workerID string, estimate int64, cancel context.CancelFunc) {
	cancel()
	o.mu.Lock()
	delete(o.inflight, taskID)
	o.mu.Unlock()
	o.ledger.Release(workerID, estimate)
}

// handleCompletion reconciles one finished attempt: budget commit, then
// success, cancellation, or the failure/reflection/retry path.
func (o *Orchestrator) handleCompletion(ctx context.Context, c pool.Completion) {
	o.mu.Lock()
	attempt := o.inflight[c.TaskID]
	delete(o.inflight, c.TaskID)
	o.mu.Unlock()

	task, err := o.graphs.Task(c.TaskID)
	if err != nil || task.State == models.TaskStateCancelled {
		// The attempt raced a cancellation; its outcome is discarded and
		// the reservation returned rather than spent.
		if attempt != nil {
			o.ledger.Release(attempt.workerID, attempt.estimate)
			attempt.cancel()
		}
		return
	}

	if attempt != nil {
		actual := attempt.estimate
		if c.Result != nil {
			actual = c.Result.TotalTokens()
		}
		if err := o.ledger.Commit(attempt.workerID, attempt.estimate, actual); err != nil {
			o.logger.Log("[budget] commit for task %s: %v", c.TaskID, err)
		}
		attempt.cancel()
	}

	if c.Err == nil {
		o.completeTask(ctx, task, c)
		return
	}
	o.failTask(ctx, task, c)
}

func (o *Orchestrator) completeTask(ctx context.Context, task *models.Task, c pool.Completion) {
	if err := o.graphs.Mark(c.TaskID, models.TaskStateCompleted, c.Result, ""); err != nil {
		o.logger.Log("[complete] task %s: %v", c.TaskID, err)
		return
	}
	o.persistTask(c.TaskID)
	o.logger.Log("[complete] task %s on worker %s", c.TaskID, c.WorkerID)
	o.emitter.Emit(Event{
		Type:     EventTaskCompleted,
		GraphID:  task.GraphID,
		TaskID:   c.TaskID,
		WorkerID: c.WorkerID,
	})

	o.capturePattern(ctx, task, c.Result)

	if o.graphs.Done(task.GraphID) {
		o.emitter.Emit(Event{Type: EventGraphDone, GraphID: task.GraphID})
	}
}

func (o *Orchestrator) failTask(ctx context.Context, task *models.Task, c pool.Completion) {
	failure := c.Err.Error()

	prior, _ := o.graphs.Reflections(c.TaskID)
	r, rerr := o.reflect.Reflect(ctx, task, failure, prior)
	if rerr != nil {
		o.logger.Log("[reflect] task %s: %v", c.TaskID, rerr)
	} else {
		o.graphs.AddReflection(c.TaskID, r)
	}

	if task.Attempts >= o.cfg.MaxRetries {
		msg := fmt.Sprintf("failed after %d attempts: %s", task.Attempts, failure)
		if err := o.graphs.Mark(c.TaskID, models.TaskStateFailedTerminal, nil, msg); err != nil {
			return
		}
		o.persistTask(c.TaskID)
		o.logger.Log("[fail] task %s terminal: %s", c.TaskID, msg)
		o.emitter.Emit(Event{
			Type:     EventTaskTerminal,
			GraphID:  task.GraphID,
			TaskID:   c.TaskID,
			WorkerID: c.WorkerID,
			Err:      c.Err,
			Attempt:  task.Attempts,
		})
		if o.graphs.Done(task.GraphID) {
			o.emitter.Emit(Event{Type: EventGraphDone, GraphID: task.GraphID})
		}
		return
	}

	if err := o.graphs.Mark(c.TaskID, models.TaskStateFailedRetryable, nil, failure); err != nil {
		return
	}
	// Back to pending; the next tick reschedules it with the reflection
	// history available through memory retrieval.
	if err := o.graphs.Mark(c.TaskID, models.TaskStatePending, nil, ""); err != nil {
		return
	}
	o.persistTask(c.TaskID)
	o.logger.Log("[fail] task %s attempt %d failed, requeued: %s", c.TaskID, task.Attempts, failure)
	o.emitter.Emit(Event{
		Type:     EventTaskFailed,
		GraphID:  task.GraphID,
		TaskID:   c.TaskID,
		WorkerID: c.WorkerID,
		Err:      c.Err,
		Attempt:  task.Attempts,
	})
}

// Poll runs one scheduling pass synchronously and processes any already
// queued completions. Test and single-step path; Run is the service path.
func (o *Orchestrator) Poll(ctx context.Context) {
	for {
		select {
		case c := <-o.pool.Completions():
			o.handleCompletion(ctx, c)
			continue
		default:
		}
		break
	}
	o.scheduleReady(ctx)
}
