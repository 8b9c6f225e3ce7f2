// Package orchestrator coordinates task graphs across the worker pool:
// scheduling, budget enforcement, failure reflection, and retries.
package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventGraphSubmitted indicates a task graph was accepted.
	EventGraphSubmitted EventType = "graph_submitted"
	// EventTaskReady indicates a task's predecessors completed.
	EventTaskReady EventType = "task_ready"
	// EventTaskDispatched indicates a task was handed to a worker.
	EventTaskDispatched EventType = "task_dispatched"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates an attempt failed; a retry may follow.
	EventTaskFailed EventType = "task_failed"
	// EventTaskTerminal indicates a task exhausted its retries.
	EventTaskTerminal EventType = "task_terminal"
	// EventTaskCancelled indicates a task was cancelled.
	EventTaskCancelled EventType = "task_cancelled"
	// EventTaskUnassignable indicates no registered worker can ever serve
	// the task's capability requirements.
	EventTaskUnassignable EventType = "task_unassignable"
	// EventTaskStuck indicates the health monitor flagged a quiet task.
	EventTaskStuck EventType = "task_stuck"
	// EventBudgetDeferred indicates a dispatch was deferred for budget.
	EventBudgetDeferred EventType = "budget_deferred"
	// EventPatternCaptured indicates a reusable result was written to memory.
	EventPatternCaptured EventType = "pattern_captured"
	// EventGraphDone indicates every task in a graph reached a terminal state.
	EventGraphDone EventType = "graph_done"
)

// Event is an orchestrator notification. Status consumers subscribe to
// these; the run loop never blocks on a slow subscriber.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// GraphID is the related graph, if applicable.
	GraphID string
	// TaskID is the related task, if applicable.
	TaskID string
	// WorkerID is the related worker, if applicable.
	WorkerID string
	// Message provides additional context about the event.
	Message string
	// Err contains error details for failure events.
	Err error
	// Attempt is the attempt number for dispatch/failure events.
	Attempt int
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
