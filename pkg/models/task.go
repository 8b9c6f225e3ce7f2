package models

import "time"

// TaskState represents the current state of a task.
type TaskState string

const (
	// TaskStatePending indicates the task is waiting on dependencies or assignment.
	TaskStatePending TaskState = "pending"
	// TaskStateReady indicates every predecessor has completed and the task is
	// eligible for dispatch.
	TaskStateReady TaskState = "ready"
	// TaskStateRunning indicates a worker is executing the task.
	TaskStateRunning TaskState = "running"
	// TaskStateCompleted indicates the task finished successfully. Terminal.
	TaskStateCompleted TaskState = "completed"
	// TaskStateFailedRetryable indicates the last attempt failed and the task
	// will return to pending once reflection completes.
	TaskStateFailedRetryable TaskState = "failed_retryable"
	// TaskStateFailedTerminal indicates the task exhausted its attempts. Terminal.
	TaskStateFailedTerminal TaskState = "failed_terminal"
	// TaskStateCancelled indicates the task was explicitly cancelled. Terminal.
	TaskStateCancelled TaskState = "cancelled"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStatePending, TaskStateReady, TaskStateRunning, TaskStateCompleted,
		TaskStateFailedRetryable, TaskStateFailedTerminal, TaskStateCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from this state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailedTerminal, TaskStateCancelled:
		return true
	default:
		return false
	}
}

// transitions maps each state to the set of states it may advance to.
// Cancellation from non-terminal states is handled separately in CanTransition.
var transitions = map[TaskState][]TaskState{
	// Pending may terminalize directly: an unassignable task (no worker
	// can ever satisfy its capabilities or capacity) fails without ever
	// being dispatched.
	TaskStatePending:         {TaskStateReady, TaskStateFailedTerminal},
	TaskStateReady:           {TaskStateRunning, TaskStatePending},
	TaskStateRunning:         {TaskStateCompleted, TaskStateFailedRetryable, TaskStateFailedTerminal},
	TaskStateFailedRetryable: {TaskStatePending, TaskStateFailedTerminal},
}

// CanTransition reports whether a task may move from one state to another.
// Cancelled is reachable from any non-terminal state.
func CanTransition(from, to TaskState) bool {
	if from.Terminal() {
		return false
	}
	if to == TaskStateCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Task represents a unit of schedulable work with dependencies.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// GraphID is the identifier of the graph this task belongs to.
	GraphID string `json:"graph_id"`
	// ProjectID is the owning project identifier.
	ProjectID string `json:"project_id,omitempty"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Capabilities lists the capability tags a worker must offer to run this task.
	Capabilities []string `json:"capabilities,omitempty"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Priority orders ready tasks; lower values schedule first.
	Priority int `json:"priority"`
	// State is the current state of the task.
	State TaskState `json:"state"`
	// AssignedTo is the ID of the worker executing this task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// Attempts is the number of execution attempts so far.
	Attempts int `json:"attempts"`
	// EstimatedTokens is the estimated resource footprint of the task itself,
	// excluding retrieved context.
	EstimatedTokens int64 `json:"estimated_tokens,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// AssignedAt is when the task was last dispatched, if ever.
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result holds the worker output for a completed task.
	Result *Result `json:"result,omitempty"`
	// Error contains the error message from the last failed attempt.
	Error string `json:"error,omitempty"`
}

// Result is the output produced by a worker for a task.
type Result struct {
	// Output is the opaque payload produced by the worker.
	Output string `json:"output,omitempty"`
	// InputTokens is the input-side cost of the attempt.
	InputTokens int64 `json:"input_tokens"`
	// OutputTokens is the output-side cost of the attempt.
	OutputTokens int64 `json:"output_tokens"`
	// Reusable indicates the worker flagged the result as a capturable pattern.
	Reusable bool `json:"reusable,omitempty"`
	// Summary is a short description of the result, used for pattern capture.
	Summary string `json:"summary,omitempty"`
}

// TotalTokens returns the combined input and output cost of the result.
func (r *Result) TotalTokens() int64 {
	if r == nil {
		return 0
	}
	return r.InputTokens + r.OutputTokens
}

// Edge expresses a dependency between two tasks in a graph submission:
// To cannot start until From has completed.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}
