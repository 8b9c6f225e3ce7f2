package models

import "testing"

func TestTaskStateValid(t *testing.T) {
	valid := []TaskState{
		TaskStatePending, TaskStateReady, TaskStateRunning, TaskStateCompleted,
		TaskStateFailedRetryable, TaskStateFailedTerminal, TaskStateCancelled,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if TaskState("unknown").Valid() {
		t.Error("expected unknown state to be invalid")
	}
}

func TestTaskStateTerminal(t *testing.T) {
	tests := []struct {
		state    TaskState
		terminal bool
	}{
		{TaskStatePending, false},
		{TaskStateReady, false},
		{TaskStateRunning, false},
		{TaskStateFailedRetryable, false},
		{TaskStateCompleted, true},
		{TaskStateFailedTerminal, true},
		{TaskStateCancelled, true},
	}
	for _, tc := range tests {
		if got := tc.state.Terminal(); got != tc.terminal {
			t.Errorf("%s: expected terminal=%v, got %v", tc.state, tc.terminal, got)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskState
		allowed  bool
	}{
		{TaskStatePending, TaskStateReady, true},
		{TaskStateReady, TaskStateRunning, true},
		{TaskStateReady, TaskStatePending, true},
		{TaskStateRunning, TaskStateCompleted, true},
		{TaskStateRunning, TaskStateFailedRetryable, true},
		{TaskStateRunning, TaskStateFailedTerminal, true},
		{TaskStateFailedRetryable, TaskStatePending, true},
		{TaskStateFailedRetryable, TaskStateFailedTerminal, true},
		// Unassignable tasks terminalize without ever being dispatched.
		{TaskStatePending, TaskStateFailedTerminal, true},
		// Cancellation from any non-terminal state.
		{TaskStatePending, TaskStateCancelled, true},
		{TaskStateReady, TaskStateCancelled, true},
		{TaskStateRunning, TaskStateCancelled, true},
		{TaskStateFailedRetryable, TaskStateCancelled, true},
		// Illegal moves.
		{TaskStateCompleted, TaskStatePending, false},
		{TaskStateCompleted, TaskStateCompleted, false},
		{TaskStateCompleted, TaskStateCancelled, false},
		{TaskStateCancelled, TaskStateRunning, false},
		{TaskStateFailedTerminal, TaskStatePending, false},
		{TaskStatePending, TaskStateRunning, false},
		{TaskStatePending, TaskStateCompleted, false},
		{TaskStateRunning, TaskStatePending, false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s, %s): expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestResultTotalTokens(t *testing.T) {
	var r *Result
	if r.TotalTokens() != 0 {
		t.Error("nil result should report zero tokens")
	}
	r = &Result{InputTokens: 100, OutputTokens: 250}
	if r.TotalTokens() != 350 {
		t.Errorf("expected 350, got %d", r.TotalTokens())
	}
}
