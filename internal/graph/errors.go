package graph

import "errors"

var (
	// ErrCycleDetected indicates a circular dependency was found in a
	// submitted task graph. The submission is rejected and nothing is stored.
	ErrCycleDetected = errors.New("circular dependency detected")

	// ErrInvalidTransition indicates a task state transition that the state
	// machine does not allow. This is a programming error in the caller and
	// is surfaced, never silently ignored.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrUnknownTask indicates the referenced task ID is not registered.
	ErrUnknownTask = errors.New("unknown task")

	// ErrUnknownGraph indicates the referenced graph ID is not registered.
	ErrUnknownGraph = errors.New("unknown graph")

	// ErrDuplicateTask indicates a submission reuses an already-registered
	// task ID.
	ErrDuplicateTask = errors.New("duplicate task id")
)
