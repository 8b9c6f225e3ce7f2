// Package orchestrator drives task graphs to completion across a pool
// of workers.
//
// The orchestrator package provides functionality for:
//   - Scheduling: scoring eligible workers for each ready task and
//     dispatching to the best match
//   - Budget enforcement: reserving estimated tokens before dispatch and
//     committing actual usage on completion
//   - Failure handling: reflecting on failed attempts, requeueing
//     retryable tasks, and cancelling dependents of terminal failures
//   - Memory integration: retrieving relevant context before dispatch
//     and capturing reusable patterns from completed results
//
// The Run loop is the entry point. It polls for ready tasks, consumes
// worker completions, and emits Events describing every state change.
package orchestrator
