// Package worker provides the command-backed executor: each task is
// handed to an external process as JSON on stdin, and the result is read
// back from stdout.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mgearhart/drover/internal/exec"
	"github.com/mgearhart/drover/pkg/models"
)

// Payload is the JSON document the worker process receives on stdin.
type Payload struct {
	Task          *models.Task `json:"task"`
	MemoryContext []string     `json:"memory_context,omitempty"`
}

// CommandExecutor runs one external command per task. It satisfies the
// pool's Executor interface.
type CommandExecutor struct {
	runner  exec.CommandRunner
	workDir string
	command []string
}

// NewCommandExecutor creates an executor for the given command line.
// A nil runner selects the real os/exec runner.
func NewCommandExecutor(runner exec.CommandRunner, workDir string, command []string) (*CommandExecutor, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("worker command required")
	}
	if runner == nil {
		runner = exec.NewRunner()
	}
	return &CommandExecutor{runner: runner, workDir: workDir, command: command}, nil
}

// Execute serializes the task and its memory context to the worker
// process and parses the result from stdout. A process that exits
// non-zero fails the attempt; stdout that is not valid result JSON is
// wrapped as a plain-text result rather than rejected.
func (e *CommandExecutor) Execute(ctx context.Context, task *models.Task, memoryContext []string) (*models.Result, error) {
	payload, err := json.Marshal(Payload{Task: task, MemoryContext: memoryContext})
	if err != nil {
		return nil, fmt.Errorf("marshal payload for task %s: %w", task.ID, err)
	}

	out, err := e.runner.RunInput(ctx, e.workDir, payload, e.command[0], e.command[1:]...)
	if err != nil {
		return nil, fmt.Errorf("worker command for task %s: %w", task.ID, err)
	}

	var result models.Result
	if jsonErr := json.Unmarshal(out, &result); jsonErr != nil {
		// Plain-text workers are fine; their whole stdout is the output.
		return &models.Result{Output: string(out)}, nil
	}
	return &result, nil
}
