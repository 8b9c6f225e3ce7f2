// Package reflection turns task failures into structured analyses and
// feeds them back into the memory store, so repeated failures surface
// their own history at retry time.
package reflection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mgearhart/drover/pkg/models"
)

// Success weights stamped on persisted reflections. Generalizable
// lessons start at the promotion threshold so they become long-tier
// candidates once access, age, and project spread accrue; one-off
// failures start below it and never promote on their own.
const (
	generalizableWeight = 0.8
	oneOffWeight        = 0.4
)

// Analyzer produces a failure analysis for a failed attempt, given the
// task's prior reflections so repeated failures can be recognized. The
// default is the heuristic classifier below; callers can plug in a
// model-backed implementation instead.
type Analyzer interface {
	Analyze(ctx context.Context, task *models.Task, failure string, prior []*models.Reflection) (*models.Reflection, error)
}

// MemoryWriter is the slice of the memory store the engine needs.
type MemoryWriter interface {
	Save(ctx context.Context, item *models.MemoryItem) error
}

// Engine runs the analyzer on failures and persists every analysis to
// the working memory tier.
type Engine struct {
	analyzer Analyzer
	memory   MemoryWriter
	now      func() time.Time
}

// NewEngine creates an Engine. A nil analyzer selects HeuristicAnalyzer.
func NewEngine(analyzer Analyzer, memory MemoryWriter) *Engine {
	if analyzer == nil {
		analyzer = HeuristicAnalyzer{}
	}
	return &Engine{analyzer: analyzer, memory: memory, now: time.Now}
}

// Reflect analyzes a failed attempt and writes the analysis to working
// memory tagged with the task's capabilities, so retries of this task
// and retrievals for similar tasks surface it. Generalizable lessons are
// weighted at the promotion threshold; one-off failures below it, so
// only lessons that generalize ever become long-tier candidates. The
// reflection is returned for attachment to the task's history.
func (e *Engine) Reflect(ctx context.Context, task *models.Task, failure string, prior []*models.Reflection) (*models.Reflection, error) {
	r, err := e.analyzer.Analyze(ctx, task, failure, prior)
	if err != nil {
		return nil, fmt.Errorf("analyze failure for task %s: %w", task.ID, err)
	}
	r.TaskID = task.ID
	r.Attempt = task.Attempts
	if r.CreatedAt.IsZero() {
		r.CreatedAt = e.now()
	}

	if e.memory != nil {
		weight := oneOffWeight
		if r.Generalizable {
			weight = generalizableWeight
		}
		item := &models.MemoryItem{
			Tier:          models.TierWorking,
			Content:       r.RootCause + "; revised approach: " + r.RevisedApproach,
			Tags:          append(append([]string(nil), task.Capabilities...), "reflection"),
			ProjectID:     task.ProjectID,
			SuccessWeight: weight,
			CreatedAt:     r.CreatedAt,
		}
		if err := e.memory.Save(ctx, item); err != nil {
			return nil, fmt.Errorf("persist reflection for task %s: %w", task.ID, err)
		}
	}
	return r, nil
}

// HeuristicAnalyzer classifies failures by error text. It is deliberately
// coarse: the goal is a usable retry hint, not a diagnosis.
type HeuristicAnalyzer struct{}

// failureClass maps recognizable failure text to an analysis template.
type failureClass struct {
	needles       []string
	rootCause     string
	invalidated   []string
	revised       string
	generalizable bool
}

var classes = []failureClass{
	{
		needles:       []string{"timeout", "timed out", "deadline exceeded"},
		rootCause:     "the attempt exceeded its time budget",
		invalidated:   []string{"the task completes within the default window"},
		revised:       "split the work into smaller steps or raise the per-attempt timeout",
		generalizable: true,
	},
	{
		needles:       []string{"budget", "token limit", "ceiling"},
		rootCause:     "the attempt ran out of cost budget",
		invalidated:   []string{"the cost estimate covers the real work"},
		revised:       "raise the estimate or route to a cheaper worker tier",
		generalizable: true,
	},
	{
		needles:       []string{"permission denied", "unauthorized", "forbidden"},
		rootCause:     "the worker lacked access to a required resource",
		invalidated:   []string{"the worker's credentials cover every touched resource"},
		revised:       "grant the missing access or route to a worker that has it",
		generalizable: true,
	},
	{
		needles:       []string{"not found", "no such file", "does not exist"},
		rootCause:     "a referenced resource was missing",
		invalidated:   []string{"all referenced inputs exist before dispatch"},
		revised:       "verify inputs exist before retrying, or add a producing predecessor task",
		generalizable: true,
	},
	{
		needles:       []string{"connection refused", "connection reset", "unreachable", "broken pipe"},
		rootCause:     "a network dependency was unavailable",
		invalidated:   []string{"downstream services are reachable during the attempt"},
		revised:       "retry with backoff; the failure is likely transient",
		generalizable: true,
	},
}

// Analyze classifies the failure text. A root cause already present in
// the prior reflections means the last revision did not hold, and the
// revised approach says so instead of repeating itself. Unrecognized
// failures get a generic, non-generalizable analysis: there is nothing
// safe to teach other tasks from them.
func (HeuristicAnalyzer) Analyze(_ context.Context, task *models.Task, failure string, prior []*models.Reflection) (*models.Reflection, error) {
	lower := strings.ToLower(failure)
	for _, c := range classes {
		for _, n := range c.needles {
			if !strings.Contains(lower, n) {
				continue
			}
			revised := c.revised
			if repeats := countRootCause(prior, c.rootCause); repeats > 0 {
				revised = fmt.Sprintf("%s; the same cause failed %d earlier attempt(s), so vary the approach rather than retrying as-is", c.revised, repeats)
			}
			return &models.Reflection{
				RootCause:              c.rootCause,
				InvalidatedAssumptions: append([]string(nil), c.invalidated...),
				RevisedApproach:        revised,
				Generalizable:          c.generalizable,
			}, nil
		}
	}

	return &models.Reflection{
		RootCause:       fmt.Sprintf("unclassified failure: %s", truncate(failure, 200)),
		RevisedApproach: "retry as-is; escalate to terminal if the failure repeats",
		Generalizable:   false,
	}, nil
}

// countRootCause counts prior reflections sharing the given root cause.
func countRootCause(prior []*models.Reflection, rootCause string) int {
	n := 0
	for _, p := range prior {
		if p.RootCause == rootCause {
			n++
		}
	}
	return n
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
