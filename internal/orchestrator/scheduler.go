package orchestrator

import (
	"sort"

	"github.com/mgearhart/drover/pkg/models"
)

// contextHeadroom is the fraction of a worker's context capacity a
// dispatch may use. The remainder is reserved for the worker's own
// overhead, so a task is only placed where estimate plus retrieved
// context stays under 80% of capacity.
const contextHeadroom = 0.8

// scoreWorker scores a worker against a ready task. contextTokens is the
// token allowance reserved for retrieved memory context on top of the
// task's own estimate. The second return is false when the worker is
// excluded by a hard filter: missing capabilities, no context headroom,
// or no free concurrency slot.
func scoreWorker(task *models.Task, w *models.Worker, contextTokens int64) (float64, bool) {
	if !w.HasCapabilities(task.Capabilities) {
		return 0, false
	}
	fit := contextFit(task, w, contextTokens)
	if fit == 0 {
		return 0, false
	}
	if w.Concurrency > 0 && w.Load >= w.Concurrency {
		return 0, false
	}

	score := weightCapability*w.CapabilityMatch(task.Capabilities) +
		weightLoad*(1-w.NormalizedLoad()) +
		weightSuccess*w.SuccessRate +
		weightContext*fit
	return score, true
}

// contextFit is 1 when the task's estimated footprint plus the memory
// context allowance fits within the worker's capacity at the reserved
// headroom threshold, and exactly 0 otherwise. Zero is a hard exclusion,
// not just a low score: oversized tasks are never truncated onto an
// incapable worker.
func contextFit(task *models.Task, w *models.Worker, contextTokens int64) float64 {
	if w.CapacityTokens <= 0 {
		return 1
	}
	footprint := task.EstimatedTokens
	if footprint > 0 {
		footprint += contextTokens
	}
	if float64(footprint) > float64(w.CapacityTokens)*contextHeadroom {
		return 0
	}
	return 1
}

// pickWorker returns the eligible worker with the highest score. Ties
// break toward the lower load, then the lexically smaller ID, so the
// same inputs always produce the same assignment.
func pickWorker(task *models.Task, workers []*models.Worker, contextTokens int64) *models.Worker {
	type candidate struct {
		worker *models.Worker
		score  float64
	}

	var candidates []candidate
	for _, w := range workers {
		if score, ok := scoreWorker(task, w, contextTokens); ok {
			candidates = append(candidates, candidate{worker: w, score: score})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.worker.Load != b.worker.Load {
			return a.worker.Load < b.worker.Load
		}
		return a.worker.ID < b.worker.ID
	})
	return candidates[0].worker
}

// anyCapable reports whether any registered worker could ever serve the
// task, ignoring transient state like load and budget. When this is
// false the task is unassignable and retrying will never help.
func anyCapable(task *models.Task, workers []*models.Worker, contextTokens int64) bool {
	for _, w := range workers {
		if !w.HasCapabilities(task.Capabilities) {
			continue
		}
		if contextFit(task, w, contextTokens) == 0 {
			continue
		}
		return true
	}
	return false
}
