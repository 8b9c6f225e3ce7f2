package models

import "time"

// Worker describes a capability-tagged executor registered with the pool.
// The pool owns the record; the scheduler mutates load and the health
// monitor refreshes the status timestamp.
type Worker struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id"`
	// Capabilities is the set of capability tags this worker offers.
	Capabilities []string `json:"capabilities"`
	// Concurrency is the maximum number of in-flight tasks.
	Concurrency int `json:"concurrency"`
	// CapacityTokens is the context window budget for a single dispatch.
	CapacityTokens int64 `json:"capacity_tokens"`
	// CostTier names the model/cost class this worker runs on.
	CostTier string `json:"cost_tier,omitempty"`
	// Load is the current count of in-flight tasks.
	Load int `json:"load"`
	// SuccessRate is the rolling success ratio over the last N attempts.
	SuccessRate float64 `json:"success_rate"`
	// LastStatusChange is when the worker last changed status.
	LastStatusChange time.Time `json:"last_status_change"`
}

// HasCapabilities reports whether the worker's capability set is a superset
// of the required tags. An empty requirement matches every worker.
func (w *Worker) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	offered := make(map[string]bool, len(w.Capabilities))
	for _, c := range w.Capabilities {
		offered[c] = true
	}
	for _, r := range required {
		if !offered[r] {
			return false
		}
	}
	return true
}

// CapabilityMatch scores how closely the worker's tag set matches the
// required tags: 1.0 for an exact match, decaying as the worker carries
// tags the task does not need. Returns 0 if the worker is not a superset.
func (w *Worker) CapabilityMatch(required []string) float64 {
	if !w.HasCapabilities(required) {
		return 0
	}
	if len(w.Capabilities) == 0 {
		return 1.0
	}
	if len(required) == 0 {
		return 1.0 / float64(len(w.Capabilities))
	}
	return float64(len(required)) / float64(len(w.Capabilities))
}

// NormalizedLoad returns the in-flight count divided by the concurrency
// limit, clamped to [0, 1].
func (w *Worker) NormalizedLoad() float64 {
	if w.Concurrency <= 0 {
		return 1.0
	}
	load := float64(w.Load) / float64(w.Concurrency)
	if load > 1.0 {
		return 1.0
	}
	return load
}
