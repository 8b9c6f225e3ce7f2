package graph

import (
	"sync"
	"time"

	"github.com/mgearhart/drover/pkg/models"
)

// record guards a single task. Each task carries its own lock so that
// transitions on independent tasks never contend.
type record struct {
	mu             sync.Mutex
	task           *models.Task
	reflections    []*models.Reflection
	lastTransition time.Time
	// pendingSince is when the task last became schedulable without an
	// assignment, used to surface Unassignable.
	pendingSince time.Time
}

// snapshot returns a copy of the task under the record's lock.
func (r *record) snapshot() *models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyTask(r.task)
}

// copyTask returns a shallow copy of the task with its slices duplicated,
// so callers can never mutate graph-owned state.
func copyTask(t *models.Task) *models.Task {
	c := *t
	c.Capabilities = append([]string(nil), t.Capabilities...)
	c.DependsOn = append([]string(nil), t.DependsOn...)
	if t.Result != nil {
		res := *t.Result
		c.Result = &res
	}
	if t.AssignedAt != nil {
		at := *t.AssignedAt
		c.AssignedAt = &at
	}
	if t.CompletedAt != nil {
		ct := *t.CompletedAt
		c.CompletedAt = &ct
	}
	return &c
}
