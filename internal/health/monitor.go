// Package health watches in-flight tasks and flags the ones that have
// gone quiet. Detection is passive: the monitor only reads snapshots and
// notifies; remediation stays with the scheduler and the operator.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/mgearhart/drover/internal/graph"
)

// Defaults for the polling loop.
const (
	DefaultInterval   = 30 * time.Second
	DefaultStuckAfter = 15 * time.Minute
)

// RunningSource supplies the in-flight task snapshot each poll. The
// graph manager satisfies it.
type RunningSource interface {
	Running() []graph.RunningTask
}

// StuckHandler is notified when a running task crosses the stuck
// threshold. Handlers run on the monitor goroutine and must not block.
type StuckHandler func(task graph.RunningTask, quiet time.Duration)

// Monitor polls the running-task snapshot and fires handlers for tasks
// whose last activity is older than the threshold. Each stuck episode
// fires once: a task keeps its flag until it transitions or reports
// progress, then becomes eligible again.
type Monitor struct {
	source     RunningSource
	interval   time.Duration
	stuckAfter time.Duration

	mu       sync.Mutex
	handlers []StuckHandler
	// flagged maps task ID to the lastTransition that triggered the flag.
	// A newer lastTransition means the task showed life and re-arms it.
	flagged map[string]time.Time

	now func() time.Time
}

// NewMonitor creates a Monitor over the given snapshot source. Zero
// durations fall back to the defaults.
func NewMonitor(source RunningSource, interval, stuckAfter time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if stuckAfter <= 0 {
		stuckAfter = DefaultStuckAfter
	}
	return &Monitor{
		source:     source,
		interval:   interval,
		stuckAfter: stuckAfter,
		flagged:    make(map[string]time.Time),
		now:        time.Now,
	}
}

// OnStuck registers a handler. Registration order is notification order.
func (m *Monitor) OnStuck(h StuckHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Run polls until the context is cancelled. Blocking; callers start it
// on its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll()
		}
	}
}

// Poll runs one detection pass. Exposed so tests and the scheduler can
// drive detection without the ticker.
func (m *Monitor) Poll() {
	running := m.source.Running()
	now := m.now()

	m.mu.Lock()
	// Drop flags for tasks that left the running set.
	current := make(map[string]bool, len(running))
	for _, rt := range running {
		current[rt.TaskID] = true
	}
	for id := range m.flagged {
		if !current[id] {
			delete(m.flagged, id)
		}
	}

	var fire []graph.RunningTask
	for _, rt := range running {
		quiet := now.Sub(rt.LastTransition)
		if quiet < m.stuckAfter {
			continue
		}
		if prev, ok := m.flagged[rt.TaskID]; ok && !rt.LastTransition.After(prev) {
			continue
		}
		m.flagged[rt.TaskID] = rt.LastTransition
		fire = append(fire, rt)
	}
	handlers := append([]StuckHandler(nil), m.handlers...)
	m.mu.Unlock()

	for _, rt := range fire {
		for _, h := range handlers {
			h(rt, now.Sub(rt.LastTransition))
		}
	}
}
