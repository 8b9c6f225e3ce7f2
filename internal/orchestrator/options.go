package orchestrator

import (
	"time"
)

// Scoring weights for worker selection. Capability coverage dominates,
// then headroom, then track record, then context fit.
const (
	weightCapability = 0.4
	weightLoad       = 0.3
	weightSuccess    = 0.2
	weightContext    = 0.1
)

// Defaults for the run loop tunables.
const (
	DefaultMaxRetries          = 5
	DefaultPollInterval        = 500 * time.Millisecond
	DefaultMemoryTimeout       = 500 * time.Millisecond
	DefaultMemoryLimit         = 5
	DefaultEventBuffer         = 256
	DefaultMaxPending          = 5 * time.Minute
	DefaultMemoryContextTokens = 2000
	DefaultMemorySweep         = time.Minute
)

// Config holds the orchestrator's tunables. Zero values fall back to the
// defaults above.
type Config struct {
	// MaxRetries bounds attempts per task before it fails terminally.
	MaxRetries int
	// PollInterval is the scheduling tick.
	PollInterval time.Duration
	// MemoryTimeout bounds the memory retrieval before dispatch. On
	// expiry the task is dispatched without memory context.
	MemoryTimeout time.Duration
	// MemoryLimit caps the number of memory items attached to a dispatch.
	MemoryLimit int
	// MemoryContextTokens is the token allowance the scheduler reserves
	// for retrieved memory context when sizing a task against a worker's
	// capacity.
	MemoryContextTokens int64
	// MaxPending bounds how long a task may sit pending without any
	// worker qualifying before it surfaces as unassignable.
	MaxPending time.Duration
	// MemorySweep is the interval between expiry and promotion sweeps of
	// the memory store.
	MemorySweep time.Duration
	// EventBuffer is the event channel capacity.
	EventBuffer int
	// ExitWhenIdle makes Run return once every graph is terminal instead
	// of waiting for new submissions.
	ExitWhenIdle bool
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MemoryTimeout <= 0 {
		c.MemoryTimeout = DefaultMemoryTimeout
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = DefaultMemoryLimit
	}
	if c.MemoryContextTokens <= 0 {
		c.MemoryContextTokens = DefaultMemoryContextTokens
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	if c.MemorySweep <= 0 {
		c.MemorySweep = DefaultMemorySweep
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	return c
}
