package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the execution engine.
type Config struct {
	// MaxConcurrent caps executions in flight across all tasks.
	MaxConcurrent int
	// HistorySize is the length of the recent-runs ring.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 64
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Job is one execution handed to Spawn.
//
// Done runs on the execution goroutine after Run returns (or panics). The
// Exclusive gate is already open by then; the concurrency permit is not.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
	Done func(Result)

	// Exclusive rejects the spawn with ErrOverlap while another exclusive job
	// with the same name is in flight.
	Exclusive bool
}

// Result describes a finished execution.
type Result struct {
	RunID    string
	Name     string
	Started  time.Time
	Finished time.Time
	Duration time.Duration
	Err      error

	// Panic and Stack are set when Run panicked; Err then carries "panic: ...".
	Panic any
	Stack string
}

type HistoryItem struct {
	RunID    string        `json:"run_id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Panicked bool          `json:"panicked,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	MaxConcurrent int
	InFlight      int
	Stopped       bool

	Spawned  uint64
	Rejected uint64
	Panics   uint64

	History []HistoryItem
}

// RunState tracks whether a named job is already in flight.
type RunState struct {
	mu       sync.Mutex
	inflight bool
}

func (s *RunState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *RunState) release() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}
