package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"taskd/internal/eventbus"
	rtsup "taskd/internal/runtime/supervisor"
	"taskd/internal/task/engine"
	"taskd/internal/task/trigger"
	logx "taskd/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	// PollInterval is the dispatch cadence and therefore the firing resolution.
	PollInterval time.Duration
	// ShutdownTimeout bounds how long ShutDown waits for running work.
	// 0 waits until the work finishes.
	ShutdownTimeout time.Duration
	// PruneCompleted removes tasks from the registry once they complete.
	PruneCompleted bool

	SpawnRetries    int
	SpawnRetryDelay time.Duration
}

const (
	defaultPollInterval    = 50 * time.Millisecond
	defaultSpawnRetries    = 3
	defaultSpawnRetryDelay = 10 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ShutdownTimeout < 0 {
		c.ShutdownTimeout = 0
	}
	if c.SpawnRetries <= 0 {
		c.SpawnRetries = defaultSpawnRetries
	}
	if c.SpawnRetryDelay <= 0 {
		c.SpawnRetryDelay = defaultSpawnRetryDelay
	}
	return c
}

// Work is the unit of work a task executes.
type Work func(ctx context.Context) error

// Definition is the full form of Schedule.
type Definition struct {
	Name        string
	Group       string
	Description string
	Trigger     trigger.Trigger
	Autostart   bool
	Work        Work
	OnComplete  func(Outcome)
}

// Outcome describes one finished execution (or a failed dispatch).
type Outcome struct {
	RunID    string
	Name     string
	Started  time.Time
	Finished time.Time
	Duration time.Duration
	// Err is a *WorkItemError when the work failed, a *DispatchError when the
	// execution could not be started, nil on success.
	Err    error
	Forced bool
	// RunCount and State are the task's bookkeeping after this execution.
	RunCount int
	State    State
	// Discarded is set when the task was deleted while running.
	Discarded bool
}

// Sink receives every outcome. Implementations must not block for long.
type Sink interface {
	Report(Outcome)
}

type SinkFunc func(Outcome)

func (f SinkFunc) Report(o Outcome) { f(o) }

// TaskSummary is a detached copy of a task's observable state.
type TaskSummary struct {
	Name        string    `json:"name"`
	Group       string    `json:"group,omitempty"`
	Description string    `json:"description,omitempty"`
	State       State     `json:"state"`
	RunCount    int       `json:"run_count"`
	LastRunTime time.Time `json:"last_run_time"`
	NextRunTime time.Time `json:"next_run_time"`
	LastError   string    `json:"last_error,omitempty"`
	Trigger     string    `json:"trigger"`
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent struct {
	Name     string        `json:"name"`
	RunID    string        `json:"run_id,omitempty"`
	State    State         `json:"state"`
	RunCount int           `json:"run_count"`
	Forced   bool          `json:"forced,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type Snapshot struct {
	Started      bool
	ShutDown     bool
	PollInterval time.Duration
	Running      int
	Tasks        []TaskSummary
	Engine       engine.Snapshot
	Loop         rtsup.Snapshot
}

type Service struct {
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	exec *engine.Service

	// Registry membership; per-task fields live under task.mu.
	mu    sync.RWMutex
	tasks map[string]*task
	order []string

	sinkMu sync.RWMutex
	sinks  []Sink

	warn *logx.Throttle

	lifeMu   sync.Mutex
	sup      *rtsup.Supervisor
	stopLoop chan struct{}
	stopDone chan struct{}

	started  atomic.Bool
	closing  atomic.Bool
	shutDown atomic.Bool

	now func() time.Time
}
