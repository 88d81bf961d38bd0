package config

// Config is the taskd configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "50ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`

	// Storage is the run journal. Nil disables it.
	Storage *StorageConfig `json:"storage,omitempty"`
	// Metrics is the prometheus endpoint. Nil disables it.
	Metrics *MetricsConfig `json:"metrics,omitempty"`

	Tasks []TaskConfig `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the dispatch loop.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "50ms"
//   - shutdown_timeout: "0s" (wait for running tasks)
//   - prune_completed: false
//   - spawn_retries: 3
//   - spawn_retry_delay: "10ms"
type SchedulerConfig struct {
	PollInterval    string `json:"poll_interval,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	PruneCompleted  bool   `json:"prune_completed,omitempty"`
	SpawnRetries    int    `json:"spawn_retries,omitempty"`
	SpawnRetryDelay string `json:"spawn_retry_delay,omitempty"`
}

// EngineConfig controls task execution.
//
// Defaults: max_concurrent 64, history_size 200.
type EngineConfig struct {
	MaxConcurrent int `json:"max_concurrent,omitempty"`
	HistorySize   int `json:"history_size,omitempty"`
}

// StorageConfig controls the run journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// MetricsConfig controls the prometheus HTTP endpoint.
//
// Prefer binding to localhost (default "127.0.0.1:9108").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Path    string `json:"path,omitempty"` // default "/metrics"
}

// TaskConfig declares one scheduled task.
//
// Exactly one of every/on_demand drives automatic firing; a task with neither
// runs once. Repeat defaults to true when every is set. Autostart defaults
// to true.
type TaskConfig struct {
	Name        string       `json:"name"`
	Group       string       `json:"group,omitempty"`
	Description string       `json:"description,omitempty"`
	Action      ActionConfig `json:"action"`

	Every         string `json:"every,omitempty"` // Go duration or HH:MM
	Start         string `json:"start,omitempty"` // RFC3339
	End           string `json:"end,omitempty"`   // RFC3339
	Repeat        *bool  `json:"repeat,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	OnDemand      bool   `json:"on_demand,omitempty"`
	Autostart     *bool  `json:"autostart,omitempty"`
}

// ActionConfig selects what a task does when it fires.
//
// Kinds:
//   - log: writes message to the log
//   - exec: runs command with args (timeout optional)
//   - fail: returns message as an error
type ActionConfig struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message,omitempty"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
}

func (t TaskConfig) AutostartEnabled() bool { return t.Autostart == nil || *t.Autostart }
