package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskd/pkg/logx"
)

// TaskDiff is the difference between two task lists, keyed by name.
type TaskDiff struct {
	Added   []TaskConfig
	Removed []string
	Changed []TaskConfig
}

func (d TaskDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffTasks compares task lists. Added and Changed keep the order of newTasks.
func DiffTasks(oldTasks, newTasks []TaskConfig) TaskDiff {
	prev := make(map[string]TaskConfig, len(oldTasks))
	for _, t := range oldTasks {
		prev[strings.TrimSpace(t.Name)] = t
	}

	var d TaskDiff
	seen := make(map[string]bool, len(newTasks))
	for _, t := range newTasks {
		name := strings.TrimSpace(t.Name)
		seen[name] = true
		old, ok := prev[name]
		switch {
		case !ok:
			d.Added = append(d.Added, t)
		case !reflect.DeepEqual(old, t):
			d.Changed = append(d.Changed, t)
		}
	}
	for name := range prev {
		if !seen[name] {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Removed)
	return d
}

// SummarizeConfigChange returns the changed sections, log fields describing
// them and the task diff.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, TaskDiff) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.poll_interval", newCfg.Scheduler.PollInterval),
			logx.String("scheduler.shutdown_timeout", newCfg.Scheduler.ShutdownTimeout),
			logx.Bool("scheduler.prune_completed", newCfg.Scheduler.PruneCompleted),
		)
	}
	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.max_concurrent", newCfg.Engine.MaxConcurrent),
			logx.Int("engine.history_size", newCfg.Engine.HistorySize),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.Bool("storage.enabled", newCfg.Storage != nil))
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}
	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		changed = append(changed, "metrics")
		on := newCfg.Metrics != nil && newCfg.Metrics.Enabled
		attrs = append(attrs, logx.Bool("metrics.enabled", on))
	}

	diff := DiffTasks(oldCfg.Tasks, newCfg.Tasks)
	if !diff.Empty() {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.added", len(diff.Added)),
			logx.Int("tasks.removed", len(diff.Removed)),
			logx.Int("tasks.changed", len(diff.Changed)),
		)
	}
	return changed, attrs, diff
}

// Logx converts the logging section to logx's config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}
