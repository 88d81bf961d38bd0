package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks everything that can be checked without side effects:
// durations, storage driver, task names, triggers and actions.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	s := cfg.Scheduler
	for path, raw := range map[string]string{
		"scheduler.poll_interval":     s.PollInterval,
		"scheduler.shutdown_timeout":  s.ShutdownTimeout,
		"scheduler.spawn_retry_delay": s.SpawnRetryDelay,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if s.SpawnRetries < 0 {
		errs = append(errs, errors.New("scheduler.spawn_retries: must be >= 0"))
	}
	if cfg.Engine.MaxConcurrent < 0 {
		errs = append(errs, errors.New("engine.max_concurrent: must be >= 0"))
	}
	if cfg.Engine.HistorySize < 0 {
		errs = append(errs, errors.New("engine.history_size: must be >= 0"))
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path: required when storage.driver=%s", st.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	seen := map[string]bool{}
	for i, t := range cfg.Tasks {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("tasks[%d].name: required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("tasks[%d].name: duplicate %q", i, name))
			continue
		}
		seen[name] = true
		if _, err := t.Trigger(); err != nil {
			errs = append(errs, err)
		}
		if err := t.Action.validate("tasks." + name + ".action"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
