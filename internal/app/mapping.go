package app

import (
	"strings"
	"time"

	"taskd/internal/config"
	"taskd/internal/metrics"
	"taskd/internal/storage"
	"taskd/internal/task/engine"
	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	poll, err := config.ParseDurationField("scheduler.poll_interval", sc.PollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	shutdown, err := config.ParseDurationField("scheduler.shutdown_timeout", sc.ShutdownTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	retryDelay, err := config.ParseDurationField("scheduler.spawn_retry_delay", sc.SpawnRetryDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		PollInterval:    poll,
		ShutdownTimeout: shutdown,
		PruneCompleted:  sc.PruneCompleted,
		SpawnRetries:    sc.SpawnRetries,
		SpawnRetryDelay: retryDelay,
	}, nil
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		MaxConcurrent: cfg.Engine.MaxConcurrent,
		HistorySize:   cfg.Engine.HistorySize,
	}
}

// mapStorageConfig reports false when storage is disabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, storage.DefaultBusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

func mapMetricsConfig(cfg *config.Config) metrics.Config {
	if cfg == nil || cfg.Metrics == nil {
		return metrics.Config{}
	}
	return metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
	}
}

func actionTimeout(a config.ActionConfig) time.Duration {
	d, _ := config.ParseDurationField("action.timeout", a.Timeout)
	return d
}

// OpenHistory opens the run journal configured in cfg for reading. It
// returns storage.ErrDisabled when the config has no storage.
func OpenHistory(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, storage.ErrDisabled
	}
	return storage.Open(sc, log)
}
