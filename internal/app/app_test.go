package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"taskd/internal/config"
	"taskd/internal/storage"
	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBuildWorkActions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	w, err := buildWork("l", config.ActionConfig{Kind: "log", Message: "hello"}, logx.Nop())
	if err != nil || w(ctx) != nil {
		t.Fatalf("log action: build=%v", err)
	}

	w, err = buildWork("f", config.ActionConfig{Kind: "FAIL", Message: "nope"}, logx.Nop())
	if err != nil {
		t.Fatalf("build fail: %v", err)
	}
	if got := w(ctx); got == nil || got.Error() != "nope" {
		t.Fatalf("fail action returned %v", got)
	}

	if _, err := buildWork("x", config.ActionConfig{Kind: "http"}, logx.Nop()); err == nil {
		t.Fatalf("expected unknown action error")
	}
	if _, err := buildWork("x", config.ActionConfig{Kind: "exec"}, logx.Nop()); err == nil {
		t.Fatalf("expected missing command error")
	}
}

func TestExecAction(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	ctx := context.Background()

	tests := []struct {
		name    string
		action  config.ActionConfig
		wantErr string
		wantIs  error
	}{
		{name: "ok", action: config.ActionConfig{Kind: "exec", Command: "sh", Args: []string{"-c", "echo fine"}}},
		{
			name:    "exit code",
			action:  config.ActionConfig{Kind: "exec", Command: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}},
			wantErr: "broken",
		},
		{
			name:   "timeout",
			action: config.ActionConfig{Kind: "exec", Command: "sh", Args: []string{"-c", "sleep 5"}, Timeout: "50ms"},
			wantIs: context.DeadlineExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, err := buildWork(tt.name, tt.action, logx.Nop())
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			err = w(ctx)
			switch {
			case tt.wantIs != nil:
				if !errors.Is(err, tt.wantIs) {
					t.Fatalf("err=%v want %v", err, tt.wantIs)
				}
			case tt.wantErr != "":
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err=%v want substring %q", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
		})
	}
}

func logTask(name, every string) config.TaskConfig {
	return config.TaskConfig{Name: name, Every: every, Action: config.ActionConfig{Kind: "log"}}
}

func TestRegistryApply(t *testing.T) {
	t.Parallel()

	s := scheduler.New(scheduler.Config{}, nil, logx.Nop(), nil)
	t.Cleanup(func() { s.ShutDown(context.Background()) })
	r := NewRegistry(s, logx.Nop())
	var removed []string
	r.onRemove = func(name string) { removed = append(removed, name) }

	if err := r.Apply([]config.TaskConfig{logTask("a", "1h"), logTask("b", "1h")}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := strings.Join(s.GetNames(), ","); got != "a,b" {
		t.Fatalf("names=%s", got)
	}

	paused := logTask("c", "1h")
	no := false
	paused.Autostart = &no
	if err := r.Apply([]config.TaskConfig{logTask("b", "2h"), paused}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := strings.Join(s.GetNames(), ","); got != "b,c" {
		t.Fatalf("names=%s", got)
	}
	if st, _ := s.GetStatus("b"); st.Trigger != "every 2h0m0s" {
		t.Fatalf("b trigger=%q", st.Trigger)
	}
	if st, _ := s.GetStatus("c"); st.State != scheduler.StatePaused {
		t.Fatalf("c state=%v", st.State)
	}
	if got := strings.Join(removed, ","); got != "a,b" {
		t.Fatalf("removed=%s", got)
	}

	bad := config.TaskConfig{Name: "d", Every: "cron: * * * * *", Action: config.ActionConfig{Kind: "log"}}
	if err := r.Apply([]config.TaskConfig{logTask("b", "2h"), paused, bad}); err == nil {
		t.Fatalf("expected error for bad task")
	}
	if len(r.Applied()) != 2 {
		t.Fatalf("applied=%d", len(r.Applied()))
	}
	// Fixing the task schedules it on the next apply.
	if err := r.Apply([]config.TaskConfig{logTask("b", "2h"), paused, logTask("d", "1h")}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := strings.Join(s.GetNames(), ","); got != "b,c,d" {
		t.Fatalf("names=%s", got)
	}
}

func TestMappingDefaults(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Scheduler: config.SchedulerConfig{PollInterval: "25ms", ShutdownTimeout: "2s"}}
	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if sc.PollInterval != 25*time.Millisecond || sc.ShutdownTimeout != 2*time.Second {
		t.Fatalf("scheduler config=%+v", sc)
	}

	if _, on, err := mapStorageConfig(cfg); on || err != nil {
		t.Fatalf("storage should be disabled: on=%v err=%v", on, err)
	}
	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: "x.db"}
	st, on, err := mapStorageConfig(cfg)
	if !on || err != nil || st.Driver != "sqlite" || st.BusyTimeout != storage.DefaultBusyTimeout {
		t.Fatalf("storage=%+v on=%v err=%v", st, on, err)
	}

	if mc := mapMetricsConfig(cfg); mc.Enabled {
		t.Fatalf("metrics should be disabled")
	}
}

const appConfig = `
logging:
  level: error
  console: true
scheduler:
  poll_interval: 10ms
  shutdown_timeout: 2s
storage:
  driver: file
  path: %s
metrics:
  enabled: true
  addr: 127.0.0.1:0
tasks:
  - name: twice
    every: 20ms
    max_iterations: 2
    action: { kind: log, message: tick }
  - name: manual
    on_demand: true
    action: { kind: fail, message: boom }
`

func TestAppEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	cfgPath := filepath.Join(dir, "taskd.yaml")
	body := strings.Replace(appConfig, "%s", dbPath, 1)
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = a.Stop(context.Background(), StopUnknown)
		}
	}()

	s := a.Scheduler()
	waitFor(t, 5*time.Second, func() bool {
		st, err := s.GetStatus("twice")
		return err == nil && st.State == scheduler.StateCompleted
	})
	if err := s.Run("manual"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		st, _ := s.GetStatus("manual")
		return st.RunCount == 1 && st.State == scheduler.StateScheduled
	})

	// Hot reload: add a task.
	body += `
  - name: added
    on_demand: true
    action: { kind: log }
`
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(300 * time.Millisecond)
		if _, err := s.GetStatus("added"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reloaded task never appeared")
		}
	}

	mfs, err := a.Gatherer().Gather()
	if err != nil || len(mfs) == 0 {
		t.Fatalf("gather: %v", err)
	}

	stopped = true
	if err := a.Stop(context.Background(), StopSIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !s.IsShutDown() {
		t.Fatalf("scheduler not shut down")
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: dbPath}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st.Close()
	runs, err := st.RecentRuns(context.Background(), storage.Query{Limit: 10})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	var twice, manual int
	for _, r := range runs {
		switch r.Task {
		case "twice":
			twice++
		case "manual":
			manual++
			if r.Error == "" || !r.Forced {
				t.Fatalf("manual record=%+v", r)
			}
		}
	}
	if twice != 2 || manual != 1 {
		t.Fatalf("journal twice=%d manual=%d", twice, manual)
	}
}

const slowRunConfig = `
logging: { level: error, console: true }
scheduler: { poll_interval: 10ms, shutdown_timeout: 5s }
storage: { driver: file, path: %s }
tasks:
  - name: slow
    on_demand: true
    action: { kind: exec, command: sh, args: ["-c", "sleep 0.5"] }
`

func TestStopJournalsRunsStillInFlight(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs")
	cfgPath := filepath.Join(dir, "taskd.yaml")
	if err := os.WriteFile(cfgPath, []byte(strings.Replace(slowRunConfig, "%s", dbPath, 1)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s := a.Scheduler()
	if err := s.Run("slow"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		st, _ := s.GetStatus("slow")
		return st.State == scheduler.StateRunning
	})

	// The caller's context ending first must not cut the journal short.
	cancel()
	if err := a.Stop(context.Background(), StopSIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st, _ := s.GetStatus("slow"); st.RunCount != 1 {
		t.Fatalf("RunCount = %d, want 1", st.RunCount)
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: dbPath}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st.Close()
	runs, err := st.RecentRuns(context.Background(), storage.Query{Task: "slow"})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 || runs[0].Failed() || !runs[0].Forced {
		t.Fatalf("journal = %+v", runs)
	}
}
