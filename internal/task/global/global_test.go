package global

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"taskd/internal/task/scheduler"
	"taskd/internal/task/trigger"
	logx "taskd/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Tests in this package share process-wide state and must not run in parallel.

func install(t *testing.T) *scheduler.Service {
	t.Helper()
	s := scheduler.New(scheduler.Config{PollInterval: 10 * time.Millisecond}, nil, logx.Nop(), nil)
	if err := Init(s); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Teardown(ctx)
	})
	return s
}

func TestNotInitialized(t *testing.T) {
	if Default() != nil {
		t.Fatalf("expected no default scheduler")
	}
	ops := map[string]error{
		"schedule": Schedule("a", trigger.Once(), true, func(context.Context) error { return nil }, nil),
		"pause":    Pause("a"),
		"resume":   Resume("a"),
		"run":      Run("a"),
		"delete":   Delete("a"),
		"pauseAll": PauseAll(),
		"shutdown": ShutDown(context.Background()),
	}
	for op, err := range ops {
		if !errors.Is(err, ErrNotInitialized) {
			t.Fatalf("%s: err=%v", op, err)
		}
	}
	if _, err := GetStatus("a"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetStatus err=%v", err)
	}
	if GetNames() != nil || GetStatuses() != nil || IsStarted() || IsShutDown() {
		t.Fatalf("queries should return zero values")
	}
	Teardown(context.Background())
}

func TestInitTwice(t *testing.T) {
	install(t)
	other := scheduler.New(scheduler.Config{}, nil, logx.Nop(), nil)
	defer other.ShutDown(context.Background())
	if err := Init(other); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("err=%v", err)
	}
	if err := Init(nil); err == nil {
		t.Fatalf("expected error for nil scheduler")
	}
}

func TestForwarding(t *testing.T) {
	s := install(t)
	if Default() != s {
		t.Fatalf("Default returned a different scheduler")
	}

	ran := make(chan struct{}, 4)
	work := func(context.Context) error {
		ran <- struct{}{}
		return nil
	}
	if err := Schedule("manual", trigger.OnDemand(), true, work, nil); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := ScheduleTask(scheduler.Definition{Name: "later", Trigger: trigger.OnDemand(), Work: work}); err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}
	if got := GetNames(); len(got) != 2 || got[0] != "manual" || got[1] != "later" {
		t.Fatalf("names=%v", got)
	}

	s.Start(context.Background())
	if !IsStarted() {
		t.Fatalf("expected started")
	}
	if err := Run("manual"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatalf("forced run did not execute")
	}

	if err := PauseAll(); err != nil {
		t.Fatalf("PauseAll: %v", err)
	}
	for _, st := range GetStatuses() {
		if st.State != scheduler.StatePaused && st.State != scheduler.StateRunning {
			t.Fatalf("%s state=%v", st.Name, st.State)
		}
	}
	if err := ResumeAll(); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	if err := Pause("manual"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := Resume("manual"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := Delete("later"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := GetStatus("later"); !errors.Is(err, scheduler.ErrNotFound) {
		t.Fatalf("GetStatus after delete: %v", err)
	}

	if err := ShutDown(context.Background()); err != nil {
		t.Fatalf("ShutDown: %v", err)
	}
	if !IsShutDown() || Default() == nil {
		t.Fatalf("ShutDown should keep the scheduler installed")
	}
}

func TestTeardownClears(t *testing.T) {
	s := scheduler.New(scheduler.Config{}, nil, logx.Nop(), nil)
	if err := Init(s); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Teardown(context.Background())
	if Default() != nil || !s.IsShutDown() {
		t.Fatalf("Teardown should shut down and clear")
	}
	if err := Init(scheduler.New(scheduler.Config{}, nil, logx.Nop(), nil)); err != nil {
		t.Fatalf("re-Init: %v", err)
	}
	Teardown(context.Background())
}
