package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

func openTest(t *testing.T, driver string, retain int) Store {
	t.Helper()
	st, err := Open(Config{
		Driver: driver,
		Path:   filepath.Join(t.TempDir(), "nested", "taskd.db"),
		Retain: retain,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func rec(task string, n int) RunRecord {
	start := time.Date(2026, 3, 1, 12, 0, n, 0, time.UTC)
	return RunRecord{
		RunID:      fmt.Sprintf("run-%d", n),
		Task:       task,
		Started:    start,
		Finished:   start.Add(15 * time.Millisecond),
		DurationMS: 15,
		RunCount:   n,
		State:      "scheduled",
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: st=%v err=%v", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatalf("expected missing path error")
	}
}

func TestStoreAppendAndQuery(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "file"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTest(t, driver, 0)
			ctx := context.Background()

			for i := 1; i <= 3; i++ {
				if err := st.AppendRun(ctx, rec("a", i)); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			failed := rec("b", 4)
			failed.Error = "boom"
			failed.Forced = true
			failed.Discarded = true
			if err := st.AppendRun(ctx, failed); err != nil {
				t.Fatalf("append: %v", err)
			}

			all, err := st.RecentRuns(ctx, Query{})
			if err != nil {
				t.Fatalf("recent: %v", err)
			}
			if len(all) != 4 || all[0].Task != "b" || all[3].RunID != "run-1" {
				t.Fatalf("unexpected order: %+v", all)
			}
			if !all[0].Failed() || !all[0].Forced || !all[0].Discarded || all[0].Error != "boom" {
				t.Fatalf("flags lost: %+v", all[0])
			}
			if !all[0].Started.Equal(failed.Started) {
				t.Fatalf("started=%v want %v", all[0].Started, failed.Started)
			}

			onlyA, err := st.RecentRuns(ctx, Query{Task: "a", Limit: 2})
			if err != nil {
				t.Fatalf("recent: %v", err)
			}
			if len(onlyA) != 2 || onlyA[0].RunCount != 3 || onlyA[1].RunCount != 2 {
				t.Fatalf("filtered=%+v", onlyA)
			}
		})
	}
}

func TestStoreRetain(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "file"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTest(t, driver, 10)
			ctx := context.Background()
			for i := 1; i <= 40; i++ {
				if err := st.AppendRun(ctx, rec("a", i)); err != nil {
					t.Fatalf("append %d: %v", i, err)
				}
			}
			got, err := st.RecentRuns(ctx, Query{Limit: 100})
			if err != nil {
				t.Fatalf("recent: %v", err)
			}
			if len(got) > 11 || len(got) < 10 {
				t.Fatalf("retained %d records", len(got))
			}
			if got[0].RunCount != 40 {
				t.Fatalf("newest=%d", got[0].RunCount)
			}
		})
	}
}

func TestFileStoreReopenSkipsTornLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "taskd.db")}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.AppendRun(context.Background(), rec("a", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = st.Close()
	if err := st.AppendRun(context.Background(), rec("a", 2)); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "taskd.runs.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_, _ = f.WriteString(`{"task":"a","run_co`)
	_ = f.Close()

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.RecentRuns(context.Background(), Query{})
	if err != nil || len(got) != 1 {
		t.Fatalf("got=%+v err=%v", got, err)
	}
}

func TestJournal(t *testing.T) {
	t.Parallel()

	st := openTest(t, "sqlite", 0)
	j := NewJournal(st, 8, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	now := time.Now()
	j.Report(scheduler.Outcome{RunID: "r1", Name: "ok", Started: now, Finished: now, RunCount: 1, State: scheduler.StateScheduled})
	j.Report(scheduler.Outcome{
		RunID:    "r2",
		Name:     "bad",
		Started:  now,
		Finished: now.Add(time.Second),
		Duration: time.Second,
		Err:      &scheduler.WorkItemError{Name: "bad", Err: errors.New("boom")},
		RunCount: 1,
		State:    scheduler.StateCompleted,
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	if j.Written() != 2 || j.Dropped() != 0 {
		t.Fatalf("written=%d dropped=%d", j.Written(), j.Dropped())
	}
	got, err := st.RecentRuns(context.Background(), Query{Task: "bad"})
	if err != nil || len(got) != 1 {
		t.Fatalf("got=%+v err=%v", got, err)
	}
	if got[0].State != "completed" || got[0].DurationMS != 1000 || got[0].Error == "" {
		t.Fatalf("record=%+v", got[0])
	}
}

func TestJournalDropsWhenFull(t *testing.T) {
	t.Parallel()

	j := NewJournal(nil, 1, logx.Nop())
	j.Report(scheduler.Outcome{Name: "a"})
	j.Report(scheduler.Outcome{Name: "a"})
	j.Report(scheduler.Outcome{Name: "a"})
	if j.Dropped() != 2 {
		t.Fatalf("dropped=%d", j.Dropped())
	}
}
