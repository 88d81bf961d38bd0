package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"taskd/internal/task/engine"
	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func counterFor(mf *dto.MetricFamily, labels map[string]string) float64 {
	if mf == nil {
		return 0
	}
outer:
	for _, m := range mf.GetMetric() {
		for k, v := range labels {
			if labelValue(m, k) != v {
				continue outer
			}
		}
		return m.GetCounter().GetValue()
	}
	return 0
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.Report(scheduler.Outcome{Name: "a", Duration: 10 * time.Millisecond})
	r.Report(scheduler.Outcome{Name: "a", Duration: 20 * time.Millisecond})
	r.Report(scheduler.Outcome{Name: "a", Err: &scheduler.WorkItemError{Name: "a", Err: errors.New("boom")}})
	r.Report(scheduler.Outcome{Name: "b", Err: &scheduler.WorkItemError{Name: "b", Err: errors.New("panic: x"), Panic: "x"}})
	r.Report(scheduler.Outcome{Name: "b", Discarded: true})
	r.Report(scheduler.Outcome{Name: "c", Err: &scheduler.DispatchError{Name: "c", Attempts: 4, Err: engine.ErrSaturated}})

	fams := gather(t, reg)
	exec := fams["taskd_scheduler_executions_total"]
	tests := []struct {
		task, result string
		want         float64
	}{
		{"a", ResultSuccess, 2},
		{"a", ResultFailure, 1},
		{"b", ResultPanic, 1},
		{"c", ResultSuccess, 0},
	}
	for _, tt := range tests {
		if got := counterFor(exec, map[string]string{"task": tt.task, "result": tt.result}); got != tt.want {
			t.Fatalf("%s/%s=%v want %v", tt.task, tt.result, got, tt.want)
		}
	}
	if got := counterFor(fams["taskd_scheduler_dispatch_failures_total"], map[string]string{"task": "c"}); got != 1 {
		t.Fatalf("dispatch failures=%v", got)
	}
	hist := fams["taskd_scheduler_execution_seconds"]
	if hist == nil {
		t.Fatalf("missing histogram")
	}
	for _, m := range hist.GetMetric() {
		if labelValue(m, "task") == "a" && m.GetHistogram().GetSampleCount() != 3 {
			t.Fatalf("samples=%d", m.GetHistogram().GetSampleCount())
		}
	}

	if got := fams["taskd_scheduler_discarded_total"].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("discarded=%v", got)
	}

	// A task deleted mid-run: its series are forgotten first and the late
	// discarded outcome must not bring them back.
	r.Forget("a")
	r.Report(scheduler.Outcome{Name: "a", Duration: time.Millisecond, Discarded: true})
	fams = gather(t, reg)
	for _, m := range fams["taskd_scheduler_executions_total"].GetMetric() {
		if labelValue(m, "task") == "a" {
			t.Fatalf("series for a still present: %v", m)
		}
	}
	for _, m := range fams["taskd_scheduler_execution_seconds"].GetMetric() {
		if labelValue(m, "task") == "a" {
			t.Fatalf("histogram for a still present")
		}
	}
	if got := fams["taskd_scheduler_discarded_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("discarded=%v", got)
	}
}

type fakeSource struct{ snap scheduler.Snapshot }

func (f fakeSource) Snapshot() scheduler.Snapshot { return f.snap }

func TestCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(fakeSource{snap: scheduler.Snapshot{
		Started: true,
		Tasks: []scheduler.TaskSummary{
			{Name: "a", State: scheduler.StateScheduled},
			{Name: "b", State: scheduler.StateScheduled},
			{Name: "c", State: scheduler.StatePaused},
			{Name: "d", State: scheduler.StateRunning},
		},
		Engine: engine.Snapshot{MaxConcurrent: 8, InFlight: 1, Spawned: 5, Rejected: 2, Panics: 1},
	}}))

	fams := gather(t, reg)
	want := map[string]float64{"scheduled": 2, "paused": 1, "running": 1, "completed": 0}
	tasks := fams["taskd_scheduler_tasks"]
	if tasks == nil || len(tasks.GetMetric()) != len(want) {
		t.Fatalf("tasks family=%v", tasks)
	}
	for _, m := range tasks.GetMetric() {
		st := labelValue(m, "state")
		if got := m.GetGauge().GetValue(); got != want[st] {
			t.Fatalf("state %s=%v want %v", st, got, want[st])
		}
	}
	if got := fams["taskd_engine_in_flight"].GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Fatalf("in_flight=%v", got)
	}
	if got := fams["taskd_engine_rejected_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("rejected=%v", got)
	}
	if got := fams["taskd_scheduler_started"].GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Fatalf("started=%v", got)
	}
}

func TestServerServesMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.Report(scheduler.Outcome{Name: "served"})

	srv := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0", Path: "stats"}, reg, logx.Nop())
	ctx := context.Background()
	srv.Start(ctx)
	defer srv.Stop(ctx)

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not start")
	}

	get := func(path string) (int, string) {
		resp, err := http.Get("http://" + srv.Addr() + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	code, body := get("/stats")
	if code != http.StatusOK || !strings.Contains(body, `taskd_scheduler_executions_total{result="success",task="served"} 1`) {
		t.Fatalf("code=%d body=%s", code, body)
	}
	if code, body := get("/healthz"); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz code=%d body=%q", code, body)
	}

	srv.Reconfigure(ctx, Config{Enabled: false})
	if srv.Running() {
		t.Fatalf("server still running after disable")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"127.0.0.1:9108": true,
		"localhost:1":    true,
		"[::1]:9108":     true,
		"0.0.0.0:9108":   false,
		":9108":          false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
