package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"taskd/internal/task/scheduler"
)

// Source is what Collector reads at scrape time.
type Source interface {
	Snapshot() scheduler.Snapshot
}

// Collector reports task states and engine counters from a single snapshot
// per scrape.
type Collector struct {
	src Source

	tasks         *prometheus.Desc
	inFlight      *prometheus.Desc
	maxConcurrent *prometheus.Desc
	spawned       *prometheus.Desc
	rejected      *prometheus.Desc
	panics        *prometheus.Desc
	started       *prometheus.Desc
}

func NewCollector(src Source) *Collector {
	fq := func(sub, name string) string { return prometheus.BuildFQName(namespace, sub, name) }
	return &Collector{
		src:           src,
		tasks:         prometheus.NewDesc(fq("scheduler", "tasks"), "Registered tasks by state.", []string{"state"}, nil),
		inFlight:      prometheus.NewDesc(fq("engine", "in_flight"), "Executions currently running.", nil, nil),
		maxConcurrent: prometheus.NewDesc(fq("engine", "max_concurrent"), "Execution concurrency limit.", nil, nil),
		spawned:       prometheus.NewDesc(fq("engine", "spawned_total"), "Executions started.", nil, nil),
		rejected:      prometheus.NewDesc(fq("engine", "rejected_total"), "Spawns rejected by the engine.", nil, nil),
		panics:        prometheus.NewDesc(fq("engine", "panics_total"), "Executions that panicked.", nil, nil),
		started:       prometheus.NewDesc(fq("scheduler", "started"), "1 while the dispatch loop runs.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tasks
	ch <- c.inFlight
	ch <- c.maxConcurrent
	ch <- c.spawned
	ch <- c.rejected
	ch <- c.panics
	ch <- c.started
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.src.Snapshot()

	counts := make(map[scheduler.State]int, len(scheduler.States()))
	for _, t := range snap.Tasks {
		counts[t.State]++
	}
	for _, st := range scheduler.States() {
		if st == scheduler.StateDeleted {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.GaugeValue, float64(counts[st]), st.String())
	}

	e := snap.Engine
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(e.InFlight))
	ch <- prometheus.MustNewConstMetric(c.maxConcurrent, prometheus.GaugeValue, float64(e.MaxConcurrent))
	ch <- prometheus.MustNewConstMetric(c.spawned, prometheus.CounterValue, float64(e.Spawned))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(e.Rejected))
	ch <- prometheus.MustNewConstMetric(c.panics, prometheus.CounterValue, float64(e.Panics))

	running := 0.0
	if snap.Started && !snap.ShutDown {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(c.started, prometheus.GaugeValue, running)
}
