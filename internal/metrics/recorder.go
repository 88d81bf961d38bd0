package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"taskd/internal/task/scheduler"
)

const namespace = "taskd"

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultPanic   = "panic"
)

// Recorder counts execution outcomes. It implements scheduler.Sink.
type Recorder struct {
	executions       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	dispatchFailures *prometheus.CounterVec
	discarded        prometheus.Counter
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "executions_total",
				Help:      "Finished task executions by result.",
			},
			[]string{"task", "result"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "execution_seconds",
				Help:      "Wall time of task executions.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task"},
		),
		dispatchFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "dispatch_failures_total",
				Help:      "Executions that could not be started.",
			},
			[]string{"task"},
		),
		discarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "discarded_total",
			Help:      "Executions that finished after their task was deleted.",
		}),
	}
}

// Report implements scheduler.Sink. Discarded outcomes belong to deleted
// tasks whose series are already gone, so they only bump an unlabeled counter.
func (r *Recorder) Report(o scheduler.Outcome) {
	if o.Discarded {
		r.discarded.Inc()
		return
	}
	var de *scheduler.DispatchError
	if errors.As(o.Err, &de) {
		r.dispatchFailures.WithLabelValues(o.Name).Inc()
		return
	}
	r.executions.WithLabelValues(o.Name, resultOf(o)).Inc()
	r.duration.WithLabelValues(o.Name).Observe(o.Duration.Seconds())
}

// Forget drops the series of a deleted task.
func (r *Recorder) Forget(task string) {
	labels := prometheus.Labels{"task": task}
	r.executions.DeletePartialMatch(labels)
	r.duration.DeletePartialMatch(labels)
	r.dispatchFailures.DeletePartialMatch(labels)
}

func resultOf(o scheduler.Outcome) string {
	if o.Err == nil {
		return ResultSuccess
	}
	var we *scheduler.WorkItemError
	if errors.As(o.Err, &we) && we.Panicked() {
		return ResultPanic
	}
	return ResultFailure
}
