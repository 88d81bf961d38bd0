package storage

import (
	"context"
	"sync/atomic"
	"time"

	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

const (
	defaultJournalBuffer = 256
	appendTimeout        = 2 * time.Second
)

// Journal is a scheduler sink that writes outcomes to a Store from a
// single worker. Report never blocks; when the queue is full the record is
// dropped and counted.
type Journal struct {
	store Store
	log   logx.Logger
	warn  *logx.Throttle

	ch      chan RunRecord
	dropped atomic.Uint64
	written atomic.Uint64
}

func NewJournal(store Store, buffer int, log logx.Logger) *Journal {
	if buffer <= 0 {
		buffer = defaultJournalBuffer
	}
	return &Journal{
		store: store,
		log:   log.With(logx.String("comp", "journal")),
		warn:  logx.NewThrottle(5*time.Second, 1),
		ch:    make(chan RunRecord, buffer),
	}
}

// Record converts a scheduler outcome into a RunRecord.
func Record(o scheduler.Outcome) RunRecord {
	r := RunRecord{
		RunID:      o.RunID,
		Task:       o.Name,
		Started:    o.Started,
		Finished:   o.Finished,
		DurationMS: o.Duration.Milliseconds(),
		Forced:     o.Forced,
		RunCount:   o.RunCount,
		State:      o.State.String(),
		Discarded:  o.Discarded,
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

func (j *Journal) Report(o scheduler.Outcome) {
	select {
	case j.ch <- Record(o):
	default:
		n := j.dropped.Add(1)
		if j.warn.Allow("dropped") {
			j.log.Warn("run journal full; record dropped", logx.String("task", o.Name), logx.Uint64("dropped_total", n))
		}
	}
}

func (j *Journal) Dropped() uint64 { return j.dropped.Load() }
func (j *Journal) Written() uint64 { return j.written.Load() }

// Run writes queued records until ctx ends, then drains what is left.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case r := <-j.ch:
			j.write(context.Background(), r)
		case <-ctx.Done():
			j.drain()
			return nil
		}
	}
}

func (j *Journal) drain() {
	for {
		select {
		case r := <-j.ch:
			j.write(context.Background(), r)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, r RunRecord) {
	wctx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	if err := j.store.AppendRun(wctx, r); err != nil {
		if j.warn.Allow("append") {
			j.log.Warn("run journal append failed", logx.String("task", r.Task), logx.Err(err))
		}
		return
	}
	j.written.Add(1)
}
