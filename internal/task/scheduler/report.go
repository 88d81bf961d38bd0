package scheduler

import (
	"fmt"
	"runtime/debug"

	"taskd/internal/eventbus"
	logx "taskd/pkg/logx"
)

func (s *Service) publish(typ string, data any) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

// report fans an outcome out to logs, the bus and every sink.
func (s *Service) report(o Outcome) {
	ev := TaskEvent{Name: o.Name, RunID: o.RunID, State: o.State, RunCount: o.RunCount, Forced: o.Forced, Duration: o.Duration}
	if o.Err != nil {
		ev.Error = o.Err.Error()
		s.publish(eventbus.TaskFailed, ev)
		if s.warn.Allow(o.Name) {
			fields := []logx.Field{logx.String("task", o.Name), logx.String("run_id", o.RunID), logx.Err(o.Err), logx.Int("run_count", o.RunCount), logx.Duration("dur", o.Duration)}
			if we, ok := o.Err.(*WorkItemError); ok && we.Panicked() {
				fields = append(fields, logx.Bool("panic", true))
			}
			s.log.Warn("task.failed", fields...)
		}
	} else {
		s.publish(eventbus.TaskFinished, ev)
		if o.Duration >= slowRunThreshold {
			s.log.Info("task.finished", logx.String("task", o.Name), logx.Duration("dur", o.Duration), logx.Int("run_count", o.RunCount))
		} else {
			s.log.Debug("task.finished", logx.String("task", o.Name), logx.Duration("dur", o.Duration), logx.Int("run_count", o.RunCount))
		}
	}
	s.deliver(o)
}

func (s *Service) reportDispatchFailure(t *task, err *DispatchError, forced bool) {
	now := s.now()
	ev := t.event()
	ev.Error = err.Error()
	s.publish(eventbus.TaskDispatchFailed, ev)
	if s.warn.Allow("dispatch:" + t.name) {
		s.log.Warn("task dispatch failed", logx.String("task", t.name), logx.Int("attempts", err.Attempts), logx.Err(err.Err))
	}
	s.deliver(Outcome{
		Name:     t.name,
		Started:  now,
		Finished: now,
		Err:      err,
		Forced:   forced,
		RunCount: ev.RunCount,
		State:    ev.State,
	})
}

func (s *Service) deliver(o Outcome) {
	s.sinkMu.RLock()
	sinks := make([]Sink, len(s.sinks))
	copy(sinks, s.sinks)
	s.sinkMu.RUnlock()

	for _, sink := range sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("sink panic", logx.String("task", o.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
			}()
			sink.Report(o)
		}()
	}
}

func (s *Service) invokeCallback(cb func(Outcome), o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("onComplete panic", logx.String("task", o.Name), logx.Err(fmt.Errorf("panic: %v", r)), logx.Stack(string(debug.Stack())))
		}
	}()
	cb(o)
}
