package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "taskd/pkg/logx"
)

// execute runs job, then frees its name gate (release) before Done, so Done
// may spawn the same name again.
func (s *Service) execute(ctx context.Context, runID string, job Job, release func()) {
	res := Result{RunID: runID, Name: job.Name, Started: time.Now()}

	// A panicking job must not take the process (or its permit) down with it.
	func() {
		defer func() {
			if r := recover(); r != nil {
				res.Panic = r
				res.Stack = string(debug.Stack())
				res.Err = fmt.Errorf("panic: %v", r)
			}
		}()
		res.Err = job.Run(ctx)
	}()
	release()

	res.Finished = time.Now()
	res.Duration = res.Finished.Sub(res.Started)

	item := HistoryItem{RunID: runID, Name: job.Name, Started: res.Started, Duration: res.Duration, Panicked: res.Panic != nil}
	if res.Err != nil {
		item.Error = res.Err.Error()
	}
	if res.Panic != nil {
		s.panics.Add(1)
		s.log.Error("job.panic", logx.String("task", job.Name), logx.String("run_id", runID), logx.Any("panic", res.Panic), logx.Stack(res.Stack))
	}
	s.record(item)

	if job.Done == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job.done panic", logx.String("task", job.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		job.Done(res)
	}()
}
