package scheduler

import (
	"sync"
	"time"

	"taskd/internal/task/trigger"
)

// task is owned by the registry and never handed out; callers only see
// TaskSummary copies.
type task struct {
	mu sync.Mutex

	name        string
	group       string
	description string
	trig        trigger.Trigger
	work        Work
	onComplete  func(Outcome)
	created     time.Time

	state    State
	runCount int
	lastRun  time.Time
	lastErr  string

	// Set while an execution is in flight.
	running   bool
	forced    bool
	startedAt time.Time
	// State to land in when the in-flight execution finishes.
	afterRun State
}

func newTask(def Definition, now time.Time) *task {
	t := &task{
		name:        def.Name,
		group:       def.Group,
		description: def.Description,
		trig:        def.Trigger,
		work:        def.Work,
		onComplete:  def.OnComplete,
		created:     now,
		state:       StateScheduled,
	}
	if !def.Autostart {
		t.state = StatePaused
	}
	return t
}

// claim moves the task to Running. Automatic claims need a Scheduled, due
// task; forced claims only need the task not to be running already.
func (t *task) claim(now time.Time, forced bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.state == StateDeleted:
		return ErrNotFound
	case t.running:
		return ErrTaskRunning
	case !forced && (t.state != StateScheduled || !t.trig.IsDue(now, t.lastRun, t.runCount)):
		return errNotDue
	}
	t.afterRun = t.state
	t.state = StateRunning
	t.running = true
	t.forced = forced
	t.startedAt = now
	return nil
}

// unclaim undoes a claim whose execution never started.
func (t *task) unclaim() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	t.forced = false
	if t.state == StateRunning {
		t.state = t.afterRun
	}
}

// finish records an execution result and returns the completion callback to
// invoke, which is nil when the task was deleted mid-run.
func (t *task) finish(o *Outcome, now time.Time) func(Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = false
	t.runCount++
	t.lastRun = t.startedAt
	t.lastErr = ""
	if o.Err != nil {
		t.lastErr = o.Err.Error()
	}
	o.Forced = t.forced
	t.forced = false

	if t.state == StateDeleted {
		o.Discarded = true
		o.RunCount = t.runCount
		o.State = StateDeleted
		return nil
	}

	next := t.afterRun
	if t.trig.Exhausted(now, t.runCount) {
		next = StateCompleted
	}
	t.state = next
	o.RunCount = t.runCount
	o.State = next
	return t.onComplete
}

// pause reports whether anything changed. A running task lands in Paused
// when its execution finishes.
func (t *task) pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case StateScheduled:
		t.state = StatePaused
		return true
	case StateRunning:
		if t.afterRun == StateScheduled {
			t.afterRun = StatePaused
			return true
		}
	}
	return false
}

// resume reports whether anything changed. A paused task whose trigger is
// exhausted goes straight to Completed.
func (t *task) resume(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case StatePaused:
		if t.trig.Exhausted(now, t.runCount) {
			t.state = StateCompleted
		} else {
			t.state = StateScheduled
		}
		return true
	case StateRunning:
		if t.afterRun == StatePaused {
			t.afterRun = StateScheduled
			return true
		}
	}
	return false
}

// markDeleted reports whether an execution was in flight.
func (t *task) markDeleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateDeleted
	return t.running
}

// expire moves an idle Scheduled task whose trigger is exhausted to Completed.
func (t *task) expire(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateScheduled || t.running || !t.trig.Exhausted(now, t.runCount) {
		return false
	}
	t.state = StateCompleted
	return true
}

func (t *task) currentState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *task) summary(now time.Time) TaskSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := TaskSummary{
		Name:        t.name,
		Group:       t.group,
		Description: t.description,
		State:       t.state,
		RunCount:    t.runCount,
		LastRunTime: t.lastRun,
		LastError:   t.lastErr,
		Trigger:     t.trig.String(),
	}
	if t.state == StateScheduled && !t.trig.Exhausted(now, t.runCount) {
		s.NextRunTime = t.trig.Next(t.lastRun, t.runCount)
		if s.NextRunTime.IsZero() && t.lastRun.IsZero() {
			// Never ran and unbounded: eligible since registration.
			s.NextRunTime = t.created
		}
	}
	return s
}

func (t *task) event() TaskEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskEvent{Name: t.name, State: t.state, RunCount: t.runCount}
}
