package scheduler

import (
	"strings"

	"taskd/internal/eventbus"
	"taskd/internal/task/trigger"
	logx "taskd/pkg/logx"
)

// Schedule registers a task. With autostart false the task starts Paused.
func (s *Service) Schedule(name string, trig trigger.Trigger, autostart bool, work Work, onComplete func(Outcome)) error {
	return s.ScheduleTask(Definition{
		Name:       name,
		Trigger:    trig,
		Autostart:  autostart,
		Work:       work,
		OnComplete: onComplete,
	})
}

// ScheduleFunc registers an autostarted task without a completion callback.
func (s *Service) ScheduleFunc(name string, trig trigger.Trigger, work Work) error {
	return s.Schedule(name, trig, true, work, nil)
}

func (s *Service) ScheduleTask(def Definition) error {
	const op = "schedule"
	if s.closing.Load() {
		return &TaskError{Op: op, Name: def.Name, Err: ErrShutDown}
	}
	if strings.TrimSpace(def.Name) == "" || def.Work == nil {
		return &TaskError{Op: op, Name: def.Name, Err: ErrInvalidDefinition}
	}

	t := newTask(def, s.now())
	s.mu.Lock()
	if _, ok := s.tasks[def.Name]; ok {
		s.mu.Unlock()
		return &TaskError{Op: op, Name: def.Name, Err: ErrDuplicateName}
	}
	s.tasks[def.Name] = t
	s.order = append(s.order, def.Name)
	s.mu.Unlock()

	if iv := def.Trigger.Interval(); iv > 0 && iv < s.cfg.PollInterval {
		s.log.Warn("trigger interval finer than poll interval; firing at poll resolution",
			logx.String("task", def.Name), logx.Duration("interval", iv), logx.Duration("poll_interval", s.cfg.PollInterval))
	}
	s.log.Debug("task scheduled", logx.String("task", def.Name), logx.String("trigger", def.Trigger.String()), logx.Bool("autostart", def.Autostart))
	s.publish(eventbus.TaskScheduled, t.event())
	return nil
}

// Pause excludes the task from automatic dispatch. Pausing a paused or
// completed task is a no-op.
func (s *Service) Pause(name string) error {
	t := s.lookup(name)
	if t == nil {
		return &TaskError{Op: "pause", Name: name, Err: ErrNotFound}
	}
	if t.pause() {
		s.publish(eventbus.TaskPaused, t.event())
	}
	return nil
}

func (s *Service) Resume(name string) error {
	t := s.lookup(name)
	if t == nil {
		return &TaskError{Op: "resume", Name: name, Err: ErrNotFound}
	}
	if t.resume(s.now()) {
		s.publish(eventbus.TaskResumed, t.event())
		if t.currentState() == StateCompleted {
			s.onCompleted(t)
		}
	}
	return nil
}

// Run executes the task now, regardless of its trigger or state. A task that
// is already running is rejected with ErrTaskRunning.
func (s *Service) Run(name string) error {
	const op = "run"
	if s.closing.Load() {
		return &TaskError{Op: op, Name: name, Err: ErrShutDown}
	}
	t := s.lookup(name)
	if t == nil {
		return &TaskError{Op: op, Name: name, Err: ErrNotFound}
	}
	if err := t.claim(s.now(), true); err != nil {
		return &TaskError{Op: op, Name: name, Err: err}
	}
	if err := s.launch(t, true); err != nil {
		return &TaskError{Op: op, Name: name, Err: err}
	}
	return nil
}

// Delete removes the task. An in-flight execution finishes, but its result
// is discarded: onComplete is not called and sinks see Discarded. Unknown
// names are ignored.
func (s *Service) Delete(name string) {
	t := s.remove(name, nil)
	if t == nil {
		return
	}
	running := t.markDeleted()
	s.warn.Forget(name)
	s.log.Debug("task deleted", logx.String("task", name), logx.Bool("running", running))
	s.publish(eventbus.TaskDeleted, t.event())
}

// GetNames returns registered names in insertion order.
func (s *Service) GetNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Service) GetStatus(name string) (TaskSummary, error) {
	t := s.lookup(name)
	if t == nil {
		return TaskSummary{}, &TaskError{Op: "status", Name: name, Err: ErrNotFound}
	}
	return t.summary(s.now()), nil
}

// GetStatuses returns a summary of every task in insertion order.
func (s *Service) GetStatuses() []TaskSummary {
	now := s.now()
	tasks := s.snapshotTasks()
	out := make([]TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.summary(now))
	}
	return out
}

// PauseAll pauses every task; it never fails.
func (s *Service) PauseAll() {
	for _, name := range s.GetNames() {
		_ = s.Pause(name)
	}
}

// ResumeAll resumes every task; it never fails.
func (s *Service) ResumeAll() {
	for _, name := range s.GetNames() {
		_ = s.Resume(name)
	}
}

// AddSink registers a diagnostics sink for execution outcomes.
func (s *Service) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	s.sinkMu.Lock()
	s.sinks = append(s.sinks, sink)
	s.sinkMu.Unlock()
}
