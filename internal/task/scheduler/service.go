package scheduler

import (
	"context"
	"errors"
	"time"

	"taskd/internal/eventbus"
	rtsup "taskd/internal/runtime/supervisor"
	"taskd/internal/task/engine"
	logx "taskd/pkg/logx"
)

const (
	dispatchWarnThrottle = 5 * time.Second
	// slowRunThreshold promotes task.finished from debug to info.
	slowRunThreshold = 750 * time.Millisecond
)

// New builds a scheduler executing through exec. The scheduler owns exec's
// shutdown: ShutDown stops it after the dispatch loop exits.
func New(cfg Config, exec *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if exec == nil {
		exec = engine.New(engine.Config{}, log)
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		log:   log.With(logx.String("comp", "scheduler")),
		bus:   bus,
		exec:  exec,
		tasks: map[string]*task{},
		warn:  logx.NewThrottle(dispatchWarnThrottle, 1),
		now:   time.Now,
	}
}

func (s *Service) Config() Config { return s.cfg }

func (s *Service) IsStarted() bool  { return s.started.Load() }
func (s *Service) IsShutDown() bool { return s.shutDown.Load() }

// Start launches the dispatch loop. It is idempotent and a no-op after
// ShutDown. Canceling ctx stops the loop but does not shut the scheduler down.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.sup != nil || s.closing.Load() {
		return
	}

	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.stopLoop = make(chan struct{})
	stop := s.stopLoop
	s.sup.GoRestart("scheduler.dispatch", func(ctx context.Context) error {
		return s.loop(ctx, stop)
	}, rtsup.WithRestartBackoff(s.cfg.PollInterval, 5*time.Second))
	s.started.Store(true)

	s.log.Info("scheduler started", logx.Duration("poll_interval", s.cfg.PollInterval), logx.Int("tasks", len(s.GetNames())))
}

func (s *Service) loop(ctx context.Context, stop <-chan struct{}) error {
	tick := time.NewTicker(s.cfg.PollInterval)
	defer tick.Stop()

	s.dispatch(s.now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-tick.C:
			s.dispatch(s.now())
		}
	}
}

// dispatch runs one poll cycle over the registry in insertion order.
func (s *Service) dispatch(now time.Time) {
	for _, t := range s.snapshotTasks() {
		if s.closing.Load() {
			return
		}
		if t.expire(now) {
			s.onCompleted(t)
			continue
		}
		if err := t.claim(now, false); err != nil {
			continue
		}
		_ = s.launch(t, false)
	}
}

// launch hands a claimed task to the engine, retrying refused spawns.
func (s *Service) launch(t *task, forced bool) error {
	job := engine.Job{
		Name:      t.name,
		Exclusive: true,
		Run: func(ctx context.Context) error {
			s.publish(eventbus.TaskStarted, t.event())
			return t.work(ctx)
		},
		Done: func(r engine.Result) { s.complete(t, r) },
	}

	var err error
	attempts := 0
	for attempts < 1+s.cfg.SpawnRetries {
		if attempts > 0 {
			time.Sleep(s.cfg.SpawnRetryDelay)
		}
		attempts++
		if _, err = s.exec.Spawn(job); err == nil {
			return nil
		}
		// An earlier instance with the same name is still draining, or the
		// engine is gone; retrying will not help.
		if errors.Is(err, engine.ErrOverlap) || errors.Is(err, engine.ErrStopped) {
			break
		}
	}
	t.unclaim()

	switch {
	case errors.Is(err, engine.ErrOverlap):
		s.log.Debug("task dispatch skipped: previous run still in flight", logx.String("task", t.name))
		return ErrTaskRunning
	case errors.Is(err, engine.ErrStopped) && s.closing.Load():
		return ErrShutDown
	}
	s.reportDispatchFailure(t, &DispatchError{Name: t.name, Attempts: attempts, Err: err}, forced)
	return err
}

func (s *Service) complete(t *task, r engine.Result) {
	o := Outcome{
		RunID:    r.RunID,
		Name:     t.name,
		Started:  r.Started,
		Finished: r.Finished,
		Duration: r.Duration,
	}
	if r.Err != nil {
		o.Err = &WorkItemError{Name: t.name, Err: r.Err, Panic: r.Panic, Stack: r.Stack}
	}
	cb := t.finish(&o, r.Finished)

	if cb != nil {
		s.invokeCallback(cb, o)
	}
	s.report(o)

	if o.State == StateCompleted && !o.Discarded {
		s.onCompleted(t)
	}
}

func (s *Service) onCompleted(t *task) {
	s.publish(eventbus.TaskCompleted, t.event())
	s.log.Debug("task completed", logx.String("task", t.name))
	if s.cfg.PruneCompleted {
		s.remove(t.name, t)
	}
}

// ShutDown stops the dispatch loop, waits for running executions (bounded by
// ShutdownTimeout and ctx) and marks the scheduler shut down. Concurrent
// callers all wait for the same shutdown.
func (s *Service) ShutDown(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.lifeMu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.lifeMu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	s.closing.Store(true)
	done := make(chan struct{})
	s.stopDone = done
	sup := s.sup
	if s.stopLoop != nil {
		close(s.stopLoop)
	}
	s.lifeMu.Unlock()
	defer close(done)

	start := time.Now()
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil {
			s.log.Warn("dispatch loop stop", logx.Err(err))
		}
	}
	if err := s.exec.Stop(ctx); err != nil {
		s.log.Warn("running tasks did not finish before shutdown deadline", logx.Err(err), logx.Int("in_flight", s.exec.InFlight()))
	}

	s.shutDown.Store(true)
	s.publish(eventbus.SchedulerShutdown, nil)
	s.log.Info("scheduler shut down", logx.Duration("took", time.Since(start)))
}

func (s *Service) snapshotTasks() []*task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task, 0, len(s.order))
	for _, name := range s.order {
		if t := s.tasks[name]; t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) lookup(name string) *task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[name]
}

// remove drops name from the registry if it still maps to want (nil: any).
func (s *Service) remove(name string, want *task) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[name]
	if t == nil || (want != nil && t != want) {
		return nil
	}
	delete(s.tasks, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return t
}
