package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	rtsup "taskd/internal/runtime/supervisor"
	logx "taskd/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service runs jobs on independent goroutines, bounded by MaxConcurrent.
//
// Spawn never blocks: when every permit is taken it fails with ErrSaturated
// and leaves retrying to the caller.
type Service struct {
	mu      sync.RWMutex
	cfg     Config
	log     logx.Logger
	sup     *rtsup.Supervisor
	stopped bool

	permits chan struct{}

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem

	inFlight atomic.Int32
	spawned  atomic.Uint64
	rejected atomic.Uint64
	panics   atomic.Uint64

	warn *logx.Throttle
}

func New(cfg Config, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "engine"))

	permits := make(chan struct{}, cfg.MaxConcurrent)
	for i := 0; i < cfg.MaxConcurrent; i++ {
		permits <- struct{}{}
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		sup:     rtsup.New(context.Background(), rtsup.WithLogger(log)),
		permits: permits,
		states:  map[string]*RunState{},
		warn:    logx.NewThrottle(warnThrottleEvery, 1),
	}
}

// Spawn starts job on a new goroutine and returns its run id.
func (s *Service) Spawn(job Job) (string, error) {
	if job.Run == nil {
		return "", ErrNoRun
	}
	job.Name = strings.TrimSpace(job.Name)

	// Held across sup.Go so Stop cannot miss a job that passed the check.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return "", ErrStopped
	}

	var st *RunState
	if job.Exclusive {
		st = s.stateFor(job.Name)
		if !st.tryAcquire() {
			return "", ErrOverlap
		}
	}

	select {
	case <-s.permits:
	default:
		if st != nil {
			st.release()
		}
		s.rejected.Add(1)
		if s.warn.Allow("saturated") {
			s.log.Warn("engine saturated", logx.String("task", job.Name), logx.Int("max_concurrent", s.cfg.MaxConcurrent))
		}
		return "", ErrSaturated
	}

	runID := uuid.NewString()
	s.spawned.Add(1)
	s.inFlight.Add(1)
	release := func() {}
	if st != nil {
		release = st.release
	}
	s.sup.Go0("job."+job.Name, func(ctx context.Context) {
		defer func() {
			s.inFlight.Add(-1)
			s.permits <- struct{}{}
		}()
		s.execute(ctx, runID, job, release)
	})
	return runID, nil
}

// Stop rejects new spawns and waits for in-flight jobs.
//
// If ctx expires first, the jobs' context is canceled so cooperative work can
// return early, and ctx.Err() is reported. Jobs are never abandoned silently:
// a later Stop call keeps waiting for them.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	first := !s.stopped
	s.stopped = true
	s.mu.Unlock()
	if first {
		s.log.Debug("engine stopping", logx.Int("in_flight", s.InFlight()))
	}

	if err := s.sup.Wait(ctx); err != nil && ctx.Err() != nil && s.InFlight() > 0 {
		s.sup.Cancel()
		s.log.Warn("engine stop timed out", logx.Int("in_flight", s.InFlight()), logx.Err(ctx.Err()))
		return ctx.Err()
	}
	return nil
}

func (s *Service) InFlight() int { return int(s.inFlight.Load()) }

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()

	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	return Snapshot{
		MaxConcurrent: s.cfg.MaxConcurrent,
		InFlight:      s.InFlight(),
		Stopped:       stopped,
		Spawned:       s.spawned.Load(),
		Rejected:      s.rejected.Load(),
		Panics:        s.panics.Load(),
		History:       h,
	}
}

func (s *Service) stateFor(name string) *RunState {
	key := name
	if key == "" {
		key = "default"
	}
	s.stateMu.Lock()
	st := s.states[key]
	if st == nil {
		st = &RunState{}
		s.states[key] = st
	}
	s.stateMu.Unlock()
	return st
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}
