package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"taskd/internal/config"
	"taskd/internal/eventbus"
	"taskd/internal/metrics"
	rtsup "taskd/internal/runtime/supervisor"
	"taskd/internal/storage"
	"taskd/internal/task/engine"
	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

// App wires config, logging, storage, metrics and the scheduler together.
type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store       storage.Store
	journal     *storage.Journal
	journalStop context.CancelFunc
	journalDone chan struct{}

	engine   *engine.Service
	sched    *scheduler.Service
	registry *Registry

	promReg  *prometheus.Registry
	recorder *metrics.Recorder
	metrics  *metrics.Server
}

// New loads cfgPath and builds every component. Tasks are registered but
// nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfg, err := config.NewManager(cfgPath, logx.Nop()).Parse()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	cfgm := config.NewManager(cfgPath, log)
	cfgm.Commit(cfg)
	a, err := build(cfg, cfgm, logSvc, log.With(logx.String("comp", "app")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, cfgm *config.Manager, logSvc *logx.Service, log logx.Logger) (*App, error) {
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm: cfgm,
		log:  log,
		logs: logSvc,
		bus:  eventbus.New(),
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		a.store = st
		a.journal = storage.NewJournal(st, 0, log)
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	a.engine = engine.New(mapEngineConfig(cfg), log)
	a.sched = scheduler.New(schedCfg, a.engine, log, a.bus)
	if a.journal != nil {
		a.sched.AddSink(a.journal)
	}

	a.promReg = prometheus.NewRegistry()
	a.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(a.sched),
	)
	a.recorder = metrics.NewRecorder(a.promReg)
	a.sched.AddSink(a.recorder)
	a.metrics = metrics.NewServer(mapMetricsConfig(cfg), a.promReg, log)

	a.registry = NewRegistry(a.sched, log)
	a.registry.onRemove = a.recorder.Forget
	if err := a.registry.Apply(cfg.Tasks); err != nil {
		a.closeStore()
		return nil, err
	}
	return a, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Registry() *Registry            { return a.registry }
func (a *App) Bus() eventbus.Bus               { return a.bus }
func (a *App) Gatherer() prometheus.Gatherer   { return a.promReg }
func (a *App) MetricsAddr() string             { return a.metrics.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(a.validate)

	if a.journal != nil {
		// Detached from ctx: outcomes keep arriving until the scheduler has
		// shut down, and only Stop ends the journal after that.
		jctx, stop := context.WithCancel(context.WithoutCancel(ctx))
		a.journalStop = stop
		a.journalDone = make(chan struct{})
		a.sup.Go("storage.journal", func(context.Context) error {
			defer close(a.journalDone)
			return a.journal.Run(jctx)
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				next = coalesce(sub, next)
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.metrics.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	a.log.Info("app started", logx.Int("tasks", len(a.sched.GetNames())), logx.String("config", a.cfgm.Path()))
	return nil
}

// coalesce keeps only the newest config waiting in ch.
func coalesce(ch <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-ch:
			if !ok || newer == nil {
				return cur
			}
			cur = newer
		default:
			return cur
		}
	}
}

// validate rejects a reload that cannot be applied; config.Validate has
// already checked syntax.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	for _, tc := range cfg.Tasks {
		if _, err := Definition(tc, logx.Nop()); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, diff := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			if a.logs != nil {
				a.logs.Apply(next.Logging.Logx())
			}
		case "metrics":
			a.metrics.Reconfigure(ctx, mapMetricsConfig(next))
		case "scheduler", "engine", "storage":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	if !diff.Empty() {
		if err := a.registry.Apply(next.Tasks); err != nil {
			a.log.Warn("some tasks could not be applied", logx.Err(err))
		}
	}
	a.log.Info("config applied", fields...)
}

// Stop shuts everything down in dependency order. Each step is bounded so
// one component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.sched.ShutDown(ctx)
		a.closeStore()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := boundedContext(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The scheduler decides its own wait bound (scheduler.shutdown_timeout).
	step("scheduler", 0, func(c context.Context) error { a.sched.ShutDown(c); return nil })
	step("journal", 3*time.Second, a.stopJournal)
	step("metrics", time.Second, func(c context.Context) error { a.metrics.Stop(c); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Stop(c) })
	step("storage", time.Second, func(c context.Context) error { return a.closeStore() })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// stopJournal ends the journal writer once it has drained its queue.
func (a *App) stopJournal(ctx context.Context) error {
	if a.journalStop == nil {
		return nil
	}
	a.journalStop()
	select {
	case <-a.journalDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// boundedContext derives a context limited to max; it never extends the
// parent deadline. max <= 0 means no extra bound.
func boundedContext(ctx context.Context, max time.Duration) (context.Context, context.CancelFunc) {
	if max <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, max)
}
