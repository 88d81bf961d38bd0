package app

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"taskd/internal/config"
	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

// Registry keeps the scheduler's tasks in line with the config file.
type Registry struct {
	sched *scheduler.Service
	log   logx.Logger

	// onRemove is called with each name the registry deletes.
	onRemove func(name string)

	mu      sync.Mutex
	applied []config.TaskConfig
}

func NewRegistry(sched *scheduler.Service, log logx.Logger) *Registry {
	return &Registry{sched: sched, log: log.With(logx.String("comp", "registry"))}
}

// Definition builds the scheduler definition for one configured task.
func Definition(tc config.TaskConfig, log logx.Logger) (scheduler.Definition, error) {
	trig, err := tc.Trigger()
	if err != nil {
		return scheduler.Definition{}, err
	}
	name := strings.TrimSpace(tc.Name)
	work, err := buildWork(name, tc.Action, log)
	if err != nil {
		return scheduler.Definition{}, err
	}
	return scheduler.Definition{
		Name:        name,
		Group:       tc.Group,
		Description: tc.Description,
		Trigger:     trig,
		Autostart:   tc.AutostartEnabled(),
		Work:        work,
	}, nil
}

// Apply reconciles the scheduler with tasks: removed tasks are deleted,
// changed tasks are replaced and new tasks are scheduled. A task that fails
// to schedule is not remembered, so the next Apply retries it.
func (r *Registry) Apply(tasks []config.TaskConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	diff := config.DiffTasks(r.applied, tasks)
	if diff.Empty() {
		return nil
	}

	var errs []error
	failed := map[string]bool{}
	for _, name := range diff.Removed {
		r.delete(name)
	}
	for _, tc := range diff.Changed {
		r.delete(strings.TrimSpace(tc.Name))
		if err := r.schedule(tc); err != nil {
			errs = append(errs, err)
			failed[strings.TrimSpace(tc.Name)] = true
		}
	}
	for _, tc := range diff.Added {
		if err := r.schedule(tc); err != nil {
			errs = append(errs, err)
			failed[strings.TrimSpace(tc.Name)] = true
		}
	}

	applied := make([]config.TaskConfig, 0, len(tasks))
	for _, tc := range tasks {
		if !failed[strings.TrimSpace(tc.Name)] {
			applied = append(applied, tc)
		}
	}
	r.applied = applied
	r.log.Info("tasks applied",
		logx.Int("added", len(diff.Added)),
		logx.Int("changed", len(diff.Changed)),
		logx.Int("removed", len(diff.Removed)),
		logx.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// Applied returns the task configs currently scheduled.
func (r *Registry) Applied() []config.TaskConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]config.TaskConfig(nil), r.applied...)
}

func (r *Registry) schedule(tc config.TaskConfig) error {
	def, err := Definition(tc, r.log)
	if err != nil {
		return err
	}
	if err := r.sched.ScheduleTask(def); err != nil {
		return fmt.Errorf("schedule %q: %w", def.Name, err)
	}
	return nil
}

func (r *Registry) delete(name string) {
	r.sched.Delete(name)
	if r.onRemove != nil {
		r.onRemove(name)
	}
}
