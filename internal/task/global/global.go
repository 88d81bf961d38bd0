// Package global holds one explicitly initialized process-wide scheduler
// and forwards calls to it.
//
// Nothing is created implicitly: callers Init a *scheduler.Service they built
// and Teardown it when done. Before Init, operations return
// ErrNotInitialized and queries return zero values.
package global

import (
	"context"
	"errors"
	"sync"

	"taskd/internal/task/scheduler"
	"taskd/internal/task/trigger"
)

var (
	ErrNotInitialized     = errors.New("global scheduler not initialized")
	ErrAlreadyInitialized = errors.New("global scheduler already initialized")
)

var (
	mu  sync.RWMutex
	cur *scheduler.Service
)

// Init installs s as the process-wide scheduler.
func Init(s *scheduler.Service) error {
	if s == nil {
		return errors.New("global: nil scheduler")
	}
	mu.Lock()
	defer mu.Unlock()
	if cur != nil {
		return ErrAlreadyInitialized
	}
	cur = s
	return nil
}

// Teardown shuts the scheduler down and clears it. It is a no-op when
// nothing is installed.
func Teardown(ctx context.Context) {
	mu.Lock()
	s := cur
	cur = nil
	mu.Unlock()
	if s != nil {
		s.ShutDown(ctx)
	}
}

// Default returns the installed scheduler or nil.
func Default() *scheduler.Service {
	mu.RLock()
	defer mu.RUnlock()
	return cur
}

func get() (*scheduler.Service, error) {
	if s := Default(); s != nil {
		return s, nil
	}
	return nil, ErrNotInitialized
}

func Schedule(name string, trig trigger.Trigger, autostart bool, work scheduler.Work, onComplete func(scheduler.Outcome)) error {
	s, err := get()
	if err != nil {
		return err
	}
	return s.Schedule(name, trig, autostart, work, onComplete)
}

func ScheduleTask(def scheduler.Definition) error {
	s, err := get()
	if err != nil {
		return err
	}
	return s.ScheduleTask(def)
}

func Pause(name string) error {
	s, err := get()
	if err != nil {
		return err
	}
	return s.Pause(name)
}

func Resume(name string) error {
	s, err := get()
	if err != nil {
		return err
	}
	return s.Resume(name)
}

func Run(name string) error {
	s, err := get()
	if err != nil {
		return err
	}
	return s.Run(name)
}

func Delete(name string) error {
	s, err := get()
	if err != nil {
		return err
	}
	s.Delete(name)
	return nil
}

func GetNames() []string {
	if s := Default(); s != nil {
		return s.GetNames()
	}
	return nil
}

func GetStatus(name string) (scheduler.TaskSummary, error) {
	s, err := get()
	if err != nil {
		return scheduler.TaskSummary{}, err
	}
	return s.GetStatus(name)
}

func GetStatuses() []scheduler.TaskSummary {
	if s := Default(); s != nil {
		return s.GetStatuses()
	}
	return nil
}

func PauseAll() error {
	s, err := get()
	if err != nil {
		return err
	}
	s.PauseAll()
	return nil
}

func ResumeAll() error {
	s, err := get()
	if err != nil {
		return err
	}
	s.ResumeAll()
	return nil
}

// ShutDown stops the installed scheduler without clearing it.
func ShutDown(ctx context.Context) error {
	s, err := get()
	if err != nil {
		return err
	}
	s.ShutDown(ctx)
	return nil
}

func IsStarted() bool {
	s := Default()
	return s != nil && s.IsStarted()
}

func IsShutDown() bool {
	s := Default()
	return s != nil && s.IsShutDown()
}
