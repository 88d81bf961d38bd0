package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateName     = errors.New("task name already registered")
	ErrNotFound          = errors.New("task not found")
	ErrShutDown          = errors.New("scheduler shut down")
	ErrTaskRunning       = errors.New("task already running")
	ErrInvalidDefinition = errors.New("invalid task definition")

	errNotDue = errors.New("task not due")
)

// TaskError is returned by lifecycle operations. Use errors.Is against the
// sentinels above.
type TaskError struct {
	Op   string
	Name string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// WorkItemError wraps a failure raised by a task's work. It only ever reaches
// callers through Outcome.Err.
type WorkItemError struct {
	Name  string
	Err   error
	Panic any
	Stack string
}

func (e *WorkItemError) Error() string {
	return fmt.Sprintf("task %q: %v", e.Name, e.Err)
}

func (e *WorkItemError) Unwrap() error { return e.Err }

// Panicked reports whether the work panicked rather than returning an error.
func (e *WorkItemError) Panicked() bool { return e.Panic != nil }

// DispatchError reports that an execution could not be started after retries.
type DispatchError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %q failed after %d attempts: %v", e.Name, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
