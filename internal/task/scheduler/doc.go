// Package scheduler owns the task registry and the dispatch loop.
//
// The scheduler decides *when* a task runs (trigger evaluation, lifecycle
// state) and hands the work to internal/task/engine, which decides *how* it
// runs (goroutine, panic containment, concurrency cap).
//
// Firing resolution is Config.PollInterval: a trigger interval finer than the
// poll interval fires at most once per poll.
package scheduler
