// Package storage keeps a journal of task executions.
//
// Two drivers are available: "sqlite" (a single database file) and "file"
// (append-only JSON Lines). Only finished executions are recorded; scheduler
// state itself is never persisted.
package storage
