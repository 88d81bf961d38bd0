package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

const (
	DefaultRetain      = 10000
	DefaultBusyTimeout = time.Second
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means DefaultBusyTimeout
	Retain      int           // max records kept; 0 means DefaultRetain
}

// RunRecord is one finished (or failed-to-start) execution.
type RunRecord struct {
	RunID      string    `json:"run_id,omitempty"`
	Task       string    `json:"task"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Forced     bool      `json:"forced,omitempty"`
	RunCount   int       `json:"run_count"`
	State      string    `json:"state"`
	Discarded  bool      `json:"discarded,omitempty"`
}

func (r RunRecord) Failed() bool { return r.Error != "" }

// Query filters RecentRuns. Records come back newest first.
type Query struct {
	Task  string // empty: all tasks
	Limit int    // <= 0: 50
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 50
	}
	return q.Limit
}
