package engine

import "errors"

var (
	ErrStopped   = errors.New("task engine stopped")
	ErrSaturated = errors.New("task engine saturated")
	ErrOverlap   = errors.New("job already in flight")
	ErrNoRun     = errors.New("job Run is nil")
)
