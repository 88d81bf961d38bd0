// Package trigger decides when a scheduled task is eligible to run.
//
// A Trigger is an immutable value: every helper that changes a field returns
// a new, re-validated Trigger.
package trigger

import (
	"fmt"
	"strings"
	"time"
)

// Params describes a trigger before validation.
type Params struct {
	Start         time.Time     // zero: no lower bound
	End           time.Time     // zero: unbounded
	Interval      time.Duration // time between successive fires
	Repeat        bool          // false: fires at most once
	MaxIterations int           // 0: unbounded
	OnDemand      bool          // never fires on its own
}

type Trigger struct {
	p Params
}

// New validates p and returns the trigger.
//
// Exactly one of on-demand or interval-based firing governs a trigger, so an
// on-demand trigger must not carry an interval or an iteration cap, and a
// repeating trigger must carry a positive interval.
func New(p Params) (Trigger, error) {
	switch {
	case p.Interval < 0:
		return Trigger{}, invalid("interval", "must be >= 0")
	case p.OnDemand && p.Interval > 0:
		return Trigger{}, invalid("interval", "must be empty for an on-demand trigger")
	case !p.OnDemand && p.Repeat && p.Interval <= 0:
		return Trigger{}, invalid("interval", "must be > 0 for a repeating trigger")
	case p.MaxIterations < 0:
		return Trigger{}, invalid("max_iterations", "must be >= 1 when set")
	case p.OnDemand && p.MaxIterations > 0:
		return Trigger{}, invalid("max_iterations", "must be empty for an on-demand trigger")
	case !p.Start.IsZero() && !p.End.IsZero() && p.End.Before(p.Start):
		return Trigger{}, invalid("end", "must not be before start")
	}
	return Trigger{p: p}, nil
}

// Every fires repeatedly, d apart.
func Every(d time.Duration) (Trigger, error) {
	return New(Params{Interval: d, Repeat: true})
}

// Times fires n times, d apart.
func Times(d time.Duration, n int) (Trigger, error) {
	if n < 1 {
		return Trigger{}, invalid("max_iterations", "must be >= 1 when set")
	}
	return New(Params{Interval: d, Repeat: true, MaxIterations: n})
}

// Once fires a single time, at the first poll after it becomes eligible.
func Once() Trigger { return Trigger{p: Params{}} }

// OnDemand never fires on its own; only a forced run executes it.
func OnDemand() Trigger { return Trigger{p: Params{OnDemand: true}} }

func (t Trigger) WithStart(start time.Time) (Trigger, error) {
	p := t.p
	p.Start = start
	return New(p)
}

func (t Trigger) WithEnd(end time.Time) (Trigger, error) {
	p := t.p
	p.End = end
	return New(p)
}

func (t Trigger) Params() Params           { return t.p }
func (t Trigger) Interval() time.Duration { return t.p.Interval }
func (t Trigger) IsOnDemand() bool        { return t.p.OnDemand }

// IsDue reports whether a task with the given history should fire at now.
func (t Trigger) IsDue(now, lastRun time.Time, runCount int) bool {
	p := t.p
	if p.OnDemand {
		return false
	}
	if !p.Start.IsZero() && now.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && now.After(p.End) {
		return false
	}
	if p.MaxIterations > 0 && runCount >= p.MaxIterations {
		return false
	}
	if lastRun.IsZero() {
		return true
	}
	if !p.Repeat && runCount >= 1 {
		return false
	}
	// Clock skew: a run "in the future" is treated as not yet elapsed.
	if now.Before(lastRun) {
		return false
	}
	return now.Sub(lastRun) >= p.Interval
}

// Exhausted reports whether the trigger can never fire automatically again.
// On-demand triggers are never exhausted.
func (t Trigger) Exhausted(now time.Time, runCount int) bool {
	p := t.p
	if p.OnDemand {
		return false
	}
	if !p.End.IsZero() && now.After(p.End) {
		return true
	}
	if p.MaxIterations > 0 && runCount >= p.MaxIterations {
		return true
	}
	return !p.Repeat && runCount >= 1
}

// Next returns the earliest instant the trigger can fire again, or the zero
// time when it will not fire automatically. A task that never ran and has no
// start bound fires at the next poll, which is also reported as zero.
func (t Trigger) Next(lastRun time.Time, runCount int) time.Time {
	p := t.p
	if p.OnDemand {
		return time.Time{}
	}
	if p.MaxIterations > 0 && runCount >= p.MaxIterations {
		return time.Time{}
	}

	var next time.Time
	switch {
	case lastRun.IsZero():
		next = p.Start
	case !p.Repeat && runCount >= 1:
		return time.Time{}
	default:
		next = lastRun.Add(p.Interval)
		if next.Before(p.Start) {
			next = p.Start
		}
	}
	if !p.End.IsZero() && next.After(p.End) {
		return time.Time{}
	}
	return next
}

// String renders a short human summary, e.g. "every 100ms x3".
func (t Trigger) String() string {
	p := t.p
	var b strings.Builder
	switch {
	case p.OnDemand:
		b.WriteString("on-demand")
	case !p.Repeat:
		b.WriteString("once")
	default:
		b.WriteString("every ")
		b.WriteString(p.Interval.String())
	}
	if p.MaxIterations > 0 && p.Repeat {
		fmt.Fprintf(&b, " x%d", p.MaxIterations)
	}
	if !p.Start.IsZero() {
		b.WriteString(" from ")
		b.WriteString(p.Start.Format(time.RFC3339))
	}
	if !p.End.IsZero() {
		b.WriteString(" until ")
		b.WriteString(p.End.Format(time.RFC3339))
	}
	return b.String()
}
