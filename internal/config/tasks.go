package config

import (
	"fmt"
	"strings"
	"time"

	"taskd/internal/task/trigger"
)

const (
	ActionLog  = "log"
	ActionExec = "exec"
	ActionFail = "fail"
)

// Trigger resolves the task's trigger parameters.
func (t TaskConfig) Trigger() (trigger.Trigger, error) {
	var p trigger.Params
	path := "tasks." + t.Name

	if s := strings.TrimSpace(t.Every); s != "" {
		d, err := trigger.ParseInterval(s)
		if err != nil {
			return trigger.Trigger{}, fmt.Errorf("%s.every: %w", path, err)
		}
		p.Interval = d
		p.Repeat = true
	}
	if t.Repeat != nil {
		p.Repeat = *t.Repeat
	}
	p.OnDemand = t.OnDemand
	p.MaxIterations = t.MaxIterations

	var err error
	if p.Start, err = parseTimeField(path+".start", t.Start); err != nil {
		return trigger.Trigger{}, err
	}
	if p.End, err = parseTimeField(path+".end", t.End); err != nil {
		return trigger.Trigger{}, err
	}

	tr, err := trigger.New(p)
	if err != nil {
		return trigger.Trigger{}, fmt.Errorf("%s: %w", path, err)
	}
	return tr, nil
}

func parseTimeField(path, raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: invalid RFC3339 time %q: %w", path, raw, err)
	}
	return ts, nil
}

func (a ActionConfig) validate(path string) error {
	switch strings.ToLower(strings.TrimSpace(a.Kind)) {
	case ActionLog:
		return nil
	case ActionFail:
		return nil
	case ActionExec:
		if strings.TrimSpace(a.Command) == "" {
			return fmt.Errorf("%s.command: required for exec actions", path)
		}
		_, err := ParseDurationField(path+".timeout", a.Timeout)
		return err
	case "":
		return fmt.Errorf("%s.kind: required", path)
	default:
		return fmt.Errorf("%s.kind: unknown action %q (use log, exec or fail)", path, a.Kind)
	}
}
