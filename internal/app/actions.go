package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"taskd/internal/config"
	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

const maxOutputInError = 512

// buildWork turns an action into the work a task runs.
func buildWork(name string, a config.ActionConfig, log logx.Logger) (scheduler.Work, error) {
	log = log.With(logx.String("task", name))
	switch strings.ToLower(strings.TrimSpace(a.Kind)) {
	case config.ActionLog:
		msg := a.Message
		if msg == "" {
			msg = "tick"
		}
		return func(ctx context.Context) error {
			log.Info(msg)
			return nil
		}, nil

	case config.ActionFail:
		msg := a.Message
		if msg == "" {
			msg = "configured failure"
		}
		return func(ctx context.Context) error {
			return errors.New(msg)
		}, nil

	case config.ActionExec:
		command := strings.TrimSpace(a.Command)
		if command == "" {
			return nil, fmt.Errorf("task %q: exec action without command", name)
		}
		args := append([]string(nil), a.Args...)
		timeout := actionTimeout(a)
		return func(ctx context.Context) error {
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			var out bytes.Buffer
			cmd := exec.CommandContext(ctx, command, args...)
			cmd.Stdout = &out
			cmd.Stderr = &out
			err := cmd.Run()
			if err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("%s: %w", command, ctx.Err())
				}
				return fmt.Errorf("%s: %w: %s", command, err, truncate(out.String(), maxOutputInError))
			}
			log.Debug("exec finished", logx.String("command", command), logx.Int("output_bytes", out.Len()))
			return nil
		}, nil

	default:
		return nil, fmt.Errorf("task %q: unknown action %q", name, a.Kind)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
