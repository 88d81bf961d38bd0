package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConfig = `
tasks:
  - name: heartbeat
    group: ops
    every: 30s
    action: { kind: log }
  - name: manual
    on_demand: true
    autostart: false
    action: { kind: exec, command: "true" }
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	out, err := execute(t, "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "OK (2 tasks)") {
		t.Fatalf("unexpected output: %q", out)
	}

	bad := writeConfig(t, "tasks:\n  - name: x\n    every: nope\n    action: { kind: log }\n")
	if _, err := execute(t, "validate", "--config", bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestTasksCommand(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	out, err := execute(t, "tasks", "--config", path)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	for _, want := range []string{"heartbeat", "every 30s", "ops", "manual", "on-demand", "on demand", "false"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryWithoutStorage(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	if _, err := execute(t, "history", "--config", path); err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("expected disabled error, got %v", err)
	}
}
