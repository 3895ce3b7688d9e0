//go:build integration

package integration

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestCLI_Help(t *testing.T) {
	out, err := exec.Command(binaryPath(t), "--help").CombinedOutput()
	if err != nil {
		t.Fatalf("help failed: %v\n%s", err, out)
	}
	for _, sub := range []string{"run", "logs", "history", "schedule"} {
		if !strings.Contains(string(out), sub) {
			t.Errorf("help output missing %q command", sub)
		}
	}
}

func TestCLI_RunSucceeds(t *testing.T) {
	w := newWorkspace(t, `{"cells": []}`)

	out, err := w.run(t, "run")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	artifact := filepath.Join(w.dir, "workspace", "nb-runner.out", "hello.ipynb")
	if _, err := os.Stat(artifact); err != nil {
		t.Errorf("artifact missing: %v", err)
	}

	outputs := w.outputs(t)
	if outputs["artifact"] != artifact {
		t.Errorf("artifact output = %q, want %q", outputs["artifact"], artifact)
	}
	if !strings.HasSuffix(outputs["rendered"], "hello.html") {
		t.Errorf("rendered output = %q", outputs["rendered"])
	}

	secretsPath := filepath.Join(w.dir, "temp", "secrets.json")
	if _, err := os.Stat(secretsPath); err != nil {
		t.Errorf("secrets not staged: %v", err)
	}
}

func TestCLI_RunFailsWithAnnotation(t *testing.T) {
	w := newWorkspace(t, `{"cells": [{"source": "print(undefined_param)"}]}`)

	out, err := w.run(t, "run")
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		t.Fatalf("expected exit code 1, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "::error::") {
		t.Errorf("output missing error annotation:\n%s", out)
	}
	if outputs := w.outputs(t); outputs != nil {
		t.Errorf("no outputs expected on failure, got %v", outputs)
	}
	rendered := filepath.Join(w.dir, "workspace", "nb-runner.out", "hello.html")
	if _, err := os.Stat(rendered); !os.IsNotExist(err) {
		t.Error("render should not run after a failed execution")
	}
}

func TestCLI_HistoryAndLogs(t *testing.T) {
	w := newWorkspace(t, `{"cells": []}`)
	if out, err := w.run(t, "run"); err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	out, err := w.run(t, "history")
	if err != nil {
		t.Fatalf("history failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "succeeded") || !strings.Contains(out, "hello.ipynb") {
		t.Errorf("history output:\n%s", out)
	}

	out, err = w.run(t, "logs", "--lines", "5")
	if err != nil {
		t.Fatalf("logs failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Executing Cell 1") {
		t.Errorf("logs output:\n%s", out)
	}
}

func TestCLI_ScheduleRejectsBadCron(t *testing.T) {
	w := newWorkspace(t, `{"cells": []}`)
	out, err := w.run(t, "schedule", "--cron", "every day")
	if err == nil {
		t.Fatalf("expected failure for invalid cron\n%s", out)
	}
	if !strings.Contains(out, "invalid cron expression") {
		t.Errorf("output:\n%s", out)
	}
}
