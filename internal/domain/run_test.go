package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRunConfiguration_DerivesPaths(t *testing.T) {
	layout := Layout{OutputPath: "/work", TempDir: "/tmp/runner"}

	cfg, err := NewRunConfiguration(layout, RunRequest{
		RunID:          "run-1",
		NotebookPath:   "notebooks/hello.ipynb",
		PollingEnabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"artifact", cfg.OutputArtifactPath, filepath.Join("/work", "nb-runner.out", "hello.ipynb")},
		{"progress log", cfg.ProgressLogPath, filepath.Join("/work", "papermill-nb-runner.out")},
		{"secrets", cfg.SecretsMaterialPath, filepath.Join("/tmp/runner", "secrets.json")},
		{"scripts", cfg.ScriptsDir, filepath.Join("/tmp/runner", "nb-runner-scripts")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if !cfg.PollingEnabled {
		t.Error("PollingEnabled should be carried over")
	}
}

func TestNewRunConfiguration_RequiresNotebook(t *testing.T) {
	_, err := NewRunConfiguration(Layout{OutputPath: "."}, RunRequest{})
	if err == nil {
		t.Fatal("expected error for missing notebook")
	}
	if KindOf(err) != KindConfiguration {
		t.Errorf("KindOf = %s, want %s", KindOf(err), KindConfiguration)
	}
}

func TestInjectedParameters(t *testing.T) {
	cfg := RunConfiguration{SecretsMaterialPath: "/tmp/s.json"}
	got := cfg.InjectedParameters()
	if got[SecretsPathKey] != "/tmp/s.json" {
		t.Errorf("secretsPath = %v, want /tmp/s.json", got[SecretsPathKey])
	}
}

func TestCompletion(t *testing.T) {
	c := NewCompletion()
	if c.IsDone() {
		t.Fatal("new completion should not be done")
	}

	c.Signal()
	c.Signal() // second call must not panic

	if !c.IsDone() {
		t.Error("completion should be done after Signal")
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel not closed")
	}
}

func TestRunOutcome(t *testing.T) {
	if !Success("/out/a.ipynb").Succeeded() {
		t.Error("Success should succeed")
	}
	if Failure(errors.New("boom")).Succeeded() {
		t.Error("Failure should not succeed")
	}
	if (RunOutcome{}).Succeeded() {
		t.Error("zero outcome should not succeed")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{ConfigurationError(errors.New("bad")), KindConfiguration},
		{fmt.Errorf("wrapped: %w", ExecutionError(errors.New("cell"))), KindExecution},
		{ObservationError(errors.New("tail")), KindObservation},
		{errors.New("plain"), KindUnexpected},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestRun_Duration(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	end := start.Add(90 * time.Second)
	r := &Run{StartedAt: start, FinishedAt: &end}
	if r.Duration() != 90*time.Second {
		t.Errorf("Duration = %v, want 1m30s", r.Duration())
	}
}
