package runstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/nb-runner/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_StartAndFinishRun(t *testing.T) {
	store := newStore(t)

	run := &domain.Run{ID: "run-1", NotebookPath: "hello.ipynb", ParametersPath: "params.json"}
	if err := store.StartRun(run); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunRunning {
		t.Errorf("Status = %s, want running", got.Status)
	}
	if got.FinishedAt != nil {
		t.Error("FinishedAt should be unset while running")
	}

	run.Status = domain.RunSucceeded
	run.ArtifactPath = "out/hello.ipynb"
	run.RenderedPath = "out/hello.html"
	run.ArtifactDigest = "abc123"
	if err := store.FinishRun(run); err != nil {
		t.Fatal(err)
	}

	got, err = store.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunSucceeded {
		t.Errorf("Status = %s, want succeeded", got.Status)
	}
	if got.RenderedPath != "out/hello.html" || got.ArtifactDigest != "abc123" {
		t.Errorf("got %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
	if got.ParametersPath != "params.json" {
		t.Errorf("ParametersPath = %q", got.ParametersPath)
	}
}

func TestStore_GetRun_NotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.GetRun("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := store.FinishRun(&domain.Run{ID: "missing", Status: domain.RunFailed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRun err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListRuns(t *testing.T) {
	store := newStore(t)
	base := time.Now().Add(-time.Hour)

	for i, status := range []domain.RunStatus{domain.RunSucceeded, domain.RunFailed, domain.RunSucceeded} {
		run := &domain.Run{
			ID:           []string{"a", "b", "c"}[i],
			NotebookPath: "nb.ipynb",
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.StartRun(run); err != nil {
			t.Fatal(err)
		}
		run.Status = status
		if err := store.FinishRun(run); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListRuns(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Errorf("ListRuns returned %d runs, first %q; want 3 newest first", len(all), all[0].ID)
	}

	succeeded, err := store.ListRuns(ListOptions{Status: domain.RunSucceeded, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(succeeded) != 1 || succeeded[0].ID != "c" {
		t.Errorf("filtered = %v", succeeded)
	}
}

func TestStore_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")

	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.StartRun(&domain.Run{ID: "x", NotebookPath: "nb.ipynb"}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if _, err := reopened.GetRun("x"); err != nil {
		t.Errorf("run should persist across reopen: %v", err)
	}
}
