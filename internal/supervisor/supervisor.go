// Package supervisor runs a notebook execution and its optional progress
// watcher side by side and reconciles them into a single result.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/nb-runner/internal/domain"
	"github.com/hochfrequenz/nb-runner/internal/params"
)

// RunTask executes a notebook and reports its outcome
type RunTask interface {
	Run(ctx context.Context, cfg domain.RunConfiguration, p domain.ParameterSet) domain.RunOutcome
}

// WatchTask observes a run until the completion signal fires
type WatchTask interface {
	Watch(cfg domain.RunConfiguration, done *domain.Completion)
}

// ParameterLoader resolves the parameter set for a run
type ParameterLoader func(path string, injected domain.ParameterSet) (domain.ParameterSet, error)

// StateChangeCallback is called on every supervisor state transition
type StateChangeCallback func(runID string, state domain.SupervisorState, err error)

// Supervisor schedules the run and watch tasks
type Supervisor struct {
	runner  RunTask
	watcher WatchTask
	load    ParameterLoader
	logger  *slog.Logger

	OnStateChange StateChangeCallback

	mu    sync.Mutex
	state domain.SupervisorState
}

// New creates a Supervisor. watcher may be nil when polling is never wanted.
func New(runner RunTask, watcher WatchTask, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Supervisor{
		runner:  runner,
		watcher: watcher,
		load:    params.Load,
		logger:  logger.With("component", "supervisor"),
		state:   domain.StateIdle,
	}
}

// SetParameterLoader replaces the default parameter loader
func (s *Supervisor) SetParameterLoader(load ParameterLoader) {
	s.load = load
}

// State returns the current state
func (s *Supervisor) State() domain.SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Supervise runs cfg to completion. The run task's failure always decides
// the result; the watcher can neither fail a successful run nor rescue a
// failed one. Panics in either task are captured as unexpected errors.
func (s *Supervisor) Supervise(ctx context.Context, cfg domain.RunConfiguration) domain.Result {
	s.setState(cfg.RunID, domain.StateIdle, nil)

	p, err := s.load(cfg.ParametersPath, cfg.InjectedParameters())
	if err != nil {
		if domain.KindOf(err) == domain.KindUnexpected {
			err = domain.ConfigurationError(err)
		}
		return s.fail(cfg.RunID, err)
	}

	done := domain.NewCompletion()
	var outcome domain.RunOutcome
	var g errgroup.Group

	g.Go(s.guard("run task", func() error {
		defer done.Signal()
		outcome = s.runner.Run(ctx, cfg, p)
		return nil
	}))
	if cfg.PollingEnabled && s.watcher != nil {
		g.Go(s.guard("watch task", func() error {
			s.watcher.Watch(cfg, done)
			return nil
		}))
	}
	s.setState(cfg.RunID, domain.StateScheduled, nil)
	s.setState(cfg.RunID, domain.StateAwaitingCompletion, nil)

	waitErr := g.Wait()

	switch {
	case outcome.Err != nil:
		return s.fail(cfg.RunID, outcome.Err)
	case waitErr != nil:
		return s.fail(cfg.RunID, waitErr)
	case outcome.ArtifactPath == "":
		return s.fail(cfg.RunID, domain.UnexpectedError(errors.New("run task finished without an outcome")))
	}

	s.setState(cfg.RunID, domain.StateSucceeded, nil)
	return domain.Result{ArtifactPath: outcome.ArtifactPath}
}

func (s *Supervisor) fail(runID string, err error) domain.Result {
	s.logger.Error("run failed", "run_id", runID, "kind", domain.KindOf(err), "error", err)
	s.setState(runID, domain.StateFailed, err)
	return domain.Result{Err: err}
}

func (s *Supervisor) setState(runID string, state domain.SupervisorState, err error) {
	s.mu.Lock()
	s.state = state
	callback := s.OnStateChange
	s.mu.Unlock()

	s.logger.Debug("state changed", "run_id", runID, "state", state)
	if callback != nil {
		callback(runID, state, err)
	}
}

// guard converts a panic in fn into an unexpected error
func (s *Supervisor) guard(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("task panicked", "task", name, "panic", r, "stack", string(debug.Stack()))
				err = domain.UnexpectedError(fmt.Errorf("%s panicked: %v", name, r))
			}
		}()
		return fn()
	}
}
