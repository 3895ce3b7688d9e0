package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/nb-runner/internal/config"
	"github.com/hochfrequenz/nb-runner/internal/domain"
	"github.com/hochfrequenz/nb-runner/internal/executor"
	"github.com/hochfrequenz/nb-runner/internal/notify"
	"github.com/hochfrequenz/nb-runner/internal/publish"
	"github.com/hochfrequenz/nb-runner/internal/render"
	"github.com/hochfrequenz/nb-runner/internal/secrets"
	"github.com/hochfrequenz/nb-runner/internal/supervisor"
	"github.com/hochfrequenz/nb-runner/internal/watcher"
)

// History records runs. *runstore.Store satisfies it.
type History interface {
	StartRun(run *domain.Run) error
	FinishRun(run *domain.Run) error
}

// Uploader publishes run files. *publish.Publisher satisfies it.
type Uploader interface {
	Publish(ctx context.Context, runID string, files []publish.File) ([]publish.Object, error)
}

// ProgressSink receives live progress. *api.Server satisfies it.
type ProgressSink interface {
	BeginRun(runID, notebook string)
	PublishState(runID string, state domain.SupervisorState, err error)
	PublishSnapshot(snapshot domain.ProgressSnapshot)
}

// Options wires a Pipeline. Only Config is required.
type Options struct {
	Config   *config.Config
	History  History
	Notifier notify.Notifier
	Uploader Uploader
	Progress ProgressSink
	Output   io.Writer // Watcher echo and optional papermill mirror, os.Stdout when nil
	Logger   *slog.Logger
}

// Report summarizes one pipeline run
type Report struct {
	RunID        string
	Notebook     string
	ArtifactPath string
	RenderedPath string
	LogPath      string
	Digest       string
	Objects      []publish.Object
	Duration     time.Duration
	Err          error

	// The supervisor already logged and published Err.
	supervisorFailed bool
}

// Ok returns true if the run and its post-processing succeeded
func (r *Report) Ok() bool {
	return r.Err == nil
}

// Pipeline runs a notebook end to end: secrets staging, supervised
// execution, rendering, publishing and bookkeeping.
type Pipeline struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Pipeline
func New(opts Options) *Pipeline {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NoopNotifier{}
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{opts: opts, logger: opts.Logger.With("component", "pipeline")}
}

// Run executes one notebook described by in. The returned error equals
// Report.Err.
func (p *Pipeline) Run(ctx context.Context, in config.Inputs) (*Report, error) {
	started := time.Now()
	report := &Report{RunID: uuid.NewString(), Notebook: in.Notebook}

	run := &domain.Run{
		ID:             report.RunID,
		NotebookPath:   in.Notebook,
		ParametersPath: in.Params,
		StartedAt:      started,
	}
	if p.opts.History != nil {
		if err := p.opts.History.StartRun(run); err != nil {
			p.logger.Warn("recording run start", "run_id", run.ID, "error", err)
		}
	}
	if p.opts.Progress != nil {
		p.opts.Progress.BeginRun(report.RunID, in.Notebook)
	}

	p.execute(ctx, in, report)
	report.Duration = time.Since(started)

	p.finish(run, report)
	return report, report.Err
}

func (p *Pipeline) execute(ctx context.Context, in config.Inputs, report *Report) {
	cfg := p.opts.Config
	layout := domain.Layout{OutputPath: in.OutputPath, TempDir: in.TempDir}

	timeout, err := cfg.Runner.TimeoutDuration()
	if err != nil {
		report.Err = domain.ConfigurationError(fmt.Errorf("runner.timeout: %w", err))
		return
	}
	interval, err := cfg.Runner.PollIntervalDuration()
	if err != nil {
		report.Err = domain.ConfigurationError(fmt.Errorf("runner.poll_interval: %w", err))
		return
	}

	runCfg, err := domain.NewRunConfiguration(layout, domain.RunRequest{
		RunID:          report.RunID,
		NotebookPath:   in.Notebook,
		ParametersPath: in.Params,
		ReportMode:     in.IsReport,
		PollingEnabled: in.Poll,
		Timeout:        timeout,
	})
	if err != nil {
		report.Err = err
		return
	}
	report.LogPath = runCfg.ProgressLogPath

	if _, err := os.Stat(runCfg.NotebookPath); err != nil {
		report.Err = domain.ConfigurationError(fmt.Errorf("notebook: %w", err))
		return
	}
	for _, dir := range []string{layout.OutputDir(), layout.ScriptsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			report.Err = domain.ConfigurationError(fmt.Errorf("creating %s: %w", dir, err))
			return
		}
	}

	redactor, err := secrets.Stage(runCfg.SecretsMaterialPath, []byte(in.Secrets), cfg.Secrets.AgeIdentity)
	if err != nil {
		report.Err = domain.ConfigurationError(fmt.Errorf("staging secrets: %w", err))
		return
	}

	var mirror io.Writer
	if cfg.Runner.EchoOutput {
		mirror = p.opts.Output
	}
	runner := executor.NewExecutor(executor.ExecutorConfig{
		Command:   cfg.Runner.Command,
		Kernel:    cfg.Runner.Kernel,
		ExtraArgs: cfg.Runner.ExtraArgs,
		Output:    mirror,
		Redactor:  redactor,
	}, p.opts.Logger)

	watchCfg := watcher.Config{
		Interval: interval,
		Lines:    cfg.Runner.TailLines,
		Output:   p.opts.Output,
		Redactor: redactor,
	}
	if p.opts.Progress != nil {
		watchCfg.OnSnapshot = p.opts.Progress.PublishSnapshot
	}

	sup := supervisor.New(runner, watcher.New(watchCfg, p.opts.Logger), p.opts.Logger)
	if p.opts.Progress != nil {
		sup.OnStateChange = p.opts.Progress.PublishState
	}

	p.logger.Info("starting run",
		"run_id", report.RunID,
		"notebook", runCfg.NotebookPath,
		"params", runCfg.ParametersPath,
		"poll", runCfg.PollingEnabled,
		"report_mode", runCfg.ReportMode)

	result := sup.Supervise(ctx, runCfg)
	if !result.Ok() {
		report.Err = result.Err
		report.supervisorFailed = true
		return
	}
	report.ArtifactPath = result.ArtifactPath

	if digest, err := publish.DigestFile(report.ArtifactPath); err != nil {
		p.logger.Warn("hashing artifact", "artifact", report.ArtifactPath, "error", err)
	} else {
		report.Digest = digest
	}

	if cfg.Render.Enabled {
		renderer := render.New(render.Config{
			Command:   cfg.Render.Command,
			Format:    cfg.Render.Format,
			ExtraArgs: cfg.Render.ExtraArgs,
		}, p.opts.Logger)
		rendered, err := renderer.Render(ctx, report.ArtifactPath)
		if err != nil {
			report.Err = domain.ExecutionError(fmt.Errorf("rendering artifact: %w", err))
			return
		}
		report.RenderedPath = rendered
	}

	if p.opts.Uploader != nil {
		objects, err := p.opts.Uploader.Publish(ctx, report.RunID, p.publishFiles(report))
		report.Objects = objects
		if err != nil {
			report.Err = domain.ExecutionError(fmt.Errorf("publishing results: %w", err))
			return
		}
	}
}

func (p *Pipeline) publishFiles(report *Report) []publish.File {
	files := []publish.File{{Path: report.ArtifactPath}}
	if report.RenderedPath != "" {
		files = append(files, publish.File{Path: report.RenderedPath})
	}
	if _, err := os.Stat(report.LogPath); err == nil {
		files = append(files, publish.File{Path: report.LogPath, Compress: true})
	}
	return files
}

func (p *Pipeline) finish(run *domain.Run, report *Report) {
	now := time.Now()
	run.FinishedAt = &now
	run.ArtifactPath = report.ArtifactPath
	run.RenderedPath = report.RenderedPath
	run.ArtifactDigest = report.Digest
	run.Status = domain.RunSucceeded
	if report.Err != nil {
		run.Status = domain.RunFailed
		run.Error = report.Err.Error()
	}

	if p.opts.History != nil {
		if err := p.opts.History.FinishRun(run); err != nil {
			p.logger.Warn("recording run finish", "run_id", run.ID, "error", err)
		}
	}

	if err := p.opts.Notifier.Send(notify.RunFinished(report.RunID, report.Notebook, report.Duration, reportLink(report), report.Err)); err != nil {
		p.logger.Warn("sending notification", "run_id", report.RunID, "error", err)
	}

	if report.Err != nil {
		if report.supervisorFailed {
			return
		}
		if p.opts.Progress != nil {
			p.opts.Progress.PublishState(report.RunID, domain.StateFailed, report.Err)
		}
		p.logger.Error("run failed", "run_id", report.RunID, "kind", domain.KindOf(report.Err), "error", report.Err)
		return
	}
	p.logger.Info("run succeeded",
		"run_id", report.RunID,
		"artifact", report.ArtifactPath,
		"rendered", report.RenderedPath,
		"duration", report.Duration.Round(time.Millisecond))
}

// reportLink returns the object key of the rendered report, falling back to
// the artifact. Objects follow the order of publishFiles.
func reportLink(report *Report) string {
	switch {
	case len(report.Objects) == 0:
		return ""
	case report.RenderedPath != "" && len(report.Objects) > 1:
		return report.Objects[1].Key
	default:
		return report.Objects[0].Key
	}
}
