// Package executor runs notebooks through papermill as an external process,
// streaming every output line into the run's progress log.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/nb-runner/internal/domain"
	"github.com/hochfrequenz/nb-runner/internal/params"
	"github.com/hochfrequenz/nb-runner/internal/secrets"
)

// DefaultCommand invokes papermill through the runner's python interpreter
var DefaultCommand = []string{"python3", "-m", "papermill"}

const (
	maxLineSize   = 4 * 1024 * 1024
	stderrContext = 5
)

// ExecutorConfig configures the notebook executor
type ExecutorConfig struct {
	Command   []string          // Papermill invocation, DefaultCommand when empty
	Kernel    string            // Optional kernel name passed with -k
	ExtraArgs []string          // Appended after the generated arguments
	Output    io.Writer         // Optional live mirror of progress lines
	Redactor  *secrets.Redactor // Masks secrets before lines leave the process
}

// Executor runs notebooks
type Executor struct {
	config ExecutorConfig
	logger *slog.Logger
}

// NewExecutor creates a new notebook executor
func NewExecutor(config ExecutorConfig, logger *slog.Logger) *Executor {
	if len(config.Command) == 0 {
		config.Command = DefaultCommand
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{config: config, logger: logger.With("component", "executor")}
}

// Run executes the notebook in cfg bound to p. It never panics on execution
// problems; every failure is returned as a Failure outcome.
func (e *Executor) Run(ctx context.Context, cfg domain.RunConfiguration, p domain.ParameterSet) domain.RunOutcome {
	start := time.Now()

	paramsPath := filepath.Join(cfg.ScriptsDir, parametersFileName(cfg.RunID))
	if err := params.WriteFile(paramsPath, p); err != nil {
		return domain.Failure(domain.ExecutionError(fmt.Errorf("writing parameters file: %w", err)))
	}
	defer os.Remove(paramsPath)

	if err := os.MkdirAll(filepath.Dir(cfg.OutputArtifactPath), 0755); err != nil {
		return domain.Failure(domain.ExecutionError(fmt.Errorf("creating output dir: %w", err)))
	}
	if err := os.MkdirAll(filepath.Dir(cfg.ProgressLogPath), 0755); err != nil {
		return domain.Failure(domain.ExecutionError(fmt.Errorf("creating progress log dir: %w", err)))
	}

	logFile, err := os.OpenFile(cfg.ProgressLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return domain.Failure(domain.ExecutionError(fmt.Errorf("opening progress log: %w", err)))
	}
	defer logFile.Close()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	args := append(e.config.Command[1:len(e.config.Command):len(e.config.Command)], e.arguments(cfg, paramsPath)...)
	cmd := exec.CommandContext(ctx, e.config.Command[0], args...)
	cmd.WaitDelay = 10 * time.Second

	sink := &progressSink{
		log:      logFile,
		mirror:   e.config.Output,
		redactor: e.config.Redactor,
		logger:   e.logger.With("run_id", cfg.RunID),
	}
	tail := newLineRing(stderrContext)
	stdout := newLineWriter(func(line string) { sink.Write(line) })
	stderr := newLineWriter(func(line string) { tail.Add(sink.Write(line)) })
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	e.logger.Info("executing notebook",
		"run_id", cfg.RunID,
		"notebook", cfg.NotebookPath,
		"output", cfg.OutputArtifactPath,
		"report_mode", cfg.ReportMode)
	e.logger.Debug("papermill command", "command", cmd.String())

	if err := cmd.Start(); err != nil {
		return domain.Failure(domain.ExecutionError(fmt.Errorf("starting papermill: %w", err)))
	}

	err = cmd.Wait()
	stdout.Flush()
	stderr.Flush()
	duration := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Failure(domain.ExecutionError(
				fmt.Errorf("notebook exceeded deadline of %s", cfg.Timeout)))
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return domain.Failure(domain.ExecutionError(fmt.Errorf("notebook run cancelled: %w", ctx.Err())))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			e.logger.Warn("papermill failed",
				"run_id", cfg.RunID,
				"exit_code", exitErr.ExitCode(),
				"duration", duration.Round(time.Millisecond))
			return domain.Failure(domain.ExecutionError(exitFailure(exitErr.ExitCode(), tail.Lines())))
		}
		return domain.Failure(domain.ExecutionError(fmt.Errorf("running papermill: %w", err)))
	}

	info, err := os.Stat(cfg.OutputArtifactPath)
	if err != nil {
		return domain.Failure(domain.ExecutionError(fmt.Errorf("papermill produced no artifact: %w", err)))
	}

	e.logger.Info("notebook executed",
		"run_id", cfg.RunID,
		"artifact", cfg.OutputArtifactPath,
		"size", humanize.Bytes(uint64(info.Size())),
		"duration", duration.Round(time.Millisecond))
	return domain.Success(cfg.OutputArtifactPath)
}

func (e *Executor) arguments(cfg domain.RunConfiguration, paramsPath string) []string {
	args := []string{
		cfg.NotebookPath,
		cfg.OutputArtifactPath,
		"--parameters_file", paramsPath,
		"--log-output",
		"--no-progress-bar",
	}
	if cfg.ReportMode {
		args = append(args, "--report-mode")
	}
	if e.config.Kernel != "" {
		args = append(args, "--kernel", e.config.Kernel)
	}
	return append(args, e.config.ExtraArgs...)
}

func parametersFileName(runID string) string {
	if runID == "" {
		runID = "run"
	}
	return "params-" + runID + ".json"
}

func exitFailure(code int, stderrTail []string) error {
	if len(stderrTail) == 0 {
		return fmt.Errorf("papermill exited with code %d", code)
	}
	return fmt.Errorf("papermill exited with code %d: %s", code, strings.Join(stderrTail, "\n"))
}

// progressSink appends redacted lines to the progress log as they arrive.
// stdout and stderr share it, so writes are serialized. Only the first write
// failure is logged.
type progressSink struct {
	mu       sync.Mutex
	log      io.Writer
	mirror   io.Writer
	redactor *secrets.Redactor
	logger   *slog.Logger
	failed   bool
}

func (s *progressSink) Write(line string) string {
	line = s.redactor.Redact(line)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.log, line+"\n"); err != nil {
		s.reportFailure("writing progress log", err)
	}
	if s.mirror != nil {
		if _, err := io.WriteString(s.mirror, line+"\n"); err != nil {
			s.reportFailure("mirroring progress", err)
		}
	}
	return line
}

func (s *progressSink) reportFailure(msg string, err error) {
	if s.failed {
		return
	}
	s.failed = true
	if s.logger != nil {
		s.logger.Warn(msg, "error", err)
	}
}

type lineRing struct {
	mu    sync.Mutex
	lines []string
	size  int
}

func newLineRing(size int) *lineRing {
	return &lineRing{size: size}
}

func (r *lineRing) Add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.size {
		r.lines = r.lines[len(r.lines)-r.size:]
	}
}

func (r *lineRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// lineWriter splits a byte stream into lines. exec copies each stream from
// its own goroutine, so a lineWriter is never written concurrently.
type lineWriter struct {
	buf  []byte
	emit func(line string)
}

func newLineWriter(emit func(line string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(strings.TrimSuffix(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineSize {
		w.Flush()
	}
	return len(p), nil
}

// Flush emits any trailing partial line
func (w *lineWriter) Flush() {
	if len(w.buf) == 0 {
		return
	}
	w.emit(strings.TrimSuffix(string(w.buf), "\r"))
	w.buf = nil
}
