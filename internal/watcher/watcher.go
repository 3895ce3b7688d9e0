// Package watcher periodically echoes the tail of a run's progress log until
// the run signals completion.
package watcher

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/hochfrequenz/nb-runner/internal/domain"
	"github.com/hochfrequenz/nb-runner/internal/secrets"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultLines    = 15

	StartMarker = "***Polling latest output status result***"
	EndMarker   = "***End of polling latest output status result***"
)

var markerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))

// SnapshotCallback receives every snapshot the watcher echoes
type SnapshotCallback func(snapshot domain.ProgressSnapshot)

// Config configures a Watcher
type Config struct {
	Interval   time.Duration
	Lines      int
	Output     io.Writer // Defaults to os.Stdout
	Redactor   *secrets.Redactor
	OnSnapshot SnapshotCallback
}

// Watcher samples the progress log at a fixed interval
type Watcher struct {
	config Config
	styled bool
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a Watcher, filling in defaults for unset fields
func New(config Config, logger *slog.Logger) *Watcher {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Lines <= 0 {
		config.Lines = DefaultLines
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{
		config: config,
		styled: isTerminal(config.Output),
		logger: logger.With("component", "watcher"),
	}
}

// Watch polls cfg.ProgressLogPath until done is signalled. It checks for
// completion at every iteration boundary, so it returns within one interval
// of the signal. Read failures are logged and polling continues.
func (w *Watcher) Watch(cfg domain.RunConfiguration, done *domain.Completion) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.logger.Debug("watching progress log",
		"path", cfg.ProgressLogPath,
		"interval", w.config.Interval,
		"lines", w.config.Lines)

	for {
		select {
		case <-done.Done():
			w.logger.Debug("run finished, watcher exiting")
			return
		case <-ticker.C:
		}

		// Both channels may be ready at once; completion wins.
		if done.IsDone() {
			return
		}

		snapshot, err := w.Sample(cfg.ProgressLogPath)
		if err != nil {
			w.logger.Warn("sampling progress log", "error", domain.ObservationError(err))
			continue
		}
		if err := w.Echo(snapshot); err != nil {
			w.logger.Warn("echoing progress", "error", domain.ObservationError(err))
		}
	}
}

// Sample reads the current progress window
func (w *Watcher) Sample(path string) (domain.ProgressSnapshot, error) {
	lines, err := Tail(path, w.config.Lines)
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("reading %s: %w", path, err)
	}
	for i, l := range lines {
		lines[i] = w.config.Redactor.Redact(l)
	}
	return domain.ProgressSnapshot{Lines: lines, TakenAt: time.Now()}, nil
}

// Echo writes snapshot between the start and end markers and forwards it to
// the snapshot callback
func (w *Watcher) Echo(snapshot domain.ProgressSnapshot) error {
	var b strings.Builder
	b.WriteString(w.marker(StartMarker))
	b.WriteByte('\n')
	for _, l := range snapshot.Lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteString(w.marker(EndMarker))
	b.WriteByte('\n')

	w.mu.Lock()
	_, err := io.WriteString(w.config.Output, b.String())
	w.mu.Unlock()

	if w.config.OnSnapshot != nil {
		w.config.OnSnapshot(snapshot)
	}
	return err
}

func (w *Watcher) marker(text string) string {
	if !w.styled {
		return text
	}
	return markerStyle.Render(text)
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
