package observer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LineCallback receives complete lines appended to the followed file
type LineCallback func(lines []string)

// FollowConfig controls a Follower
type FollowConfig struct {
	Path     string
	FromEnd  bool          // skip content present when following starts
	Debounce time.Duration // coalesce bursts of writes
	OnLines  LineCallback
}

// Follower streams lines appended to a progress log. The file may not exist
// yet; the parent directory is watched so creation is picked up.
type Follower struct {
	path     string
	callback LineCallback
	debounce time.Duration
	logger   *slog.Logger

	watcher *fsnotify.Watcher

	offset  int64
	partial []byte
	timer   *time.Timer
	mu      sync.Mutex
}

// NewFollower creates a follower for config.Path
func NewFollower(config FollowConfig, logger *slog.Logger) (*Follower, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("follow path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Debounce <= 0 {
		config.Debounce = 100 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(config.Path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(config.Path), err)
	}

	f := &Follower{
		path:     filepath.Clean(config.Path),
		callback: config.OnLines,
		debounce: config.Debounce,
		logger:   logger.With("component", "follower"),
		watcher:  watcher,
	}
	if config.FromEnd {
		if info, err := os.Stat(config.Path); err == nil {
			f.offset = info.Size()
		}
	}
	return f, nil
}

// Follow delivers lines until ctx is cancelled. Content already in the file
// is delivered first unless FromEnd was set.
func (f *Follower) Follow(ctx context.Context) error {
	defer f.watcher.Close()

	f.flush()

	for {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			if f.timer != nil {
				f.timer.Stop()
			}
			f.mu.Unlock()
			return nil
		case event, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			f.handleEvent(event)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("watch error", "error", err)
		}
	}
}

func (f *Follower) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != f.path {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		f.offset = 0
		f.partial = nil
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.debounce, f.flush)
}

// flush reads everything past the current offset and emits complete lines
func (f *Follower) flush() {
	f.mu.Lock()
	lines, err := f.readNew()
	f.mu.Unlock()

	if err != nil {
		f.logger.Warn("reading progress log", "path", f.path, "error", err)
		return
	}
	if len(lines) > 0 && f.callback != nil {
		f.callback(lines)
	}
}

func (f *Follower) readNew() ([]string, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < f.offset {
		// Truncated, start over.
		f.offset = 0
		f.partial = nil
	}
	if info.Size() == f.offset {
		return nil, nil
	}

	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	f.offset += int64(len(data))

	data = append(f.partial, data...)
	end := strings.LastIndexByte(string(data), '\n')
	if end < 0 {
		f.partial = data
		return nil, nil
	}
	f.partial = append([]byte(nil), data[end+1:]...)

	lines := strings.Split(string(data[:end]), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines, nil
}
