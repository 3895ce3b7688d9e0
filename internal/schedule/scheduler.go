package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled invocation
type Job func(ctx context.Context) error

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a standard five-field cron expression or a descriptor
// such as @daily
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Scheduler runs a job at every tick of a cron schedule. Runs never
// overlap: ticks that pass while a job is running are skipped.
type Scheduler struct {
	schedule cron.Schedule
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	lastRun time.Time
	runs    int
	failed  int
}

// New creates a scheduler for a cron expression
func New(expr string, logger *slog.Logger) (*Scheduler, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return NewWithSchedule(sched, logger), nil
}

// NewWithSchedule creates a scheduler for an already parsed schedule
func NewWithSchedule(sched cron.Schedule, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		schedule: sched,
		logger:   logger.With("component", "schedule"),
		now:      time.Now,
	}
}

// NextRun returns the next tick after t
func (s *Scheduler) NextRun(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Stats reports how many runs have happened and how many failed
func (s *Scheduler) Stats() (runs, failed int, lastRun time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs, s.failed, s.lastRun
}

// Run blocks until ctx is cancelled, invoking job at each tick. A failing
// job is logged and the loop continues.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	for {
		next := s.NextRun(s.now())
		if next.IsZero() {
			return fmt.Errorf("schedule has no upcoming runs")
		}
		s.logger.Info("next run scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		start := s.now()
		err := job(ctx)

		s.mu.Lock()
		s.runs++
		s.lastRun = start
		if err != nil {
			s.failed++
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("scheduled run failed", "error", err, "duration", time.Since(start).Round(time.Millisecond))
		} else {
			s.logger.Info("scheduled run finished", "duration", time.Since(start).Round(time.Millisecond))
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}
