package domain

import (
	"sync"
	"time"
)

// RunOutcome is the single result produced by the run task
type RunOutcome struct {
	ArtifactPath string
	Err          error
}

// Success returns an outcome for a materialized artifact
func Success(artifactPath string) RunOutcome {
	return RunOutcome{ArtifactPath: artifactPath}
}

// Failure returns an outcome carrying the cause of a failed execution
func Failure(err error) RunOutcome {
	return RunOutcome{Err: err}
}

// Succeeded returns true if the run produced an artifact
func (o RunOutcome) Succeeded() bool {
	return o.Err == nil && o.ArtifactPath != ""
}

// Result is the reconciled outcome of all supervised tasks
type Result struct {
	ArtifactPath string
	Err          error
}

// Ok returns true if the run should proceed to post-processing
func (r Result) Ok() bool {
	return r.Err == nil
}

// ProgressSnapshot holds the most recent progress log lines at sampling time
type ProgressSnapshot struct {
	Lines   []string  `json:"lines"`
	TakenAt time.Time `json:"taken_at"`
}

// Completion is a one-shot signal written by the run task and read by any
// number of observers.
type Completion struct {
	once sync.Once
	ch   chan struct{}
}

// NewCompletion creates an unsignalled Completion
func NewCompletion() *Completion {
	return &Completion{ch: make(chan struct{})}
}

// Signal marks the run as finished. Safe to call more than once.
func (c *Completion) Signal() {
	c.once.Do(func() { close(c.ch) })
}

// Done returns a channel that is closed once Signal has been called
func (c *Completion) Done() <-chan struct{} {
	return c.ch
}

// IsDone reports whether Signal has been called
func (c *Completion) IsDone() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}
