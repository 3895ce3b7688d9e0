package domain

import (
	"errors"
	"path/filepath"
	"time"
)

const (
	outputDirName   = "nb-runner.out"
	scriptsDirName  = "nb-runner-scripts"
	secretsFileName = "secrets.json"
	progressLogName = "papermill-nb-runner.out"
)

// Layout holds the directories a run derives its paths from
type Layout struct {
	OutputPath string // Root for artifacts and the progress log
	TempDir    string // Runner temp directory for secrets and parameter files
}

// OutputDir returns the directory materialized notebooks are written to
func (l Layout) OutputDir() string {
	return filepath.Join(l.OutputPath, outputDirName)
}

// ScriptsDir returns the directory serialized parameter files are written to
func (l Layout) ScriptsDir() string {
	return filepath.Join(l.TempDir, scriptsDirName)
}

// SecretsPath returns where secrets material is staged
func (l Layout) SecretsPath() string {
	return filepath.Join(l.TempDir, secretsFileName)
}

// ProgressLogPath returns the append-only progress log location
func (l Layout) ProgressLogPath() string {
	return filepath.Join(l.OutputPath, progressLogName)
}

// RunConfiguration is the validated, immutable description of one run
type RunConfiguration struct {
	RunID               string
	NotebookPath        string
	ParametersPath      string // Optional, may not exist
	ReportMode          bool
	PollingEnabled      bool
	SecretsMaterialPath string
	OutputArtifactPath  string
	ProgressLogPath     string
	ScriptsDir          string
	Timeout             time.Duration // Zero means no deadline
}

// RunRequest carries the harness inputs a RunConfiguration is built from
type RunRequest struct {
	RunID          string
	NotebookPath   string
	ParametersPath string
	ReportMode     bool
	PollingEnabled bool
	Timeout        time.Duration
}

// NewRunConfiguration derives all run paths from the layout and request
func NewRunConfiguration(layout Layout, req RunRequest) (RunConfiguration, error) {
	if req.NotebookPath == "" {
		return RunConfiguration{}, ConfigurationError(errors.New("notebook path is required"))
	}
	return RunConfiguration{
		RunID:               req.RunID,
		NotebookPath:        req.NotebookPath,
		ParametersPath:      req.ParametersPath,
		ReportMode:          req.ReportMode,
		PollingEnabled:      req.PollingEnabled,
		SecretsMaterialPath: layout.SecretsPath(),
		OutputArtifactPath:  filepath.Join(layout.OutputDir(), filepath.Base(req.NotebookPath)),
		ProgressLogPath:     layout.ProgressLogPath(),
		ScriptsDir:          layout.ScriptsDir(),
		Timeout:             req.Timeout,
	}, nil
}

// InjectedParameters returns the parameters every run receives regardless of
// the parameters file
func (c RunConfiguration) InjectedParameters() ParameterSet {
	return ParameterSet{SecretsPathKey: c.SecretsMaterialPath}
}

// Run is a recorded execution in the run history
type Run struct {
	ID             string
	NotebookPath   string
	ParametersPath string
	Status         RunStatus
	ArtifactPath   string
	RenderedPath   string
	ArtifactDigest string
	Error          string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// Duration returns how long the run took, or has been running
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
