package domain

// RunStatus represents the lifecycle state of a recorded run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// SupervisorState tracks where the supervisor is in a single run
type SupervisorState string

const (
	StateIdle               SupervisorState = "idle"
	StateScheduled          SupervisorState = "scheduled"
	StateAwaitingCompletion SupervisorState = "awaiting_completion"
	StateSucceeded          SupervisorState = "succeeded"
	StateFailed             SupervisorState = "failed"
)

// Terminal returns true for states the supervisor never leaves
func (s SupervisorState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// SecretsPathKey is the parameter name carrying the staged secrets-material path
const SecretsPathKey = "secretsPath"

// ParameterSet maps parameter names to JSON-compatible values
type ParameterSet map[string]any
