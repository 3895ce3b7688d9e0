package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by where they were detected
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindExecution     ErrorKind = "execution"
	KindObservation   ErrorKind = "observation"
	KindUnexpected    ErrorKind = "unexpected"
)

// Error wraps a cause with its kind
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ConfigurationError marks a problem found before the notebook starts
func ConfigurationError(err error) error {
	return &Error{Kind: KindConfiguration, Err: err}
}

// ExecutionError marks a failure while executing the notebook
func ExecutionError(err error) error {
	return &Error{Kind: KindExecution, Err: err}
}

// ObservationError marks a watcher fault. These are logged, never propagated.
func ObservationError(err error) error {
	return &Error{Kind: KindObservation, Err: err}
}

// UnexpectedError marks anything else, such as a recovered panic
func UnexpectedError(err error) error {
	return &Error{Kind: KindUnexpected, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnexpected if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}
