// Package notify reports finished notebook runs to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifySuccess NotificationType = iota
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string // Optional run reference
	Link    string // Optional link to the rendered report
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// RunFinished builds the notification for a completed run. err is nil on
// success. A cancelled run is a warning, not an error.
func RunFinished(runID, notebook string, duration time.Duration, link string, err error) Notification {
	name := filepath.Base(notebook)
	if errors.Is(err, context.Canceled) {
		return Notification{
			Title:   fmt.Sprintf("Notebook %s cancelled", name),
			Message: err.Error(),
			Type:    NotifyWarning,
			RunID:   runID,
		}
	}
	if err != nil {
		return Notification{
			Title:   fmt.Sprintf("Notebook %s failed", name),
			Message: err.Error(),
			Type:    NotifyError,
			RunID:   runID,
		}
	}
	return Notification{
		Title:   fmt.Sprintf("Notebook %s finished", name),
		Message: fmt.Sprintf("Completed in %s", duration.Round(time.Second)),
		Type:    NotifySuccess,
		RunID:   runID,
		Link:    link,
	}
}
