package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hochfrequenz/nb-runner/internal/config"
	"github.com/hochfrequenz/nb-runner/internal/notify"
	"github.com/hochfrequenz/nb-runner/internal/pipeline"
)

// buildNotifier fans run notifications out to Slack and to the job summary
// when running inside GitHub Actions. It returns nil when neither is set.
func buildNotifier(cfg config.NotificationsConfig, getenv config.Getenv) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.SlackWebhook))
	}
	if path := getenv("GITHUB_STEP_SUMMARY"); path != "" {
		notifiers = append(notifiers, notify.NewSummaryNotifier(path))
	}
	if len(notifiers) == 0 {
		return nil
	}
	return notify.NewMultiNotifier(notifiers...)
}

// reportFailure emits a workflow error annotation when running inside
// GitHub Actions
func reportFailure(w io.Writer, getenv config.Getenv, err error) {
	if getenv("GITHUB_ACTIONS") != "true" {
		return
	}
	fmt.Fprintf(w, "::error::%s\n", escapeData(err.Error()))
}

// writeOutputs appends step outputs to $GITHUB_OUTPUT when it is set
func writeOutputs(getenv config.Getenv, report *pipeline.Report) error {
	path := getenv("GITHUB_OUTPUT")
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening GITHUB_OUTPUT: %w", err)
	}
	defer f.Close()

	outputs := []struct{ key, value string }{
		{"run_id", report.RunID},
		{"artifact", report.ArtifactPath},
		{"rendered", report.RenderedPath},
	}
	for _, o := range outputs {
		if _, err := fmt.Fprintf(f, "%s=%s\n", o.key, o.value); err != nil {
			return fmt.Errorf("writing GITHUB_OUTPUT: %w", err)
		}
	}
	return nil
}

// escapeData encodes a workflow command message
func escapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	return strings.ReplaceAll(s, "\n", "%0A")
}
