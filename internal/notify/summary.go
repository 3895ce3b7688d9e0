package notify

import (
	"fmt"
	"os"
	"strings"
)

// SummaryNotifier appends notifications as markdown to a GitHub Actions job
// summary file ($GITHUB_STEP_SUMMARY).
type SummaryNotifier struct {
	path string
}

// NewSummaryNotifier creates a summary notifier. An empty path disables it.
func NewSummaryNotifier(path string) *SummaryNotifier {
	return &SummaryNotifier{path: path}
}

// Send appends the notification to the summary file
func (s *SummaryNotifier) Send(n Notification) error {
	if s.path == "" {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening job summary: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(BuildSummary(n)); err != nil {
		return fmt.Errorf("writing job summary: %w", err)
	}
	return nil
}

// BuildSummary renders a notification as a markdown section
func BuildSummary(n Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s %s\n\n", summaryIcon(n.Type), n.Title)
	if n.Type == NotifyError {
		fmt.Fprintf(&b, "```\n%s\n```\n\n", strings.TrimSpace(n.Message))
	} else if n.Message != "" {
		fmt.Fprintf(&b, "%s\n\n", n.Message)
	}
	if n.RunID != "" {
		fmt.Fprintf(&b, "Run: `%s`\n\n", n.RunID)
	}
	if n.Link != "" {
		fmt.Fprintf(&b, "Report: `%s`\n\n", n.Link)
	}
	return b.String()
}

func summaryIcon(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return ":white_check_mark:"
	case NotifyWarning:
		return ":warning:"
	case NotifyError:
		return ":x:"
	default:
		return ":information_source:"
	}
}
