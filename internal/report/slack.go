package report

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"

	"github.com/re-cinq/cwm/internal/orchestrator"
)

// SlackNotifier posts a terminal-state summary to a Slack incoming
// webhook. It is best-effort: a delivery failure never blocks the
// orchestrator shutdown path, it is only logged by the caller.
type SlackNotifier struct {
	webhookURL string
	timeout    time.Duration
}

// NewSlackNotifier builds a notifier for the given incoming webhook URL.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL, timeout: 10 * time.Second}
}

// Notify posts a one-line summary naming the final stop reason, plus an
// attachment with iteration, fix and issue counts.
func (n *SlackNotifier) Notify(rep orchestrator.FinalReport) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	emoji := ":white_check_mark:"
	if !rep.Success {
		emoji = ":rotating_light:"
	}

	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("%s CI Watchdog stopped: %s", emoji, rep.StopReason),
		Attachments: []slack.Attachment{
			{
				Color: attachmentColor(rep.Success),
				Fields: []slack.AttachmentField{
					{Title: "Iterations", Value: fmt.Sprintf("%d", len(rep.Iterations)), Short: true},
					{Title: "Fixes applied", Value: fmt.Sprintf("%d", rep.FixesApplied), Short: true},
					{Title: "Total issues", Value: fmt.Sprintf("%d", rep.TotalIssues), Short: true},
				},
			},
		},
	}
	return slack.PostWebhookContext(ctx, n.webhookURL, msg)
}

func attachmentColor(success bool) string {
	if success {
		return "good"
	}
	return "danger"
}
