package alerting

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// SlackNotifier posts events to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
}

// Notify implements Notifier.
func (s *SlackNotifier) Notify(ctx context.Context, ev Event) error {
	msg := &slackapi.WebhookMessage{
		Text: ev.Message(),
	}
	if err := slackapi.PostWebhookContext(ctx, s.WebhookURL, msg); err != nil {
		return fmt.Errorf("alerting: slack webhook: %w", err)
	}
	return nil
}
