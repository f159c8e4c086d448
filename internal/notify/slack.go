package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	tperrors "github.com/taployalty/tapagent/internal/errors"
)

// SlackNotifier posts run results to a single operator channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

func NewSlackNotifier(botToken, channel string) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Send(ctx context.Context, n Notification) error {
	text := fmt.Sprintf("*%s* (%s)\n%s", n.Title, n.AgentName, n.Body)
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return tperrors.Wrap(err, "failed to send Slack message")
	}
	slog.Debug("Slack notification sent", "channel", s.channel, "agent_id", n.AgentID)
	return nil
}

func (s *SlackNotifier) Health(ctx context.Context) error {
	if s.client == nil {
		return tperrors.Transient("Slack client not initialized")
	}
	if _, err := s.client.AuthTestContext(ctx); err != nil {
		return tperrors.Transient("Slack connection failed")
	}
	return nil
}
