package notify

import (
	"context"

	"github.com/slack-go/slack"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
)

type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// SlackSink posts notifications to one channel.
type SlackSink struct {
	api     slackAPI
	channel string
}

func NewSlackSink(token, channel string) *SlackSink {
	return &SlackSink{api: slack.New(token), channel: channel}
}

func (s *SlackSink) Name() string { return SinkSlack }

func (s *SlackSink) Send(ctx context.Context, msg Message) (string, error) {
	text := msg.Title
	if msg.Body != "" {
		text += "\n" + msg.Body
	}
	channel, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return "", wardenErrors.Wrap(err, "post slack message")
	}
	return "slack:" + channel, nil
}

func (s *SlackSink) Health(ctx context.Context) error {
	if s.api == nil {
		return wardenErrors.Transient("slack client not initialized")
	}
	if _, err := s.api.AuthTestContext(ctx); err != nil {
		return wardenErrors.Transient("slack connection failed: " + err.Error())
	}
	return nil
}
