package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/forge"
)

type stubSink struct {
	name      string
	ref       string
	sendErr   error
	healthErr error
	got       []Message
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Send(_ context.Context, msg Message) (string, error) {
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.got = append(s.got, msg)
	return s.ref, nil
}

func (s *stubSink) Health(context.Context) error { return s.healthErr }

func TestRegistryRegisterGuards(t *testing.T) {
	r := NewRegistry()

	require.Error(t, r.Register(nil))
	require.Error(t, r.Register(&stubSink{name: ""}))

	require.NoError(t, r.Register(&stubSink{name: "slack"}))
	err := r.Register(&stubSink{name: "slack"})
	require.ErrorIs(t, err, wardenErrors.ErrConflict)

	assert.ElementsMatch(t, []string{"slack"}, r.Sinks())
}

func TestRegistrySendRoutesByName(t *testing.T) {
	r := NewRegistry()
	sink := &stubSink{name: "slack", ref: "slack:C123"}
	require.NoError(t, r.Register(sink))

	ref, err := r.Send(context.Background(), "slack", Message{Title: "Stale threads", Body: "3 marked"})
	require.NoError(t, err)
	assert.Equal(t, "slack:C123", ref)
	require.Len(t, sink.got, 1)
	assert.Equal(t, "Stale threads", sink.got[0].Title)

	_, err = r.Send(context.Background(), "telegram", Message{Title: "x"})
	require.True(t, wardenErrors.IsNotFound(err))
}

func TestRegistryBroadcastReachesHealthySinks(t *testing.T) {
	r := NewRegistry()
	ok := &stubSink{name: "slack", ref: "slack:C123"}
	bad := &stubSink{name: "telegram", sendErr: fmt.Errorf("chat unreachable")}
	require.NoError(t, r.Register(ok))
	require.NoError(t, r.Register(bad))

	err := r.Broadcast(context.Background(), Message{Title: "Sweep report"})
	require.ErrorContains(t, err, "chat unreachable")
	require.Len(t, ok.got, 1, "failure of one sink must not starve the others")
}

func TestRegistryHealth(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Health(context.Background()), "empty registry is healthy")

	require.NoError(t, r.Register(&stubSink{name: "slack"}))
	require.NoError(t, r.Register(&stubSink{name: "telegram", healthErr: fmt.Errorf("down")}))

	err := r.Health(context.Background())
	require.ErrorContains(t, err, "telegram")
	assert.True(t, wardenErrors.IsRetryable(err))
}

type issueForge struct {
	next    int
	created []forge.NewIssue
	err     error
}

func (f *issueForge) Permission(context.Context, string, string, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return forge.PermissionNone, nil
}

func (f *issueForge) CreateIssue(_ context.Context, _, _ string, issue forge.NewIssue) (*forge.Issue, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.next++
	f.created = append(f.created, issue)
	return &forge.Issue{Number: f.next, Title: issue.Title, CreatedAt: time.Now()}, nil
}

func (f *issueForge) Comment(context.Context, string, string, int, string) (*forge.Comment, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *issueForge) AddLabels(context.Context, string, string, int, []string) error {
	return fmt.Errorf("not implemented")
}

func (f *issueForge) GetIssue(context.Context, string, string, int) (*forge.Issue, error) {
	return nil, fmt.Errorf("not implemented")
}

func TestForgeSinkOpensTrackedIssue(t *testing.T) {
	f := &issueForge{}
	sink, err := NewForgeSink(f, "acme/widgets", []string{"warden"})
	require.NoError(t, err)

	ref, err := sink.Send(context.Background(), Message{
		Title:  "Message for release-manager",
		Body:   "The exporter is ready to ship.",
		Labels: []string{"handoff"},
	})
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets#1", ref)

	require.Len(t, f.created, 1)
	assert.Equal(t, []string{"warden", "handoff"}, f.created[0].Labels)
}

func TestForgeSinkRejectsBareRepo(t *testing.T) {
	_, err := NewForgeSink(&issueForge{}, "widgets", nil)
	require.ErrorContains(t, err, "owner/repo")
}

func TestForgeSinkRequiresTitle(t *testing.T) {
	sink, err := NewForgeSink(&issueForge{}, "acme/widgets", nil)
	require.NoError(t, err)

	_, err = sink.Send(context.Background(), Message{Body: "no title"})
	require.ErrorContains(t, err, "title is empty")
}

type fakeSlack struct {
	channel string
	err     error
	calls   int
}

func (f *fakeSlack) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	f.calls++
	f.channel = channelID
	return channelID, "1714550400.000100", nil
}

func (f *fakeSlack) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &slack.AuthTestResponse{}, nil
}

func TestSlackSinkPostsToChannel(t *testing.T) {
	api := &fakeSlack{}
	sink := &SlackSink{api: api, channel: "C042WARD"}

	ref, err := sink.Send(context.Background(), Message{Title: "Sweep report", Body: "2 approvals expired"})
	require.NoError(t, err)
	assert.Equal(t, "slack:C042WARD", ref)
	assert.Equal(t, 1, api.calls)
	require.NoError(t, sink.Health(context.Background()))
}

func TestSlackSinkHealthFailure(t *testing.T) {
	sink := &SlackSink{api: &fakeSlack{err: fmt.Errorf("invalid_auth")}, channel: "C1"}
	err := sink.Health(context.Background())
	require.Error(t, err)
	assert.True(t, wardenErrors.IsRetryable(err))
}

type fakeTelegram struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeTelegram) GetMe() (tgbotapi.User, error) {
	if f.err != nil {
		return tgbotapi.User{}, f.err
	}
	return tgbotapi.User{UserName: "warden_bot"}, nil
}

func TestTelegramSinkMessagesChat(t *testing.T) {
	api := &fakeTelegram{}
	sink := &TelegramSink{api: api, chatID: -100123}

	ref, err := sink.Send(context.Background(), Message{Title: "Session blocked", Body: "missing decisions"})
	require.NoError(t, err)
	assert.Equal(t, "telegram:-100123", ref)

	require.Len(t, api.sent, 1)
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.EqualValues(t, -100123, msg.ChatID)
	assert.Contains(t, msg.Text, "Session blocked")
	assert.Contains(t, msg.Text, "missing decisions")

	require.NoError(t, sink.Health(context.Background()))
}
