package notify

import (
	"context"
	"fmt"
	"strings"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/forge"
)

// ForgeSink opens tracked issues on one repository. The send tool
// builds one per invocation for the project it acts on.
type ForgeSink struct {
	forge  forge.Forge
	owner  string
	repo   string
	labels []string
}

// NewForgeSink binds the sink to an owner/repo. Every issue it opens
// carries the given labels on top of the message's own.
func NewForgeSink(f forge.Forge, repo string, labels []string) (*ForgeSink, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, wardenErrors.InvalidInput("forge sink repo must be owner/repo, got " + repo)
	}
	return &ForgeSink{forge: f, owner: owner, repo: name, labels: labels}, nil
}

func (s *ForgeSink) Name() string { return SinkForge }

func (s *ForgeSink) Send(ctx context.Context, msg Message) (string, error) {
	issue, err := s.Issue(ctx, msg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s#%d", s.owner, s.repo, issue.Number), nil
}

// Issue opens the tracked issue and returns it, for callers that need
// the number rather than a reference string.
func (s *ForgeSink) Issue(ctx context.Context, msg Message) (*forge.Issue, error) {
	if strings.TrimSpace(msg.Title) == "" {
		return nil, wardenErrors.InvalidInput("message title is empty")
	}
	issue, err := s.forge.CreateIssue(ctx, s.owner, s.repo, forge.NewIssue{
		Title:  msg.Title,
		Body:   msg.Body,
		Labels: append(append([]string{}, s.labels...), msg.Labels...),
	})
	if err != nil {
		return nil, wardenErrors.Wrap(err, "create tracked issue")
	}
	return issue, nil
}

func (s *ForgeSink) Health(ctx context.Context) error {
	if s.forge == nil {
		return wardenErrors.Transient("forge client not initialized")
	}
	if _, err := s.forge.Permission(ctx, s.owner, s.repo, "warden-health-probe"); err != nil {
		return wardenErrors.Transient("forge unreachable: " + err.Error())
	}
	return nil
}
