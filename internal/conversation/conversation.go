// Package conversation manages persistent threads between roles, humans
// and external parties. A thread is addressed by its participant set
// regardless of order; at most one active thread exists per set, so two
// parties picking up a topic again land in the same transcript until
// someone resolves it.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/store"
)

const (
	TypeRole     = "role"
	TypeHuman    = "human"
	TypeExternal = "external"
)

// Participant identifies one party in a thread.
type Participant struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func Role(name string) Participant  { return Participant{Type: TypeRole, ID: name} }
func Human(name string) Participant { return Participant{Type: TypeHuman, ID: name} }

func (p Participant) String() string { return p.Type + ":" + p.ID }

func (p Participant) validate() error {
	switch p.Type {
	case TypeRole, TypeHuman, TypeExternal:
	default:
		return wardenErrors.InvalidInput("participant type must be role, human or external, got " + p.Type)
	}
	if strings.TrimSpace(p.ID) == "" {
		return wardenErrors.InvalidInput("participant id is empty")
	}
	if strings.Contains(p.ID, "|") {
		return wardenErrors.InvalidInput("participant id must not contain |")
	}
	return nil
}

// ParseParticipant reads the type:id form stored on thread rows.
func ParseParticipant(s string) (Participant, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok {
		return Participant{}, wardenErrors.InvalidInput("participant " + s + " is not in type:id form")
	}
	p := Participant{Type: typ, ID: id}
	if err := p.validate(); err != nil {
		return Participant{}, err
	}
	return p, nil
}

// Key folds a participant set into its order-independent lookup key.
// Duplicates collapse, so {a,b,a} and {b,a} address the same thread.
func Key(participants []Participant) string {
	seen := make(map[string]struct{}, len(participants))
	parts := make([]string, 0, len(participants))
	for _, p := range participants {
		s := p.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		parts = append(parts, s)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// Manager runs thread lifecycle over the store.
type Manager struct {
	store *store.Store

	// Now is the clock for thread and message stamps. Tests swap it.
	Now func() time.Time
}

func NewManager(st *store.Store) *Manager {
	return &Manager{store: st, Now: time.Now}
}

// FindOrCreate returns the active thread for the participant set,
// creating one when none exists. The second return reports whether this
// call created the thread. A create racing another writer loses to the
// partial unique index and re-reads the winner.
func (m *Manager) FindOrCreate(ctx context.Context, project string, participants []Participant, topic string) (*store.Thread, bool, error) {
	if len(participants) < 2 {
		return nil, false, wardenErrors.InvalidInput("a thread needs at least two participants")
	}
	for _, p := range participants {
		if err := p.validate(); err != nil {
			return nil, false, err
		}
	}

	key := Key(participants)
	existing, err := m.store.ActiveThread(ctx, project, key)
	if err == nil {
		return existing, false, nil
	}
	if !wardenErrors.IsNotFound(err) {
		return nil, false, fmt.Errorf("look up thread: %w", err)
	}

	now := m.Now().UTC()
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		names = append(names, p.String())
	}
	thread := &store.Thread{
		ID:             ulid.Make().String(),
		Project:        project,
		ParticipantKey: key,
		Participants:   names,
		Status:         store.ThreadActive,
		Topic:          strings.TrimSpace(topic),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = m.store.InsertThread(ctx, thread)
	if err == nil {
		slog.Info("Thread opened", "project", project, "thread", thread.ID, "participants", key)
		return thread, true, nil
	}
	if errors.Is(err, wardenErrors.ErrConflict) {
		winner, rerr := m.store.ActiveThread(ctx, project, key)
		if rerr != nil {
			return nil, false, fmt.Errorf("re-read thread after conflict: %w", rerr)
		}
		return winner, false, nil
	}
	return nil, false, fmt.Errorf("open thread: %w", err)
}

// Append adds a message from sender. Only active threads accept
// messages.
func (m *Manager) Append(ctx context.Context, threadID string, sender Participant, body string) (*store.ThreadMessage, error) {
	if err := sender.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, wardenErrors.InvalidInput("message body is empty")
	}

	thread, err := m.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Status != store.ThreadActive {
		return nil, fmt.Errorf("thread %s is %s, messages only land on active threads: %w",
			threadID, thread.Status, wardenErrors.ErrConflict)
	}

	msg := &store.ThreadMessage{
		ThreadID:  threadID,
		Sender:    sender.String(),
		Body:      body,
		CreatedAt: m.Now().UTC(),
	}
	if err := m.store.AppendThreadMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// Resolve closes an active thread with its resolution text. The
// participant set becomes addressable again for a fresh thread.
func (m *Manager) Resolve(ctx context.Context, threadID, resolution string) error {
	if err := m.store.ResolveThread(ctx, threadID, strings.TrimSpace(resolution), m.Now().UTC()); err != nil {
		return err
	}
	slog.Info("Thread resolved", "thread", threadID)
	return nil
}

// Get returns a thread with its transcript, oldest message first.
func (m *Manager) Get(ctx context.Context, threadID string) (*store.Thread, []*store.ThreadMessage, error) {
	thread, err := m.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	messages, err := m.store.ListThreadMessages(ctx, threadID, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("list messages: %w", err)
	}
	return thread, messages, nil
}

// List returns threads for a project, optionally filtered by status.
func (m *Manager) List(ctx context.Context, project, status string, limit int) ([]*store.Thread, error) {
	return m.store.ListThreads(ctx, project, status, limit)
}

// OpenFor returns the active threads a participant is part of, most
// recently touched first.
func (m *Manager) OpenFor(ctx context.Context, project string, p Participant) ([]*store.Thread, error) {
	threads, err := m.store.ListThreads(ctx, project, store.ThreadActive, 0)
	if err != nil {
		return nil, err
	}
	name := p.String()
	var involved []*store.Thread
	for _, t := range threads {
		for _, member := range t.Participants {
			if member == name {
				involved = append(involved, t)
				break
			}
		}
	}
	return involved, nil
}

// Transcript renders the last messages of a thread as context for a
// model prompt.
func (m *Manager) Transcript(ctx context.Context, threadID string, limit int) (string, error) {
	messages, err := m.store.ListThreadMessages(ctx, threadID, limit)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(msg.Sender)
		b.WriteString(": ")
		b.WriteString(msg.Body)
		b.WriteString("\n")
	}
	return b.String(), nil
}
