// Package notify fans governance events out to configured sinks: the
// forge sink opens tracked issues, the chat sinks post to Slack or
// Telegram. The daemon registers chat sinks process-wide; forge sinks
// are built per project because each project has its own repository.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
)

const (
	SinkForge    = "forge"
	SinkSlack    = "slack"
	SinkTelegram = "telegram"
)

// Message is one notification. The forge sink turns it into an issue;
// chat sinks flatten it to text.
type Message struct {
	Title  string
	Body   string
	Labels []string
}

// Sink delivers messages somewhere. Send returns a human-readable
// reference to what was created, such as an issue locator.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) (string, error)
	Health(ctx context.Context) error
}

// Registry holds named sinks.
type Registry struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]Sink)}
}

func (r *Registry) Register(s Sink) error {
	if s == nil {
		return wardenErrors.InvalidInput("sink cannot be nil")
	}
	name := s.Name()
	if name == "" {
		return wardenErrors.InvalidInput("sink name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[name]; exists {
		return wardenErrors.Wrap(wardenErrors.ErrConflict, "sink already registered: "+name)
	}
	r.sinks[name] = s
	slog.Info("Notify sink registered", "sink", name)
	return nil
}

func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[name]; !exists {
		return wardenErrors.NotFound("sink " + name)
	}
	delete(r.sinks, name)
	slog.Info("Notify sink unregistered", "sink", name)
	return nil
}

// Send delivers through one named sink.
func (r *Registry) Send(ctx context.Context, sink string, msg Message) (string, error) {
	r.mu.RLock()
	s, ok := r.sinks[sink]
	r.mu.RUnlock()
	if !ok {
		return "", wardenErrors.NotFound("sink " + sink)
	}

	ref, err := s.Send(ctx, msg)
	if err != nil {
		return "", wardenErrors.Wrap(err, "send through "+sink)
	}
	slog.Debug("Notification sent", "sink", sink, "ref", ref)
	return ref, nil
}

// Broadcast delivers to every registered sink. Failures are joined, and
// every healthy sink still receives the message.
func (r *Registry) Broadcast(ctx context.Context, msg Message) error {
	r.mu.RLock()
	sinks := make([]Sink, 0, len(r.sinks))
	for _, s := range r.sinks {
		sinks = append(sinks, s)
	}
	r.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if _, err := s.Send(ctx, msg); err != nil {
			slog.Warn("Broadcast sink failed", "sink", s.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Health checks every registered sink. An empty registry is healthy; a
// daemon without chat sinks is a valid configuration.
func (r *Registry) Health(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var unhealthy []string
	for name, s := range r.sinks {
		if err := s.Health(ctx); err != nil {
			unhealthy = append(unhealthy, name)
			slog.Warn("Notify sink unhealthy", "sink", name, "error", err)
		}
	}
	if len(unhealthy) > 0 {
		return wardenErrors.Transient(fmt.Sprintf("%d sink(s) unhealthy: %v", len(unhealthy), unhealthy))
	}
	return nil
}

// Sinks returns the registered sink names.
func (r *Registry) Sinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	return names
}
