// Package sweeper is the background janitor. On a cron schedule it marks
// idle conversation threads stale and expires overdue approvals, then
// reports what changed through the notify registry.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/notify"
	"github.com/wardenhq/warden/internal/store"
)

// Report is what one sweep changed.
type Report struct {
	StaleThreads     int
	ExpiredApprovals int64
}

func (r Report) empty() bool {
	return r.StaleThreads == 0 && r.ExpiredApprovals == 0
}

// Sweeper runs housekeeping passes over the store. The clock is a field
// so tests can pin time; production uses time.Now.
type Sweeper struct {
	store      *store.Store
	notify     *notify.Registry
	schedule   cron.Schedule
	staleAfter time.Duration
	now        func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New parses the schedule and cutoffs. The registry may be nil when no
// chat sink is configured; sweeps still run, reports are skipped.
func New(st *store.Store, reg *notify.Registry, cfg config.SweeperConfig) (*Sweeper, error) {
	spec := cfg.Schedule
	if spec == "" {
		spec = config.DefaultSweeperSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sweeper schedule %q: %w", spec, err)
	}

	staleAfter, err := config.DurationOrDefault(cfg.ThreadStaleAfter, config.DefaultThreadStaleAfter)
	if err != nil {
		return nil, fmt.Errorf("parse thread stale cutoff: %w", err)
	}

	return &Sweeper{
		store:      st,
		notify:     reg,
		schedule:   schedule,
		staleAfter: staleAfter,
		now:        time.Now,
	}, nil
}

func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)

	slog.Info("Sweeper started", "stale_after", s.staleAfter)
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		slog.Info("Sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	for {
		now := s.now()
		timer := time.NewTimer(s.schedule.Next(now).Sub(now))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		rep, err := s.Sweep(ctx)
		if err != nil {
			slog.Error("Sweep pass failed", "error", err)
		}
		if !rep.empty() {
			slog.Info("Sweep finished",
				"stale_threads", rep.StaleThreads, "expired_approvals", rep.ExpiredApprovals)
		}
		s.report(ctx, rep)
	}
}

// Sweep runs one housekeeping pass. The chores are independent, so one
// failing does not stop the others; failures come back joined.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	now := s.now().UTC()
	var rep Report
	var errs []error

	cutoff := now.Add(-s.staleAfter)
	threads, err := s.store.StaleActiveThreads(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("list idle threads: %w", err))
	}
	for _, t := range threads {
		if err := s.store.UpdateThreadStatus(ctx, t.ID, store.ThreadStale, now); err != nil {
			slog.Warn("Thread not marked stale", "thread", t.ID, "error", err)
			continue
		}
		slog.Debug("Thread marked stale", "thread", t.ID, "project", t.Project, "idle_since", t.UpdatedAt)
		rep.StaleThreads++
	}

	expired, err := s.store.ExpireApprovals(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("expire approvals: %w", err))
	}
	rep.ExpiredApprovals = expired

	return rep, errors.Join(errs...)
}

// report tells the chat sinks what changed. Clean sweeps stay quiet.
func (s *Sweeper) report(ctx context.Context, rep Report) {
	if rep.empty() || s.notify == nil || len(s.notify.Sinks()) == 0 {
		return
	}

	msg := notify.Message{
		Title: "Housekeeping sweep",
		Body: fmt.Sprintf("Marked %d idle thread(s) stale and expired %d approval(s).",
			rep.StaleThreads, rep.ExpiredApprovals),
	}
	if err := s.notify.Broadcast(ctx, msg); err != nil {
		slog.Warn("Sweep report not delivered", "error", err)
	}
}
