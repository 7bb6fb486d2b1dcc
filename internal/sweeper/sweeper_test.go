package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/notify"
	"github.com/wardenhq/warden/internal/store"
)

type recordingSink struct {
	name string
	got  []notify.Message
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, msg notify.Message) (string, error) {
	s.got = append(s.got, msg)
	return "ok", nil
}

func (s *recordingSink) Health(context.Context) error { return nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(config.StoreConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedThread(t *testing.T, s *store.Store, id string, updatedAt time.Time) {
	t.Helper()

	err := s.InsertThread(context.Background(), &store.Thread{
		ID:             id,
		Project:        "widgets",
		ParticipantKey: "agent:engineer|human:" + id,
		Participants:   []string{"agent:engineer", "human:" + id},
		Status:         store.ThreadActive,
		Topic:          "rollout",
		CreatedAt:      updatedAt,
		UpdatedAt:      updatedAt,
	})
	require.NoError(t, err)
}

func seedApproval(t *testing.T, s *store.Store, id string, expiresAt time.Time) {
	t.Helper()

	err := s.InsertApproval(context.Background(), &store.Approval{
		ID:          id,
		Project:     "widgets",
		Tool:        "merge_pr",
		Approver:    "human:lead",
		RequestedBy: "agent:engineer",
		Status:      store.ApprovalPending,
		CreatedAt:   expiresAt.Add(-72 * time.Hour),
		ExpiresAt:   expiresAt,
	})
	require.NoError(t, err)
}

func newTestSweeper(t *testing.T, s *store.Store, reg *notify.Registry, now time.Time) *Sweeper {
	t.Helper()

	sw, err := New(s, reg, config.SweeperConfig{})
	require.NoError(t, err)
	sw.now = func() time.Time { return now }
	return sw
}

func TestNewRejectsBadConfig(t *testing.T) {
	s := newTestStore(t)

	_, err := New(s, nil, config.SweeperConfig{Schedule: "every hour"})
	require.Error(t, err)

	_, err = New(s, nil, config.SweeperConfig{ThreadStaleAfter: "one week"})
	require.Error(t, err)
}

func TestSweepMarksIdleThreadsStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	seedThread(t, s, "th-idle", now.Add(-200*time.Hour))
	seedThread(t, s, "th-busy", now.Add(-time.Hour))

	sw := newTestSweeper(t, s, nil, now)
	rep, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.StaleThreads)

	idle, err := s.GetThread(ctx, "th-idle")
	require.NoError(t, err)
	assert.Equal(t, store.ThreadStale, idle.Status)

	busy, err := s.GetThread(ctx, "th-busy")
	require.NoError(t, err)
	assert.Equal(t, store.ThreadActive, busy.Status)
}

func TestSweepExpiresOverdueApprovals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	seedApproval(t, s, "ap-overdue", now.Add(-time.Minute))
	seedApproval(t, s, "ap-live", now.Add(48*time.Hour))

	sw := newTestSweeper(t, s, nil, now)
	rep, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.ExpiredApprovals)

	overdue, err := s.GetApproval(ctx, "ap-overdue")
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalExpired, overdue.Status)

	live, err := s.GetApproval(ctx, "ap-live")
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalPending, live.Status)
}

func TestSweepIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	seedThread(t, s, "th-idle", now.Add(-200*time.Hour))
	seedApproval(t, s, "ap-overdue", now.Add(-time.Minute))

	sw := newTestSweeper(t, s, nil, now)
	_, err := sw.Sweep(ctx)
	require.NoError(t, err)

	again, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.StaleThreads)
	assert.Zero(t, again.ExpiredApprovals)
}

func TestReportBroadcastsOnlyWhenSomethingChanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	sink := &recordingSink{name: "slack"}
	reg := notify.NewRegistry()
	require.NoError(t, reg.Register(sink))

	sw := newTestSweeper(t, s, reg, now)

	rep, err := sw.Sweep(ctx)
	require.NoError(t, err)
	require.True(t, rep.empty())
	sw.report(ctx, rep)
	assert.Empty(t, sink.got, "a clean sweep is not worth a message")

	seedThread(t, s, "th-idle", now.Add(-200*time.Hour))
	rep, err = sw.Sweep(ctx)
	require.NoError(t, err)
	sw.report(ctx, rep)

	require.Len(t, sink.got, 1)
	assert.Equal(t, "Housekeeping sweep", sink.got[0].Title)
	assert.Contains(t, sink.got[0].Body, "1 idle thread(s)")
}

func TestStartStop(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	sw := newTestSweeper(t, s, nil, now)
	require.NoError(t, sw.Start())
	require.NoError(t, sw.Start(), "second start is a no-op")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sw.Stop(ctx))
	require.NoError(t, sw.Stop(ctx), "second stop is a no-op")
}
