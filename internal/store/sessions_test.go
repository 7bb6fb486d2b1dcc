package store

import (
	"context"
	"errors"
	"testing"
	"time"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
)

func testSession(id, project string, startedAt time.Time) *Session {
	return &Session{
		ID:        id,
		Project:   project,
		Role:      "maintainer",
		Intent:    "governance",
		Requester: "octocat",
		Trust:     "authorized",
		Channel:   "webhook",
		Status:    SessionActive,
		StartedAt: startedAt,
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	sess := testSession("sess-1", "acme/widgets", start)
	if err := s.InsertSession(ctx, sess); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != SessionActive {
		t.Errorf("status mismatch: got %q want %q", got.Status, SessionActive)
	}
	if got.EndedAt != nil {
		t.Errorf("expected running session to have no end time")
	}

	end := start.Add(42 * time.Second)
	if err := s.FinishSession(ctx, "sess-1", SessionCompleted, "labeled the issue", "", 120, 34, end); err != nil {
		t.Fatalf("finish session: %v", err)
	}

	got, err = s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get finished session: %v", err)
	}
	if got.Status != SessionCompleted {
		t.Errorf("status mismatch: got %q want %q", got.Status, SessionCompleted)
	}
	if got.Summary != "labeled the issue" {
		t.Errorf("summary mismatch: got %q", got.Summary)
	}
	if got.InputTokens != 120 || got.OutputTokens != 34 {
		t.Errorf("token counters mismatch: got %d/%d", got.InputTokens, got.OutputTokens)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(end) {
		t.Errorf("end time mismatch: got %v want %v", got.EndedAt, end)
	}
}

func TestFinishSession_AddsTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	sess := testSession("sess-tok", "acme/widgets", start)
	sess.InputTokens = 100
	sess.OutputTokens = 10
	if err := s.InsertSession(ctx, sess); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	if err := s.FinishSession(ctx, "sess-tok", SessionCompleted, "", "", 50, 5, start.Add(time.Minute)); err != nil {
		t.Fatalf("finish session: %v", err)
	}

	got, err := s.GetSession(ctx, "sess-tok")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.InputTokens != 150 || got.OutputTokens != 15 {
		t.Errorf("expected counters to accumulate, got %d/%d", got.InputTokens, got.OutputTokens)
	}
}

func TestFinishSession_Missing(t *testing.T) {
	s := newTestStore(t)

	err := s.FinishSession(context.Background(), "no-such-session", SessionFailed, "", "boom", 0, 0, time.Now())
	if !wardenErrors.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestListSessions_FilterAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, tc := range []struct {
		id      string
		project string
	}{
		{"sess-a", "acme/widgets"},
		{"sess-b", "acme/widgets"},
		{"sess-c", "other/repo"},
	} {
		if err := s.InsertSession(ctx, testSession(tc.id, tc.project, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("insert session %s: %v", tc.id, err)
		}
	}

	sessions, err := s.ListSessions(ctx, "acme/widgets", 0)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "sess-b" {
		t.Errorf("expected newest first, got %q", sessions[0].ID)
	}

	limited, err := s.ListSessions(ctx, "", 1)
	if err != nil {
		t.Fatalf("list sessions with limit: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "sess-c" {
		t.Errorf("expected newest session only, got %v", limited)
	}
}

func TestParentSessionCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	parent := testSession("sess-parent", "acme/widgets", start)
	if err := s.InsertSession(ctx, parent); err != nil {
		t.Fatalf("insert parent: %v", err)
	}
	child := testSession("sess-child", "acme/widgets", start.Add(time.Second))
	child.ParentID = "sess-parent"
	child.Depth = 1
	if err := s.InsertSession(ctx, child); err != nil {
		t.Fatalf("insert child: %v", err)
	}

	got, err := s.GetSession(ctx, "sess-child")
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if got.ParentID != "sess-parent" || got.Depth != 1 {
		t.Errorf("parent linkage mismatch: got %q depth=%d", got.ParentID, got.Depth)
	}
}

func TestToolUses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := s.InsertSession(ctx, testSession("sess-tools", "acme/widgets", start)); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	uses := []*ToolUse{
		{SessionID: "sess-tools", Tool: "get_issue", Input: `{"number":7}`, OK: true, CreatedAt: start},
		{SessionID: "sess-tools", Tool: "record_decision", OK: true, Significant: true, CreatedAt: start.Add(time.Second)},
		{SessionID: "sess-tools", Tool: "merge_pull_request", OK: false, Error: "denied by policy", Significant: true, CreatedAt: start.Add(2 * time.Second)},
	}
	for _, u := range uses {
		if err := s.RecordToolUse(ctx, u); err != nil {
			t.Fatalf("record tool use %s: %v", u.Tool, err)
		}
		if u.ID == 0 {
			t.Errorf("expected %s to get an id", u.Tool)
		}
	}

	listed, err := s.ListToolUses(ctx, "sess-tools")
	if err != nil {
		t.Fatalf("list tool uses: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 tool uses, got %d", len(listed))
	}
	if listed[0].Tool != "get_issue" || listed[2].Tool != "merge_pull_request" {
		t.Errorf("expected invocation order to be preserved")
	}
	if !listed[2].Significant || listed[2].OK {
		t.Errorf("failed use lost its flags: %+v", listed[2])
	}

	significant, err := s.SignificantToolUses(ctx, "sess-tools")
	if err != nil {
		t.Fatalf("significant tool uses: %v", err)
	}
	if len(significant) != 1 || significant[0].Tool != "record_decision" {
		t.Errorf("expected only the successful significant use, got %v", significant)
	}
}

func TestGetSession_Missing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), "ghost")
	if !errors.Is(err, wardenErrors.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
