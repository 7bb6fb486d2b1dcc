package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestAuditor(t *testing.T, redact []string) *Auditor {
	t.Helper()
	return NewAuditor(filepath.Join(t.TempDir(), "audit.log"), redact)
}

func TestAuditorAppendsAndQueries(t *testing.T) {
	aud := newTestAuditor(t, nil)
	ctx := context.Background()

	if err := aud.Log(ctx, &AuditEntry{
		Project: "widgets",
		Tool:    "get_issue",
		Action:  ActionPreToolUse,
		Status:  StatusAllowed,
		Input:   json.RawMessage(`{"number":7}`),
	}); err != nil {
		t.Fatalf("first Log failed: %v", err)
	}
	if err := aud.Log(ctx, &AuditEntry{
		Project: "widgets",
		Tool:    "merge_pull_request",
		Action:  ActionPreToolUse,
		Status:  StatusDenied,
		Detail:  "tool merge_pull_request is not allowed for role reception",
	}); err != nil {
		t.Fatalf("second Log failed: %v", err)
	}

	entries, err := aud.Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Time.IsZero() {
		t.Fatal("expected Log to stamp the entry time")
	}

	denied, err := aud.Query(ctx, &AuditFilter{Status: StatusDenied})
	if err != nil {
		t.Fatalf("filtered Query failed: %v", err)
	}
	if len(denied) != 1 || denied[0].Tool != "merge_pull_request" {
		t.Fatalf("expected the one denied entry, got %+v", denied)
	}
}

func TestAuditorRedactsByPattern(t *testing.T) {
	aud := newTestAuditor(t, []string{`ghp_[A-Za-z0-9]+`})
	ctx := context.Background()

	if err := aud.Log(ctx, &AuditEntry{
		Project: "widgets",
		Tool:    "create_issue",
		Action:  ActionPreToolUse,
		Status:  StatusAllowed,
		Input:   json.RawMessage(`{"body":"token ghp_abc123 leaked"}`),
	}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	entries, err := aud.Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := string(entries[0].Input)
	if strings.Contains(got, "ghp_abc123") {
		t.Fatalf("secret survived redaction: %s", got)
	}
	if !strings.Contains(got, "[REDACTED]") {
		t.Fatalf("expected [REDACTED] marker, got %s", got)
	}
}

func TestAuditorRedactsLiterallyOnBadPattern(t *testing.T) {
	aud := newTestAuditor(t, []string{`s3cr3t(`})
	ctx := context.Background()

	if err := aud.Log(ctx, &AuditEntry{
		Project: "widgets",
		Action:  ActionPreToolUse,
		Status:  StatusAllowed,
		Input:   json.RawMessage(`{"note":"the s3cr3t( value"}`),
	}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	entries, err := aud.Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if !strings.Contains(string(entries[0].Input), "[REDACTED]") {
		t.Fatalf("literal fallback did not redact: %s", entries[0].Input)
	}
}

func TestAuditorKeepsLineValidWhenRedactionEatsQuotes(t *testing.T) {
	// The pattern swallows the quotes around the value, which would leave
	// broken JSON inside the entry.
	aud := newTestAuditor(t, []string{`"token":"[a-z0-9]+"`})
	ctx := context.Background()

	if err := aud.Log(ctx, &AuditEntry{
		Project: "widgets",
		Action:  ActionPreToolUse,
		Status:  StatusAllowed,
		Input:   json.RawMessage(`{"token":"abc123"}`),
	}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	entries, err := aud.Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the redacted entry to stay readable, got %d entries", len(entries))
	}
	if strings.Contains(string(entries[0].Input), "abc123") {
		t.Fatalf("secret survived redaction: %s", entries[0].Input)
	}
}

func TestAuditorSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	aud := NewAuditor(path, nil)
	ctx := context.Background()

	if err := aud.Log(ctx, &AuditEntry{Project: "widgets", Action: ActionStop, Status: StatusPassed}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()
	if err := aud.Log(ctx, &AuditEntry{Project: "widgets", Action: ActionStop, Status: StatusPassed}); err != nil {
		t.Fatalf("Log after garbage failed: %v", err)
	}

	entries, err := aud.Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 parseable entries, got %d", len(entries))
	}
}

func TestAuditorQueryLimitKeepsNewest(t *testing.T) {
	aud := newTestAuditor(t, nil)
	ctx := context.Background()

	for i, tool := range []string{"one", "two", "three"} {
		err := aud.Log(ctx, &AuditEntry{
			Time:    time.Date(2026, 3, 1, 10, i, 0, 0, time.UTC),
			Project: "widgets",
			Tool:    tool,
			Action:  ActionPreToolUse,
			Status:  StatusAllowed,
		})
		if err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	entries, err := aud.Query(ctx, &AuditFilter{Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Tool != "two" || entries[1].Tool != "three" {
		t.Fatalf("expected the two newest entries, got %+v", entries)
	}
}

func TestAuditorMissingFileIsEmpty(t *testing.T) {
	aud := NewAuditor(filepath.Join(t.TempDir(), "never-written.log"), nil)

	entries, err := aud.Query(context.Background(), nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestCountSince(t *testing.T) {
	aud := newTestAuditor(t, nil)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	log := func(at time.Time, requester, status string) {
		t.Helper()
		err := aud.Log(ctx, &AuditEntry{
			Time:      at,
			Project:   "widgets",
			Requester: requester,
			Tool:      "comment_issue",
			Action:    ActionPreToolUse,
			Status:    status,
		})
		if err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	log(base.Add(-2*time.Hour), "octocat", StatusAllowed) // outside the window
	log(base.Add(-30*time.Minute), "octocat", StatusAllowed)
	log(base.Add(-10*time.Minute), "octocat", StatusAllowed)
	log(base.Add(-5*time.Minute), "octocat", StatusDenied)  // denied attempts do not count
	log(base.Add(-5*time.Minute), "hubber", StatusAllowed)  // other requester
	if err := aud.Log(ctx, &AuditEntry{ // other action
		Time: base.Add(-5 * time.Minute), Project: "widgets", Requester: "octocat",
		Tool: "comment_issue", Action: ActionPostToolUse, Status: StatusCompleted,
	}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	n, err := aud.CountSince(ctx, "widgets", "comment_issue", "octocat", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 counted calls, got %d", n)
	}
}
