package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wardenhq/warden/internal/policy"
	"github.com/wardenhq/warden/internal/tooling"
)

type introspectSet struct {
	deps  *Deps
	scope *Scope
}

// Introspect builds the tools an agent uses to inspect its own session,
// the audit trail and recent invocations.
func Introspect(deps *Deps, scope *Scope) []tooling.Handler {
	s := &introspectSet{deps: deps, scope: scope}
	return []tooling.Handler{
		&sessionStatusTool{s},
		&recentAuditTool{s},
		&listSessionsTool{s},
	}
}

type sessionStatusTool struct{ *introspectSet }

func (t *sessionStatusTool) Name() string { return "session_status" }

func (t *sessionStatusTool) Description() string {
	return "Show the current session: every tool call so far and the decisions recorded. Check this before finishing."
}

func (t *sessionStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *sessionStatusTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	sess := t.scope.Session
	if sess == nil {
		return "", fmt.Errorf("no session is bound to this invocation")
	}

	uses, err := t.deps.Store.ListToolUses(ctx, sess.ID)
	if err != nil {
		return "", fmt.Errorf("list tool calls: %w", err)
	}
	decisions, err := t.deps.Store.DecisionsBySession(ctx, sess.ID)
	if err != nil {
		return "", fmt.Errorf("list decisions: %w", err)
	}

	type call struct {
		Tool        string `json:"tool"`
		OK          bool   `json:"ok"`
		Significant bool   `json:"significant,omitempty"`
		Error       string `json:"error,omitempty"`
	}
	calls := make([]call, 0, len(uses))
	for _, u := range uses {
		calls = append(calls, call{
			Tool:        u.Tool,
			OK:          u.OK,
			Significant: u.Significant,
			Error:       excerpt(u.Error, 200),
		})
	}

	type rec struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
	}
	recs := make([]rec, 0, len(decisions))
	for _, d := range decisions {
		recs = append(recs, rec{Number: d.Number, Title: d.Title})
	}

	return reply(map[string]interface{}{
		"session": map[string]interface{}{
			"id":         sess.ID,
			"project":    sess.Project,
			"role":       sess.Role,
			"intent":     sess.Intent,
			"requester":  sess.Requester,
			"status":     sess.Status,
			"started_at": sess.StartedAt.UTC().Format(time.RFC3339),
		},
		"tool_calls": calls,
		"decisions":  recs,
	})
}

type recentAuditTool struct{ *introspectSet }

func (t *recentAuditTool) Name() string { return "recent_audit" }

func (t *recentAuditTool) Description() string {
	return "Show the most recent audit entries for this project across all sessions."
}

func (t *recentAuditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum entries to return (default 20)",
			},
		},
	}
}

func (t *recentAuditTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Limit int `json:"limit"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if t.deps.Audit == nil {
		return "", fmt.Errorf("no audit trail is configured")
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}

	entries, err := t.deps.Audit.Query(ctx, &policy.AuditFilter{
		Project: t.scope.projectName(),
		Limit:   limit,
	})
	if err != nil {
		return "", fmt.Errorf("read audit trail: %w", err)
	}

	type row struct {
		Time   string `json:"time"`
		Action string `json:"action"`
		Status string `json:"status"`
		Tool   string `json:"tool,omitempty"`
		Role   string `json:"role,omitempty"`
		Detail string `json:"detail,omitempty"`
	}
	rows := make([]row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, row{
			Time:   e.Time.UTC().Format(time.RFC3339),
			Action: e.Action,
			Status: e.Status,
			Tool:   e.Tool,
			Role:   e.Role,
			Detail: excerpt(e.Detail, 200),
		})
	}
	return reply(map[string]interface{}{"entries": rows})
}

type listSessionsTool struct{ *introspectSet }

func (t *listSessionsTool) Name() string { return "list_sessions" }

func (t *listSessionsTool) Description() string {
	return "List recent agent sessions for this project, newest first."
}

func (t *listSessionsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"status": map[string]interface{}{
				"type":        "string",
				"description": "Filter by status",
				"enum":        []string{"active", "completed", "failed", "blocked"},
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum sessions to return (default 10)",
			},
		},
	}
}

func (t *listSessionsTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Status string `json:"status"`
		Limit  int    `json:"limit"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}

	// The store has no status filter, so fetch a wider window and
	// filter here when one is requested.
	fetch := limit
	if args.Status != "" {
		fetch = 100
	}
	sessions, err := t.deps.Store.ListSessions(ctx, t.scope.projectName(), fetch)
	if err != nil {
		return "", fmt.Errorf("list sessions: %w", err)
	}

	type row struct {
		ID        string `json:"id"`
		Role      string `json:"role"`
		Intent    string `json:"intent"`
		Requester string `json:"requester"`
		Status    string `json:"status"`
		StartedAt string `json:"started_at"`
	}
	rows := make([]row, 0, limit)
	for _, s := range sessions {
		if args.Status != "" && s.Status != args.Status {
			continue
		}
		rows = append(rows, row{
			ID:        s.ID,
			Role:      s.Role,
			Intent:    excerpt(s.Intent, 120),
			Requester: s.Requester,
			Status:    s.Status,
			StartedAt: s.StartedAt.UTC().Format(time.RFC3339),
		})
		if len(rows) == limit {
			break
		}
	}
	return reply(map[string]interface{}{"sessions": rows})
}
