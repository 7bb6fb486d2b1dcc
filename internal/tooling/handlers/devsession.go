package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/tooling"
)

type devSessionSet struct {
	deps  *Deps
	scope *Scope
}

// DevSession builds the tools that track units of development work from
// kickoff to outcome.
func DevSession(deps *Deps, scope *Scope) []tooling.Handler {
	s := &devSessionSet{deps: deps, scope: scope}
	return []tooling.Handler{
		&openDevSessionTool{s},
		&completeDevSessionTool{s},
		&listDevSessionsTool{s},
	}
}

type openDevSessionTool struct{ *devSessionSet }

func (t *openDevSessionTool) Name() string { return "open_dev_session" }

func (t *openDevSessionTool) Description() string {
	return "Open a development session assigning a unit of work to a role."
}

func (t *openDevSessionTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Short name for the work",
			},
			"brief": map[string]interface{}{
				"type":        "string",
				"description": "What the work should accomplish",
			},
			"assignee_role": map[string]interface{}{
				"type":        "string",
				"description": "Project role responsible for the work",
			},
		},
		"required": []string{"title", "brief", "assignee_role"},
	}
}

func (t *openDevSessionTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Title        string `json:"title"`
		Brief        string `json:"brief"`
		AssigneeRole string `json:"assignee_role"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Title) == "" {
		return "", fmt.Errorf("title is required")
	}
	if strings.TrimSpace(args.Brief) == "" {
		return "", fmt.Errorf("brief is required")
	}
	assignee := strings.TrimSpace(args.AssigneeRole)
	if assignee == "" {
		return "", fmt.Errorf("assignee_role is required")
	}
	if t.scope.Project != nil && t.scope.Project.Role(assignee) == nil {
		return "", fmt.Errorf("role %s is not defined for project %s", assignee, t.scope.projectName())
	}

	d := &store.DevSession{
		ID:       ulid.Make().String(),
		Project:  t.scope.projectName(),
		Title:    strings.TrimSpace(args.Title),
		Goal:     strings.TrimSpace(args.Brief),
		Status:   store.DevSessionOpen,
		Assignee: assignee,
		OpenedBy: t.scope.actor(),
		OpenedAt: t.deps.now().UTC(),
	}
	if err := t.deps.Store.InsertDevSession(ctx, d); err != nil {
		return "", fmt.Errorf("open dev session: %w", err)
	}

	return reply(map[string]interface{}{
		"dev_session_id": d.ID,
		"status":         d.Status,
		"assignee":       d.Assignee,
	})
}

type completeDevSessionTool struct{ *devSessionSet }

func (t *completeDevSessionTool) Name() string { return "complete_dev_session" }

func (t *completeDevSessionTool) Description() string {
	return "Close an open development session with a summary of what was done, or mark it abandoned."
}

func (t *completeDevSessionTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"dev_session_id": map[string]interface{}{
				"type":        "string",
				"description": "ID returned by open_dev_session",
			},
			"summary": map[string]interface{}{
				"type":        "string",
				"description": "Outcome of the work, or why it stops",
			},
			"resolution": map[string]interface{}{
				"type":        "string",
				"description": "completed (default) or abandoned",
				"enum":        []string{"completed", "abandoned"},
			},
		},
		"required": []string{"dev_session_id", "summary"},
	}
}

func (t *completeDevSessionTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		DevSessionID string `json:"dev_session_id"`
		Summary      string `json:"summary"`
		Resolution   string `json:"resolution"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.DevSessionID) == "" {
		return "", fmt.Errorf("dev_session_id is required")
	}
	if strings.TrimSpace(args.Summary) == "" {
		return "", fmt.Errorf("summary is required")
	}

	status := store.DevSessionCompleted
	if strings.TrimSpace(args.Resolution) != "" {
		status = strings.TrimSpace(args.Resolution)
	}

	err := t.deps.Store.CloseDevSession(ctx, args.DevSessionID, status, strings.TrimSpace(args.Summary), t.deps.now().UTC())
	if err != nil {
		return "", fmt.Errorf("close dev session: %w", err)
	}

	return reply(map[string]interface{}{
		"dev_session_id": args.DevSessionID,
		"status":         status,
	})
}

type listDevSessionsTool struct{ *devSessionSet }

func (t *listDevSessionsTool) Name() string { return "list_dev_sessions" }

func (t *listDevSessionsTool) Description() string {
	return "List development sessions for this project, newest first."
}

func (t *listDevSessionsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"status": map[string]interface{}{
				"type":        "string",
				"description": "Filter by status",
				"enum":        []string{"open", "completed", "abandoned"},
			},
		},
	}
}

func (t *listDevSessionsTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Status string `json:"status"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}

	sessions, err := t.deps.Store.ListDevSessions(ctx, t.scope.projectName(), args.Status, 20)
	if err != nil {
		return "", fmt.Errorf("list dev sessions: %w", err)
	}

	type row struct {
		ID       string `json:"dev_session_id"`
		Title    string `json:"title"`
		Status   string `json:"status"`
		Assignee string `json:"assignee,omitempty"`
		OpenedBy string `json:"opened_by"`
		Outcome  string `json:"outcome,omitempty"`
		OpenedAt string `json:"opened_at"`
	}
	rows := make([]row, 0, len(sessions))
	for _, d := range sessions {
		rows = append(rows, row{
			ID:       d.ID,
			Title:    d.Title,
			Status:   d.Status,
			Assignee: d.Assignee,
			OpenedBy: d.OpenedBy,
			Outcome:  excerpt(d.Outcome, 200),
			OpenedAt: d.OpenedAt.UTC().Format(time.RFC3339),
		})
	}
	return reply(map[string]interface{}{"dev_sessions": rows})
}
