package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/forge"
	"github.com/wardenhq/warden/internal/tooling"
)

type forgeSet struct {
	deps  *Deps
	scope *Scope
}

// ForgeOps builds the tools that act on the project's repository through
// the forge client. Which of these a role may call, and which count as
// significant, is decided by policy, not here.
func ForgeOps(deps *Deps, scope *Scope) []tooling.Handler {
	s := &forgeSet{deps: deps, scope: scope}
	return []tooling.Handler{
		&createIssueTool{s},
		&commentIssueTool{s},
		&addLabelsTool{s},
		&getIssueTool{s},
	}
}

func (s *forgeSet) ownerRepo() (string, string, error) {
	if s.scope == nil || s.scope.Project == nil {
		return "", "", fmt.Errorf("no project is bound to this invocation")
	}
	owner, repo := s.scope.Project.OwnerRepo()
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("project repo %q is not in owner/repo form", s.scope.Project.Repo)
	}
	return owner, repo, nil
}

type createIssueTool struct{ *forgeSet }

func (t *createIssueTool) Name() string { return "create_issue" }

func (t *createIssueTool) Description() string {
	return "Open a new issue on the project repository."
}

func (t *createIssueTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Issue title",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Issue body in Markdown",
			},
			"labels": map[string]interface{}{
				"type":        "array",
				"description": "Labels to apply on creation",
				"items":       map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"title", "body"},
	}
}

func (t *createIssueTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Title  string   `json:"title"`
		Body   string   `json:"body"`
		Labels []string `json:"labels"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Title) == "" {
		return "", fmt.Errorf("title is required")
	}
	owner, repo, err := t.ownerRepo()
	if err != nil {
		return "", err
	}

	issue, err := t.deps.Forge.CreateIssue(ctx, owner, repo, forge.NewIssue{
		Title:  strings.TrimSpace(args.Title),
		Body:   args.Body,
		Labels: args.Labels,
	})
	if err != nil {
		return "", fmt.Errorf("create issue: %w", err)
	}

	return reply(map[string]interface{}{
		"number": issue.Number,
		"url":    issue.URL,
	})
}

type commentIssueTool struct{ *forgeSet }

func (t *commentIssueTool) Name() string { return "comment_issue" }

func (t *commentIssueTool) Description() string {
	return "Post a comment on an issue or pull request."
}

func (t *commentIssueTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"number": map[string]interface{}{
				"type":        "integer",
				"description": "Issue or pull request number",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Comment body in Markdown",
			},
		},
		"required": []string{"number", "body"},
	}
}

func (t *commentIssueTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Number int    `json:"number"`
		Body   string `json:"body"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if args.Number <= 0 {
		return "", fmt.Errorf("number is required")
	}
	if strings.TrimSpace(args.Body) == "" {
		return "", fmt.Errorf("body is required")
	}
	owner, repo, err := t.ownerRepo()
	if err != nil {
		return "", err
	}

	comment, err := t.deps.Forge.Comment(ctx, owner, repo, args.Number, args.Body)
	if err != nil {
		return "", fmt.Errorf("comment on #%d: %w", args.Number, err)
	}

	return reply(map[string]interface{}{
		"comment_id": comment.ID,
		"url":        comment.URL,
	})
}

type addLabelsTool struct{ *forgeSet }

func (t *addLabelsTool) Name() string { return "add_labels" }

func (t *addLabelsTool) Description() string {
	return "Add labels to an issue or pull request."
}

func (t *addLabelsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"number": map[string]interface{}{
				"type":        "integer",
				"description": "Issue or pull request number",
			},
			"labels": map[string]interface{}{
				"type":        "array",
				"description": "Labels to add",
				"items":       map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"number", "labels"},
	}
}

func (t *addLabelsTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Number int      `json:"number"`
		Labels []string `json:"labels"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if args.Number <= 0 {
		return "", fmt.Errorf("number is required")
	}
	if len(args.Labels) == 0 {
		return "", fmt.Errorf("labels is required")
	}
	owner, repo, err := t.ownerRepo()
	if err != nil {
		return "", err
	}

	if err := t.deps.Forge.AddLabels(ctx, owner, repo, args.Number, args.Labels); err != nil {
		return "", fmt.Errorf("add labels to #%d: %w", args.Number, err)
	}

	return reply(map[string]interface{}{
		"number": args.Number,
		"labels": args.Labels,
	})
}

type getIssueTool struct{ *forgeSet }

func (t *getIssueTool) Name() string { return "get_issue" }

func (t *getIssueTool) Description() string {
	return "Fetch an issue or pull request with its current state and labels."
}

func (t *getIssueTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"number": map[string]interface{}{
				"type":        "integer",
				"description": "Issue or pull request number",
			},
		},
		"required": []string{"number"},
	}
}

func (t *getIssueTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Number int `json:"number"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if args.Number <= 0 {
		return "", fmt.Errorf("number is required")
	}
	owner, repo, err := t.ownerRepo()
	if err != nil {
		return "", err
	}

	issue, err := t.deps.Forge.GetIssue(ctx, owner, repo, args.Number)
	if err != nil {
		return "", fmt.Errorf("get issue #%d: %w", args.Number, err)
	}

	return reply(map[string]interface{}{
		"number":     issue.Number,
		"title":      issue.Title,
		"body":       issue.Body,
		"state":      issue.State,
		"author":     issue.Author,
		"labels":     issue.Labels,
		"url":        issue.URL,
		"created_at": issue.CreatedAt.UTC().Format(time.RFC3339),
	})
}
