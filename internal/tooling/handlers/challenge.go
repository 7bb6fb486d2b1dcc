package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/tooling"
)

type challengeSet struct {
	deps  *Deps
	scope *Scope
}

// Challenge builds the tools for appealing recorded decisions.
func Challenge(deps *Deps, scope *Scope) []tooling.Handler {
	s := &challengeSet{deps: deps, scope: scope}
	return []tooling.Handler{
		&openChallengeTool{s},
		&resolveChallengeTool{s},
		&listChallengesTool{s},
	}
}

type openChallengeTool struct{ *challengeSet }

func (t *openChallengeTool) Name() string { return "open_challenge" }

func (t *openChallengeTool) Description() string {
	return "Open a challenge against a recorded decision when new evidence or reasoning puts it in doubt."
}

func (t *openChallengeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"decision_number": map[string]interface{}{
				"type":        "integer",
				"description": "Number of the decision being challenged",
			},
			"grounds": map[string]interface{}{
				"type":        "string",
				"description": "Why the decision should be revisited",
			},
		},
		"required": []string{"decision_number", "grounds"},
	}
}

func (t *openChallengeTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		DecisionNumber int    `json:"decision_number"`
		Grounds        string `json:"grounds"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if args.DecisionNumber <= 0 {
		return "", fmt.Errorf("decision_number is required")
	}
	if strings.TrimSpace(args.Grounds) == "" {
		return "", fmt.Errorf("grounds is required")
	}

	project := t.scope.projectName()
	if _, err := t.deps.Store.GetDecision(ctx, project, args.DecisionNumber); err != nil {
		if wardenErrors.IsNotFound(err) {
			return "", fmt.Errorf("decision #%d does not exist for %s", args.DecisionNumber, project)
		}
		return "", fmt.Errorf("look up decision: %w", err)
	}

	c := &store.Challenge{
		ID:             ulid.Make().String(),
		Project:        project,
		DecisionNumber: args.DecisionNumber,
		Grounds:        strings.TrimSpace(args.Grounds),
		RaisedBy:       t.scope.actor(),
		Status:         store.ChallengeOpen,
		OpenedAt:       t.deps.now().UTC(),
	}
	if err := t.deps.Store.InsertChallenge(ctx, c); err != nil {
		return "", fmt.Errorf("open challenge: %w", err)
	}

	return reply(map[string]interface{}{
		"challenge_id":    c.ID,
		"decision_number": c.DecisionNumber,
		"status":          c.Status,
	})
}

type resolveChallengeTool struct{ *challengeSet }

func (t *resolveChallengeTool) Name() string { return "resolve_challenge" }

func (t *resolveChallengeTool) Description() string {
	return "Resolve an open challenge by upholding or overturning the challenged decision."
}

func (t *resolveChallengeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"challenge_id": map[string]interface{}{
				"type":        "string",
				"description": "ID of the open challenge",
			},
			"outcome": map[string]interface{}{
				"type":        "string",
				"description": "Verdict on the decision",
				"enum":        []string{"upheld", "overturned"},
			},
			"resolution": map[string]interface{}{
				"type":        "string",
				"description": "Why the verdict went this way",
			},
		},
		"required": []string{"challenge_id", "outcome", "resolution"},
	}
}

func (t *resolveChallengeTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		ChallengeID string `json:"challenge_id"`
		Outcome     string `json:"outcome"`
		Resolution  string `json:"resolution"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.ChallengeID) == "" {
		return "", fmt.Errorf("challenge_id is required")
	}
	if strings.TrimSpace(args.Resolution) == "" {
		return "", fmt.Errorf("resolution is required")
	}

	err := t.deps.Store.ResolveChallenge(ctx, args.ChallengeID, args.Outcome, strings.TrimSpace(args.Resolution), t.deps.now().UTC())
	if err != nil {
		return "", fmt.Errorf("resolve challenge: %w", err)
	}

	return reply(map[string]interface{}{
		"challenge_id": args.ChallengeID,
		"outcome":      args.Outcome,
	})
}

type listChallengesTool struct{ *challengeSet }

func (t *listChallengesTool) Name() string { return "list_challenges" }

func (t *listChallengesTool) Description() string {
	return "List challenges for this project, newest first."
}

func (t *listChallengesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"status": map[string]interface{}{
				"type":        "string",
				"description": "Filter by status",
				"enum":        []string{"open", "upheld", "overturned"},
			},
		},
	}
}

func (t *listChallengesTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Status string `json:"status"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}

	challenges, err := t.deps.Store.ListChallenges(ctx, t.scope.projectName(), args.Status, 20)
	if err != nil {
		return "", fmt.Errorf("list challenges: %w", err)
	}

	type row struct {
		ID             string `json:"challenge_id"`
		DecisionNumber int    `json:"decision_number"`
		Status         string `json:"status"`
		RaisedBy       string `json:"raised_by"`
		Grounds        string `json:"grounds"`
		Resolution     string `json:"resolution,omitempty"`
		OpenedAt       string `json:"opened_at"`
	}
	rows := make([]row, 0, len(challenges))
	for _, c := range challenges {
		rows = append(rows, row{
			ID:             c.ID,
			DecisionNumber: c.DecisionNumber,
			Status:         c.Status,
			RaisedBy:       c.RaisedBy,
			Grounds:        excerpt(c.Grounds, 200),
			Resolution:     excerpt(c.Resolution, 200),
			OpenedAt:       c.OpenedAt.UTC().Format(time.RFC3339),
		})
	}
	return reply(map[string]interface{}{"challenges": rows})
}
