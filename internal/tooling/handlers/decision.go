package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/tooling"
)

type decisionSet struct {
	deps  *Deps
	scope *Scope
}

// Decision builds the decision-record tools. record_decision returns the
// assigned number in its result, which the post-call hook reads so the
// decision is not persisted twice.
func Decision(deps *Deps, scope *Scope) []tooling.Handler {
	s := &decisionSet{deps: deps, scope: scope}
	return []tooling.Handler{
		&recordDecisionTool{s},
		&searchDecisionsTool{s},
		&listDecisionsTool{s},
	}
}

type recordDecisionArgs struct {
	Title          string   `json:"title"`
	Decision       string   `json:"decision"`
	Reasoning      string   `json:"reasoning"`
	Considerations string   `json:"considerations"`
	Uncertainties  string   `json:"uncertainties"`
	Reversibility  string   `json:"reversibility"`
	WouldChangeIf  string   `json:"would_change_if"`
	Tags           []string `json:"tags"`
}

type recordDecisionTool struct{ *decisionSet }

func (t *recordDecisionTool) Name() string { return "record_decision" }

func (t *recordDecisionTool) Description() string {
	return "Record a numbered project decision. Call this after every significant action, stating what was decided and why."
}

func (t *recordDecisionTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Short imperative summary of the decision",
			},
			"decision": map[string]interface{}{
				"type":        "string",
				"description": "What was decided",
			},
			"reasoning": map[string]interface{}{
				"type":        "string",
				"description": "Why this was the right call",
			},
			"considerations": map[string]interface{}{
				"type":        "string",
				"description": "Alternatives weighed and trade-offs",
			},
			"uncertainties": map[string]interface{}{
				"type":        "string",
				"description": "What remains unknown",
			},
			"reversibility": map[string]interface{}{
				"type":        "string",
				"description": "How hard this is to undo",
			},
			"would_change_if": map[string]interface{}{
				"type":        "string",
				"description": "Conditions that would overturn the decision",
			},
			"tags": map[string]interface{}{
				"type":        "array",
				"description": "Free-form labels",
				"items":       map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"title", "decision", "reasoning"},
	}
}

func (t *recordDecisionTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args recordDecisionArgs
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Title) == "" {
		return "", fmt.Errorf("title is required")
	}
	if strings.TrimSpace(args.Decision) == "" {
		return "", fmt.Errorf("decision is required")
	}
	if strings.TrimSpace(args.Reasoning) == "" {
		return "", fmt.Errorf("reasoning is required")
	}

	d := &store.Decision{
		ID:        ulid.Make().String(),
		Project:   t.scope.projectName(),
		Title:     strings.TrimSpace(args.Title),
		Body:      decisionBody(args),
		Reasoning: strings.TrimSpace(args.Reasoning),
		SessionID: t.scope.sessionID(),
		DecidedBy: t.scope.roleName(),
		CreatedAt: t.deps.now().UTC(),
	}
	if err := t.deps.Store.InsertDecision(ctx, d); err != nil {
		return "", fmt.Errorf("record decision: %w", err)
	}

	if t.deps.Embed != nil {
		if vec, err := t.deps.Embed.Embed(ctx, d.Title+"\n\n"+d.Body); err != nil {
			slog.Warn("Decision not indexed for search", "project", d.Project, "number", d.Number, "error", err)
		} else if err := t.deps.Store.UpsertDecisionVector(ctx, d, vec); err != nil {
			slog.Warn("Decision not indexed for search", "project", d.Project, "number", d.Number, "error", err)
		}
	}

	return reply(map[string]interface{}{
		"decision_number": d.Number,
		"title":           d.Title,
	})
}

func decisionBody(args recordDecisionArgs) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(args.Decision))
	writeSection(&b, "Considerations", args.Considerations)
	writeSection(&b, "Uncertainties", args.Uncertainties)
	writeSection(&b, "Reversibility", args.Reversibility)
	writeSection(&b, "Would change if", args.WouldChangeIf)
	if len(args.Tags) > 0 {
		writeSection(&b, "Tags", strings.Join(args.Tags, ", "))
	}
	return b.String()
}

func writeSection(b *strings.Builder, heading, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.WriteString("\n\n## ")
	b.WriteString(heading)
	b.WriteString("\n\n")
	b.WriteString(text)
}

type searchDecisionsTool struct{ *decisionSet }

func (t *searchDecisionsTool) Name() string { return "search_decisions" }

func (t *searchDecisionsTool) Description() string {
	return "Search past decisions by meaning. Use before acting to find precedent that may already settle the question."
}

func (t *searchDecisionsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for, in plain language",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum hits to return (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *searchDecisionsTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("query is required")
	}
	if t.deps.Embed == nil {
		return "", fmt.Errorf("decision search is not available: no embedding model configured")
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 5
	}

	vec, err := t.deps.Embed.Embed(ctx, args.Query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	matches, err := t.deps.Store.SearchDecisionVectors(ctx, t.scope.projectName(), vec, limit)
	if err != nil {
		return "", fmt.Errorf("search decisions: %w", err)
	}

	type hit struct {
		Number     int     `json:"number"`
		Title      string  `json:"title"`
		Similarity float32 `json:"similarity"`
		Excerpt    string  `json:"excerpt,omitempty"`
	}
	hits := make([]hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, hit{
			Number:     m.Number,
			Title:      m.Title,
			Similarity: m.Similarity,
			Excerpt:    excerpt(m.Content, 280),
		})
	}
	return reply(map[string]interface{}{"matches": hits})
}

type listDecisionsTool struct{ *decisionSet }

func (t *listDecisionsTool) Name() string { return "list_decisions" }

func (t *listDecisionsTool) Description() string {
	return "List the most recent decisions for this project, newest first."
}

func (t *listDecisionsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum records to return (default 10)",
			},
		},
	}
}

func (t *listDecisionsTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Limit int `json:"limit"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}

	decisions, err := t.deps.Store.ListDecisions(ctx, t.scope.projectName(), limit)
	if err != nil {
		return "", fmt.Errorf("list decisions: %w", err)
	}

	type row struct {
		Number    int    `json:"number"`
		Title     string `json:"title"`
		DecidedBy string `json:"decided_by,omitempty"`
		CreatedAt string `json:"created_at"`
	}
	rows := make([]row, 0, len(decisions))
	for _, d := range decisions {
		rows = append(rows, row{
			Number:    d.Number,
			Title:     d.Title,
			DecidedBy: d.DecidedBy,
			CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return reply(map[string]interface{}{"decisions": rows})
}
