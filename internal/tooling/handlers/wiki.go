package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/tooling"
)

// Slugs become file names under the export directory, so they are kept
// to a single flat path segment.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

type wikiSet struct {
	deps  *Deps
	scope *Scope
}

// Wiki builds the knowledge-page tools. Drafts live in the store and are
// mirrored to disk so humans can review them before publication.
func Wiki(deps *Deps, scope *Scope) []tooling.Handler {
	s := &wikiSet{deps: deps, scope: scope}
	return []tooling.Handler{
		&draftWikiPageTool{s},
		&publishWikiPageTool{s},
		&listWikiDraftsTool{s},
	}
}

type draftWikiPageTool struct{ *wikiSet }

func (t *draftWikiPageTool) Name() string { return "draft_wiki_page" }

func (t *draftWikiPageTool) Description() string {
	return "Create or update a draft knowledge page. Drafting the same slug again replaces the draft content."
}

func (t *draftWikiPageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"slug": map[string]interface{}{
				"type":        "string",
				"description": "Page identifier, lowercase letters, digits and hyphens",
			},
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Page title",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Page content in Markdown",
			},
		},
		"required": []string{"slug", "title", "body"},
	}
}

func (t *draftWikiPageTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Slug  string `json:"slug"`
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if !slugPattern.MatchString(args.Slug) {
		return "", fmt.Errorf("slug must be lowercase letters, digits and hyphens, got %q", args.Slug)
	}
	if strings.TrimSpace(args.Title) == "" {
		return "", fmt.Errorf("title is required")
	}
	if strings.TrimSpace(args.Body) == "" {
		return "", fmt.Errorf("body is required")
	}

	now := t.deps.now().UTC()
	draft := &store.WikiDraft{
		ID:        ulid.Make().String(),
		Project:   t.scope.projectName(),
		Slug:      args.Slug,
		Title:     strings.TrimSpace(args.Title),
		Content:   strings.TrimSpace(args.Body),
		Status:    store.WikiDraftStatus,
		Author:    t.scope.actor(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := t.deps.Store.GetWikiDraft(ctx, draft.Project, draft.Slug); err == nil {
		draft.ID = existing.ID
		draft.CreatedAt = existing.CreatedAt
	} else if !wardenErrors.IsNotFound(err) {
		return "", fmt.Errorf("look up draft: %w", err)
	}
	if err := t.deps.Store.UpsertWikiDraft(ctx, draft); err != nil {
		return "", fmt.Errorf("save draft: %w", err)
	}

	path, err := t.export(draft)
	if err != nil {
		return "", fmt.Errorf("export draft %s: %w", draft.Slug, err)
	}

	return reply(map[string]interface{}{
		"draft_id": draft.ID,
		"slug":     draft.Slug,
		"path":     path,
	})
}

func (t *wikiSet) export(draft *store.WikiDraft) (string, error) {
	dir := store.WikiExportDir(t.deps.DataDir, draft.Project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	page := "# " + draft.Title + "\n\n" + draft.Content + "\n"
	path := filepath.Join(dir, draft.Slug+".md")
	if err := atomic.WriteFile(path, strings.NewReader(page)); err != nil {
		return "", err
	}
	return path, nil
}

type publishWikiPageTool struct{ *wikiSet }

func (t *publishWikiPageTool) Name() string { return "publish_wiki_page" }

func (t *publishWikiPageTool) Description() string {
	return "Publish a draft knowledge page. Published pages are frozen and can no longer be redrafted."
}

func (t *publishWikiPageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"draft_id": map[string]interface{}{
				"type":        "string",
				"description": "ID returned by draft_wiki_page",
			},
		},
		"required": []string{"draft_id"},
	}
}

func (t *publishWikiPageTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		DraftID string `json:"draft_id"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.DraftID) == "" {
		return "", fmt.Errorf("draft_id is required")
	}

	project := t.scope.projectName()
	drafts, err := t.deps.Store.ListWikiDrafts(ctx, project, store.WikiDraftStatus, 0)
	if err != nil {
		return "", fmt.Errorf("list drafts: %w", err)
	}
	var target *store.WikiDraft
	for _, d := range drafts {
		if d.ID == args.DraftID {
			target = d
			break
		}
	}
	if target == nil {
		return "", fmt.Errorf("no unpublished draft with id %s", args.DraftID)
	}

	if err := t.deps.Store.PublishWikiDraft(ctx, project, target.Slug, t.deps.now().UTC()); err != nil {
		return "", fmt.Errorf("publish %s: %w", target.Slug, err)
	}

	return reply(map[string]interface{}{
		"draft_id": target.ID,
		"slug":     target.Slug,
		"status":   store.WikiPublishedStatus,
	})
}

type listWikiDraftsTool struct{ *wikiSet }

func (t *listWikiDraftsTool) Name() string { return "list_wiki_drafts" }

func (t *listWikiDraftsTool) Description() string {
	return "List knowledge pages for this project, most recently updated first."
}

func (t *listWikiDraftsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"status": map[string]interface{}{
				"type":        "string",
				"description": "Filter by status",
				"enum":        []string{"draft", "published"},
			},
		},
	}
}

func (t *listWikiDraftsTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Status string `json:"status"`
	}
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}

	drafts, err := t.deps.Store.ListWikiDrafts(ctx, t.scope.projectName(), args.Status, 50)
	if err != nil {
		return "", fmt.Errorf("list wiki pages: %w", err)
	}

	type row struct {
		ID        string `json:"draft_id"`
		Slug      string `json:"slug"`
		Title     string `json:"title"`
		Status    string `json:"status"`
		Author    string `json:"author,omitempty"`
		UpdatedAt string `json:"updated_at"`
	}
	rows := make([]row, 0, len(drafts))
	for _, d := range drafts {
		rows = append(rows, row{
			ID:        d.ID,
			Slug:      d.Slug,
			Title:     d.Title,
			Status:    d.Status,
			Author:    d.Author,
			UpdatedAt: d.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return reply(map[string]interface{}{"pages": rows})
}
