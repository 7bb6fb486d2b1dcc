package store

import (
	"context"
	"errors"
	"testing"
	"time"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
)

func testDraft(id, slug string, at time.Time) *WikiDraft {
	return &WikiDraft{
		ID:        id,
		Project:   "acme/widgets",
		Slug:      slug,
		Title:     "Release process",
		Content:   "Cut a tag, wait for CI, publish.",
		Status:    WikiDraftStatus,
		Author:    "agent:maintainer",
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestUpsertWikiDraft_UpdatesContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC)

	if err := s.UpsertWikiDraft(ctx, testDraft("wiki-1", "release-process", at)); err != nil {
		t.Fatalf("create draft: %v", err)
	}

	revised := testDraft("wiki-1b", "release-process", at)
	revised.Content = "Cut a tag, wait for CI, publish, announce."
	revised.UpdatedAt = at.Add(time.Hour)
	if err := s.UpsertWikiDraft(ctx, revised); err != nil {
		t.Fatalf("revise draft: %v", err)
	}

	got, err := s.GetWikiDraft(ctx, "acme/widgets", "release-process")
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if got.ID != "wiki-1" {
		t.Errorf("revision must keep the original id, got %q", got.ID)
	}
	if got.Content != revised.Content {
		t.Errorf("content mismatch: got %q", got.Content)
	}
	if !got.UpdatedAt.Equal(revised.UpdatedAt) {
		t.Errorf("updated_at mismatch: got %v", got.UpdatedAt)
	}
}

func TestPublishWikiDraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC)

	if err := s.UpsertWikiDraft(ctx, testDraft("wiki-pub", "release-process", at)); err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if err := s.PublishWikiDraft(ctx, "acme/widgets", "release-process", at.Add(time.Hour)); err != nil {
		t.Fatalf("publish draft: %v", err)
	}

	got, err := s.GetWikiDraft(ctx, "acme/widgets", "release-process")
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if got.Status != WikiPublishedStatus {
		t.Errorf("status mismatch: got %q", got.Status)
	}
	if got.PublishedAt == nil {
		t.Error("expected published_at to be set")
	}

	// Publishing twice targets nothing.
	err = s.PublishWikiDraft(ctx, "acme/widgets", "release-process", at.Add(2*time.Hour))
	if !wardenErrors.IsNotFound(err) {
		t.Fatalf("expected not-found on re-publish, got %v", err)
	}

	// Published pages reject new drafts under the same slug.
	err = s.UpsertWikiDraft(ctx, testDraft("wiki-clash", "release-process", at.Add(3*time.Hour)))
	if !errors.Is(err, wardenErrors.ErrConflict) {
		t.Fatalf("expected conflict for published page, got %v", err)
	}
}

func TestListWikiDrafts_StatusFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC)

	if err := s.UpsertWikiDraft(ctx, testDraft("wiki-a", "onboarding", at)); err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if err := s.UpsertWikiDraft(ctx, testDraft("wiki-b", "triage-guide", at.Add(time.Minute))); err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if err := s.PublishWikiDraft(ctx, "acme/widgets", "onboarding", at.Add(time.Hour)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	drafts, err := s.ListWikiDrafts(ctx, "acme/widgets", WikiDraftStatus, 0)
	if err != nil {
		t.Fatalf("list drafts: %v", err)
	}
	if len(drafts) != 1 || drafts[0].Slug != "triage-guide" {
		t.Errorf("expected only triage-guide, got %v", drafts)
	}
}
