package store

import (
	"context"
	"database/sql"
	"time"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
)

// UpsertWikiDraft creates or refreshes a draft keyed by (project, slug).
// Published pages are not overwritten by new drafts.
func (s *Store) UpsertWikiDraft(ctx context.Context, d *WikiDraft) error {
	existing, err := s.GetWikiDraft(ctx, d.Project, d.Slug)
	if err != nil && !wardenErrors.IsNotFound(err) {
		return err
	}
	if existing != nil && existing.Status == WikiPublishedStatus {
		return wardenErrors.Wrap(wardenErrors.ErrConflict, "page already published: "+d.Slug)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO wiki_drafts(id,project,slug,title,content,status,author,created_at,updated_at,published_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(project,slug) DO UPDATE SET title=excluded.title, content=excluded.content, author=excluded.author, updated_at=excluded.updated_at`,
		d.ID, d.Project, d.Slug, d.Title, d.Content, d.Status, nullableStr(d.Author),
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt), nullableTime(d.PublishedAt))
	return err
}

func (s *Store) GetWikiDraft(ctx context.Context, project, slug string) (*WikiDraft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,project,slug,title,content,status,COALESCE(author,''),created_at,updated_at,published_at
FROM wiki_drafts WHERE project=? AND slug=?`, project, slug)

	var d WikiDraft
	var createdAt, updatedAt string
	var publishedAt sql.NullString
	err := row.Scan(&d.ID, &d.Project, &d.Slug, &d.Title, &d.Content, &d.Status, &d.Author, &createdAt, &updatedAt, &publishedAt)
	if err == sql.ErrNoRows {
		return nil, wardenErrors.NotFound("wiki page " + slug)
	}
	if err != nil {
		return nil, err
	}
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	d.PublishedAt = scanNullTime(publishedAt)
	return &d, nil
}

func (s *Store) PublishWikiDraft(ctx context.Context, project, slug string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE wiki_drafts SET status=?, published_at=?, updated_at=? WHERE project=? AND slug=? AND status=?`,
		WikiPublishedStatus, formatTime(at), formatTime(at), project, slug, WikiDraftStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wardenErrors.NotFound("unpublished draft " + slug)
	}
	return nil
}

func (s *Store) ListWikiDrafts(ctx context.Context, project, status string, limit int) ([]*WikiDraft, error) {
	query := `SELECT id,project,slug,title,content,status,COALESCE(author,''),created_at,updated_at,published_at
FROM wiki_drafts WHERE project=?`
	args := []any{project}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []*WikiDraft
	for rows.Next() {
		var d WikiDraft
		var createdAt, updatedAt string
		var publishedAt sql.NullString
		if err := rows.Scan(&d.ID, &d.Project, &d.Slug, &d.Title, &d.Content, &d.Status, &d.Author, &createdAt, &updatedAt, &publishedAt); err != nil {
			return nil, err
		}
		d.CreatedAt = parseTime(createdAt)
		d.UpdatedAt = parseTime(updatedAt)
		d.PublishedAt = scanNullTime(publishedAt)
		drafts = append(drafts, &d)
	}
	return drafts, rows.Err()
}
