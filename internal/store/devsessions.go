package store

import (
	"context"
	"database/sql"
	"time"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
)

func (s *Store) InsertDevSession(ctx context.Context, d *DevSession) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO dev_sessions(id,project,title,goal,status,assignee,opened_by,outcome,opened_at,closed_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Project, d.Title, nullableStr(d.Goal), d.Status, nullableStr(d.Assignee), d.OpenedBy,
		nullableStr(d.Outcome), formatTime(d.OpenedAt), nullableTime(d.ClosedAt))
	return err
}

func (s *Store) GetDevSession(ctx context.Context, id string) (*DevSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,project,title,COALESCE(goal,''),status,COALESCE(assignee,''),opened_by,COALESCE(outcome,''),opened_at,closed_at
FROM dev_sessions WHERE id=?`, id)

	var d DevSession
	var openedAt string
	var closedAt sql.NullString
	err := row.Scan(&d.ID, &d.Project, &d.Title, &d.Goal, &d.Status, &d.Assignee, &d.OpenedBy, &d.Outcome, &openedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, wardenErrors.NotFound("dev session " + id)
	}
	if err != nil {
		return nil, err
	}
	d.OpenedAt = parseTime(openedAt)
	d.ClosedAt = scanNullTime(closedAt)
	return &d, nil
}

// CloseDevSession moves an open dev session to completed or abandoned.
// Already-closed sessions are not reopened or relabeled.
func (s *Store) CloseDevSession(ctx context.Context, id, status, outcome string, at time.Time) error {
	if status != DevSessionCompleted && status != DevSessionAbandoned {
		return wardenErrors.InvalidInput("dev session close status must be completed or abandoned, got " + status)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE dev_sessions SET status=?, outcome=?, closed_at=? WHERE id=? AND status=?`,
		status, outcome, formatTime(at), id, DevSessionOpen)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wardenErrors.NotFound("open dev session " + id)
	}
	return nil
}

func (s *Store) ListDevSessions(ctx context.Context, project, status string, limit int) ([]*DevSession, error) {
	query := `SELECT id,project,title,COALESCE(goal,''),status,COALESCE(assignee,''),opened_by,COALESCE(outcome,''),opened_at,closed_at
FROM dev_sessions WHERE project=?`
	args := []any{project}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY opened_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*DevSession
	for rows.Next() {
		var d DevSession
		var openedAt string
		var closedAt sql.NullString
		if err := rows.Scan(&d.ID, &d.Project, &d.Title, &d.Goal, &d.Status, &d.Assignee, &d.OpenedBy, &d.Outcome, &openedAt, &closedAt); err != nil {
			return nil, err
		}
		d.OpenedAt = parseTime(openedAt)
		d.ClosedAt = scanNullTime(closedAt)
		sessions = append(sessions, &d)
	}
	return sessions, rows.Err()
}
