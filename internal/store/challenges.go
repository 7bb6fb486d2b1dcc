package store

import (
	"context"
	"database/sql"
	"time"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
)

func (s *Store) InsertChallenge(ctx context.Context, c *Challenge) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO challenges(id,project,decision_number,grounds,raised_by,status,resolution,opened_at,resolved_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Project, c.DecisionNumber, c.Grounds, c.RaisedBy, c.Status,
		nullableStr(c.Resolution), formatTime(c.OpenedAt), nullableTime(c.ResolvedAt))
	return err
}

func (s *Store) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,project,decision_number,grounds,raised_by,status,COALESCE(resolution,''),opened_at,resolved_at
FROM challenges WHERE id=?`, id)

	c, err := scanChallenge(row)
	if err == sql.ErrNoRows {
		return nil, wardenErrors.NotFound("challenge " + id)
	}
	return c, err
}

// ResolveChallenge closes an open challenge. The outcome is either
// ChallengeUpheld or ChallengeOverturned.
func (s *Store) ResolveChallenge(ctx context.Context, id, outcome, resolution string, at time.Time) error {
	if outcome != ChallengeUpheld && outcome != ChallengeOverturned {
		return wardenErrors.InvalidInput("challenge outcome must be upheld or overturned, got " + outcome)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE challenges SET status=?, resolution=?, resolved_at=? WHERE id=? AND status=?`,
		outcome, resolution, formatTime(at), id, ChallengeOpen)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wardenErrors.NotFound("open challenge " + id)
	}
	return nil
}

func (s *Store) ListChallenges(ctx context.Context, project, status string, limit int) ([]*Challenge, error) {
	query := `SELECT id,project,decision_number,grounds,raised_by,status,COALESCE(resolution,''),opened_at,resolved_at
FROM challenges WHERE project=?`
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

	var challenges []*Challenge
	for rows.Next() {
		var c Challenge
		var openedAt string
		var resolvedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.Project, &c.DecisionNumber, &c.Grounds, &c.RaisedBy, &c.Status, &c.Resolution, &openedAt, &resolvedAt); err != nil {
			return nil, err
		}
		c.OpenedAt = parseTime(openedAt)
		c.ResolvedAt = scanNullTime(resolvedAt)
		challenges = append(challenges, &c)
	}
	return challenges, rows.Err()
}

func scanChallenge(row *sql.Row) (*Challenge, error) {
	var c Challenge
	var openedAt string
	var resolvedAt sql.NullString
	err := row.Scan(&c.ID, &c.Project, &c.DecisionNumber, &c.Grounds, &c.RaisedBy, &c.Status, &c.Resolution, &openedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	c.OpenedAt = parseTime(openedAt)
	c.ResolvedAt = scanNullTime(resolvedAt)
	return &c, nil
}
