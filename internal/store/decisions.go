package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
)

// decisionNumberRetries bounds the insert-retry loop when two writers
// race for the same per-project number.
const decisionNumberRetries = 5

// InsertDecision assigns the next sequential number for the project and
// persists the record. The UNIQUE(project, number) constraint turns a
// numbering race into a retry, so numbers are never skipped or reused.
func (s *Store) InsertDecision(ctx context.Context, d *Decision) error {
	for attempt := 0; attempt < decisionNumberRetries; attempt++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(number),0)+1 FROM decisions WHERE project=?`, d.Project).Scan(&next); err != nil {
			tx.Rollback()
			return err
		}

		d.Number = next
		_, err = tx.ExecContext(ctx, `INSERT INTO decisions(id,project,number,title,body,reasoning,session_id,decided_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
			d.ID, d.Project, d.Number, d.Title, d.Body, nullableStr(d.Reasoning),
			nullableStr(d.SessionID), nullableStr(d.DecidedBy), formatTime(d.CreatedAt))
		if err != nil {
			tx.Rollback()
			if isUniqueViolation(err) {
				continue
			}
			return err
		}

		return tx.Commit()
	}

	return fmt.Errorf("decision numbering contended for project %s: %w", d.Project, wardenErrors.ErrConflict)
}

func (s *Store) GetDecision(ctx context.Context, project string, number int) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,project,number,title,body,COALESCE(reasoning,''),COALESCE(session_id,''),COALESCE(decided_by,''),created_at
FROM decisions WHERE project=? AND number=?`, project, number)

	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, wardenErrors.NotFound(fmt.Sprintf("decision %s#%d", project, number))
	}
	return d, err
}

func (s *Store) ListDecisions(ctx context.Context, project string, limit int) ([]*Decision, error) {
	query := `SELECT id,project,number,title,body,COALESCE(reasoning,''),COALESCE(session_id,''),COALESCE(decided_by,''),created_at
FROM decisions WHERE project=? ORDER BY number DESC`
	args := []any{project}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*Decision
	for rows.Next() {
		var d Decision
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Project, &d.Number, &d.Title, &d.Body, &d.Reasoning, &d.SessionID, &d.DecidedBy, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt = parseTime(createdAt)
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}

// DecisionsBySession lists decisions recorded during one session.
func (s *Store) DecisionsBySession(ctx context.Context, sessionID string) ([]*Decision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,project,number,title,body,COALESCE(reasoning,''),COALESCE(session_id,''),COALESCE(decided_by,''),created_at
FROM decisions WHERE session_id=? ORDER BY number ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*Decision
	for rows.Next() {
		var d Decision
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Project, &d.Number, &d.Title, &d.Body, &d.Reasoning, &d.SessionID, &d.DecidedBy, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt = parseTime(createdAt)
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}

func scanDecision(row *sql.Row) (*Decision, error) {
	var d Decision
	var createdAt string
	err := row.Scan(&d.ID, &d.Project, &d.Number, &d.Title, &d.Body, &d.Reasoning, &d.SessionID, &d.DecidedBy, &createdAt)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
