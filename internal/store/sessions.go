package store

import (
	"context"
	"database/sql"
	"time"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
)

const sessionColumns = `id,project,role,intent,requester,trust,channel,status,depth,
COALESCE(parent_id,''),COALESCE(summary,''),COALESCE(error,''),input_tokens,output_tokens,started_at,ended_at`

func (s *Store) InsertSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions(id,project,role,intent,requester,trust,channel,status,depth,parent_id,summary,error,input_tokens,output_tokens,started_at,ended_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.Project, sess.Role, sess.Intent, sess.Requester, sess.Trust, sess.Channel,
		sess.Status, sess.Depth, nullableStr(sess.ParentID), nullableStr(sess.Summary),
		nullableStr(sess.Error), sess.InputTokens, sess.OutputTokens,
		formatTime(sess.StartedAt), nullableTime(sess.EndedAt))
	return err
}

// FinishSession moves a session to a terminal status and stamps the end
// time. Token counters are added, not replaced.
func (s *Store) FinishSession(ctx context.Context, id, status, summary, errMsg string, usageIn, usageOut int, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions
SET status=?, summary=?, error=?, input_tokens=input_tokens+?, output_tokens=output_tokens+?, ended_at=?
WHERE id=?`,
		status, nullableStr(summary), nullableStr(errMsg), usageIn, usageOut, formatTime(endedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wardenErrors.NotFound("session " + id)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id)
	return scanSession(row)
}

func (s *Store) ListSessions(ctx context.Context, project string, limit int) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if project != "" {
		query += ` WHERE project=?`
		args = append(args, project)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) RecordToolUse(ctx context.Context, use *ToolUse) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO session_tools(session_id,tool,input,ok,error,significant,created_at)
VALUES (?,?,?,?,?,?,?)`,
		use.SessionID, use.Tool, nullableStr(use.Input), boolToInt(use.OK),
		nullableStr(use.Error), boolToInt(use.Significant), formatTime(use.CreatedAt))
	if err != nil {
		return err
	}
	use.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) ListToolUses(ctx context.Context, sessionID string) ([]*ToolUse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,session_id,tool,COALESCE(input,''),ok,COALESCE(error,''),significant,created_at
FROM session_tools WHERE session_id=? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uses []*ToolUse
	for rows.Next() {
		var u ToolUse
		var ok, significant int
		var createdAt string
		if err := rows.Scan(&u.ID, &u.SessionID, &u.Tool, &u.Input, &ok, &u.Error, &significant, &createdAt); err != nil {
			return nil, err
		}
		u.OK = ok != 0
		u.Significant = significant != 0
		u.CreatedAt = parseTime(createdAt)
		uses = append(uses, &u)
	}
	return uses, rows.Err()
}

// SignificantToolUses returns the significant tool invocations of a
// session, used by the stop hook to check decision coverage.
func (s *Store) SignificantToolUses(ctx context.Context, sessionID string) ([]*ToolUse, error) {
	uses, err := s.ListToolUses(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var significant []*ToolUse
	for _, u := range uses {
		if u.Significant && u.OK {
			significant = append(significant, u)
		}
	}
	return significant, nil
}

type sessionScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (*Session, error) {
	sess, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, wardenErrors.NotFound("session")
	}
	return sess, err
}

func scanSessionRow(row sessionScanner) (*Session, error) {
	var sess Session
	var startedAt string
	var endedAt sql.NullString
	err := row.Scan(&sess.ID, &sess.Project, &sess.Role, &sess.Intent, &sess.Requester,
		&sess.Trust, &sess.Channel, &sess.Status, &sess.Depth, &sess.ParentID,
		&sess.Summary, &sess.Error, &sess.InputTokens, &sess.OutputTokens, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	sess.StartedAt = parseTime(startedAt)
	sess.EndedAt = scanNullTime(endedAt)
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
