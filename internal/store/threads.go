package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
)

// InsertThread persists a new thread. When another writer already holds
// the active slot for the same participant set, the partial unique index
// rejects the insert and ErrConflict is returned; callers re-read.
func (s *Store) InsertThread(ctx context.Context, t *Thread) error {
	participants, err := json.Marshal(t.Participants)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO threads(id,project,participant_key,participants,status,topic,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.Project, t.ParticipantKey, string(participants), t.Status,
		nullableStr(t.Topic), formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return wardenErrors.Wrap(wardenErrors.ErrConflict, "active thread already exists")
		}
		return err
	}
	return nil
}

// ActiveThread returns the single active thread for a participant set,
// or a not-found error.
func (s *Store) ActiveThread(ctx context.Context, project, participantKey string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,project,participant_key,participants,status,COALESCE(topic,''),COALESCE(resolution,''),created_at,updated_at
FROM threads WHERE project=? AND participant_key=? AND status=?`, project, participantKey, ThreadActive)

	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, wardenErrors.NotFound("active thread")
	}
	return t, err
}

func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,project,participant_key,participants,status,COALESCE(topic,''),COALESCE(resolution,''),created_at,updated_at
FROM threads WHERE id=?`, id)

	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, wardenErrors.NotFound("thread " + id)
	}
	return t, err
}

func (s *Store) ListThreads(ctx context.Context, project, status string, limit int) ([]*Thread, error) {
	query := `SELECT id,project,participant_key,participants,status,COALESCE(topic,''),COALESCE(resolution,''),created_at,updated_at
FROM threads WHERE project=?`
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

	var threads []*Thread
	for rows.Next() {
		t, err := scanThreadRow(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// ResolveThread closes an active thread with its resolution text.
func (s *Store) ResolveThread(ctx context.Context, id, resolution string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET status=?, resolution=?, updated_at=? WHERE id=? AND status=?`,
		ThreadResolved, nullableStr(resolution), formatTime(at), id, ThreadActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wardenErrors.NotFound("active thread " + id)
	}
	return nil
}

func (s *Store) UpdateThreadStatus(ctx context.Context, id, status string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET status=?, updated_at=? WHERE id=?`,
		status, formatTime(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wardenErrors.NotFound("thread " + id)
	}
	return nil
}

// StaleActiveThreads returns active threads untouched since the cutoff.
func (s *Store) StaleActiveThreads(ctx context.Context, before time.Time) ([]*Thread, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,project,participant_key,participants,status,COALESCE(topic,''),COALESCE(resolution,''),created_at,updated_at
FROM threads WHERE status=? AND updated_at < ?`, ThreadActive, formatTime(before))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		t, err := scanThreadRow(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// AppendThreadMessage stores a message and touches the thread.
func (s *Store) AppendThreadMessage(ctx context.Context, msg *ThreadMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO thread_messages(thread_id,sender,body,created_at) VALUES (?,?,?,?)`,
		msg.ThreadID, msg.Sender, msg.Body, formatTime(msg.CreatedAt))
	if err != nil {
		return err
	}
	msg.ID, _ = res.LastInsertId()

	if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at=? WHERE id=?`,
		formatTime(msg.CreatedAt), msg.ThreadID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ListThreadMessages(ctx context.Context, threadID string, limit int) ([]*ThreadMessage, error) {
	query := `SELECT id,thread_id,sender,body,created_at FROM thread_messages WHERE thread_id=? ORDER BY id ASC`
	args := []any{threadID}
	if limit > 0 {
		// Keep the most recent messages when trimming.
		query = `SELECT id,thread_id,sender,body,created_at FROM (
SELECT id,thread_id,sender,body,created_at FROM thread_messages WHERE thread_id=? ORDER BY id DESC LIMIT ?
) ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*ThreadMessage
	for rows.Next() {
		var m ThreadMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Sender, &m.Body, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

type threadScanner interface {
	Scan(dest ...any) error
}

func scanThread(row *sql.Row) (*Thread, error) {
	return scanThreadRow(row)
}

func scanThreadRow(row threadScanner) (*Thread, error) {
	var t Thread
	var participants, createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.Project, &t.ParticipantKey, &participants, &t.Status, &t.Topic, &t.Resolution, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participants), &t.Participants); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}
