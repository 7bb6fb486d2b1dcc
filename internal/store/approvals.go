package store

import (
	"context"
	"database/sql"
	"time"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
)

func (s *Store) InsertApproval(ctx context.Context, a *Approval) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO approvals(id,project,tool,approver,requested_by,session_id,status,reason,created_at,resolved_at,expires_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Project, a.Tool, a.Approver, a.RequestedBy, nullableStr(a.SessionID),
		a.Status, nullableStr(a.Reason), formatTime(a.CreatedAt), nullableTime(a.ResolvedAt),
		formatTime(a.ExpiresAt))
	return err
}

func (s *Store) GetApproval(ctx context.Context, id string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,project,tool,approver,requested_by,COALESCE(session_id,''),status,COALESCE(reason,''),created_at,resolved_at,expires_at
FROM approvals WHERE id=?`, id)

	a, err := scanApprovalRow(row)
	if err == sql.ErrNoRows {
		return nil, wardenErrors.NotFound("approval " + id)
	}
	return a, err
}

// ResolveApproval moves a pending approval to granted or denied.
func (s *Store) ResolveApproval(ctx context.Context, id, status string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE approvals SET status=?, resolved_at=? WHERE id=? AND status=?`,
		status, formatTime(at), id, ApprovalPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wardenErrors.NotFound("pending approval " + id)
	}
	return nil
}

// ValidApproval reports whether a granted, unexpired approval exists for
// the tool and requester.
func (s *Store) ValidApproval(ctx context.Context, project, tool, requestedBy string, now time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM approvals
WHERE project=? AND tool=? AND requested_by=? AND status=? AND expires_at > ?`,
		project, tool, requestedBy, ApprovalGranted, formatTime(now)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// PendingApproval finds an existing pending request so repeated attempts
// do not pile up duplicates.
func (s *Store) PendingApproval(ctx context.Context, project, tool, requestedBy string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,project,tool,approver,requested_by,COALESCE(session_id,''),status,COALESCE(reason,''),created_at,resolved_at,expires_at
FROM approvals WHERE project=? AND tool=? AND requested_by=? AND status=? ORDER BY created_at DESC LIMIT 1`,
		project, tool, requestedBy, ApprovalPending)

	a, err := scanApprovalRow(row)
	if err == sql.ErrNoRows {
		return nil, wardenErrors.NotFound("pending approval")
	}
	return a, err
}

func (s *Store) ListApprovals(ctx context.Context, project, status string, limit int) ([]*Approval, error) {
	query := `SELECT id,project,tool,approver,requested_by,COALESCE(session_id,''),status,COALESCE(reason,''),created_at,resolved_at,expires_at
FROM approvals WHERE project=?`
	args := []any{project}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []*Approval
	for rows.Next() {
		a, err := scanApprovalRow(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// ExpireApprovals marks overdue pending and granted approvals as
// expired and returns how many changed.
func (s *Store) ExpireApprovals(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE approvals SET status=?, resolved_at=?
WHERE status IN (?,?) AND expires_at <= ?`,
		ApprovalExpired, formatTime(now), ApprovalPending, ApprovalGranted, formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type approvalScanner interface {
	Scan(dest ...any) error
}

func scanApprovalRow(row approvalScanner) (*Approval, error) {
	var a Approval
	var createdAt, expiresAt string
	var resolvedAt sql.NullString
	err := row.Scan(&a.ID, &a.Project, &a.Tool, &a.Approver, &a.RequestedBy, &a.SessionID,
		&a.Status, &a.Reason, &createdAt, &resolvedAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(createdAt)
	a.ResolvedAt = scanNullTime(resolvedAt)
	a.ExpiresAt = parseTime(expiresAt)
	return &a, nil
}
