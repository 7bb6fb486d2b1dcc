package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/project"
	"github.com/wardenhq/warden/internal/request"
	"github.com/wardenhq/warden/internal/store"
)

// Check carries one pending tool call through the hook pipeline. Session is
// nil only before a session row exists.
type Check struct {
	Project *project.Project
	Role    *project.Role
	Session *store.Session
	Request *request.Request
	Tool    string
	Input   json.RawMessage
}

func (c *Check) sessionID() string {
	if c.Session == nil {
		return ""
	}
	return c.Session.ID
}

// Evaluator enforces one constraint kind. Evaluate returns nil when the call
// may proceed and an error naming the violation otherwise. An evaluator that
// cannot reach its backing state returns an error rather than guessing.
type Evaluator interface {
	Kind() project.ConstraintKind
	Evaluate(ctx context.Context, chk *Check, decl project.ConstraintDecl) error
}

// UsageCounter reports prior allowed calls. The audit trail implements it.
type UsageCounter interface {
	CountSince(ctx context.Context, project, tool, requester string, since time.Time) (int, error)
}

type trustEvaluator struct{}

func (trustEvaluator) Kind() project.ConstraintKind { return project.ConstraintTrustLevel }

func (trustEvaluator) Evaluate(_ context.Context, chk *Check, decl project.ConstraintDecl) error {
	if chk.Request.Trust < decl.MinTrust {
		return fmt.Errorf("tool %s requires %s trust, request carries %s: %w",
			chk.Tool, decl.MinTrust, chk.Request.Trust, wardenErrors.ErrPermissionDenied)
	}
	return nil
}

type rateEvaluator struct {
	counter UsageCounter
	now     func() time.Time
}

func (rateEvaluator) Kind() project.ConstraintKind { return project.ConstraintRateLimit }

func (r rateEvaluator) Evaluate(ctx context.Context, chk *Check, decl project.ConstraintDecl) error {
	since := r.now().UTC().Add(-decl.Window)
	n, err := r.counter.CountSince(ctx, chk.Project.Name, chk.Tool, chk.Request.Identity, since)
	if err != nil {
		return fmt.Errorf("count tool usage: %w", err)
	}
	if n >= decl.MaxCount {
		return fmt.Errorf("rate limit for %s reached, %d calls in %s: %w",
			chk.Tool, n, decl.Window, wardenErrors.ErrPermissionDenied)
	}
	return nil
}

type approvalEvaluator struct {
	store *store.Store
	ttl   time.Duration
	now   func() time.Time
}

func (approvalEvaluator) Kind() project.ConstraintKind { return project.ConstraintApprovalRequired }

// Evaluate passes when a granted, unexpired approval exists for this
// project, tool and requester. Otherwise it files a pending approval request
// if none is already open and reports the call as awaiting approval.
func (a approvalEvaluator) Evaluate(ctx context.Context, chk *Check, decl project.ConstraintDecl) error {
	now := a.now().UTC()

	ok, err := a.store.ValidApproval(ctx, chk.Project.Name, chk.Tool, chk.Request.Identity, now)
	if err != nil {
		return fmt.Errorf("look up approval: %w", err)
	}
	if ok {
		return nil
	}

	pending, err := a.store.PendingApproval(ctx, chk.Project.Name, chk.Tool, chk.Request.Identity)
	switch {
	case wardenErrors.IsNotFound(err):
		pending = &store.Approval{
			ID:          ulid.Make().String(),
			Project:     chk.Project.Name,
			Tool:        chk.Tool,
			Approver:    decl.Approver,
			RequestedBy: chk.Request.Identity,
			SessionID:   chk.sessionID(),
			Status:      store.ApprovalPending,
			CreatedAt:   now,
			ExpiresAt:   now.Add(a.ttl),
		}
		if err := a.store.InsertApproval(ctx, pending); err != nil {
			return fmt.Errorf("file approval request: %w", err)
		}
		slog.Info("Approval requested",
			"approval", pending.ID, "tool", chk.Tool, "approver", decl.Approver, "requested_by", chk.Request.Identity)
	case err != nil:
		return fmt.Errorf("look up pending approval: %w", err)
	}

	return fmt.Errorf("tool %s needs approval from %s, request %s is pending: %w",
		chk.Tool, decl.Approver, pending.ID, wardenErrors.ErrApprovalRequired)
}
