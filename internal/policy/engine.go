// Package policy enforces role tool policy around every agent tool call.
// Three hooks wrap the invocation loop: PreToolUse gates a call before it
// runs, PostToolUse records its outcome and the decisions it implies, Stop
// settles whether the session may complete. Each hook writes the audit
// trail before answering.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wardenhq/warden/internal/config"
	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/model"
	"github.com/wardenhq/warden/internal/project"
	"github.com/wardenhq/warden/internal/store"
)

// Engine runs the policy hooks against one governance store and audit trail.
type Engine struct {
	store      *store.Store
	audit      *Auditor
	embed      model.Embedder
	strictStop bool
	evaluators map[project.ConstraintKind]Evaluator

	// Now is the clock for stamps, rate windows and approval expiry.
	Now func() time.Time
}

// NewEngine wires the hook pipeline. approvalTTL bounds how long a filed
// approval request stays actionable.
func NewEngine(st *store.Store, audit *Auditor, embed model.Embedder, cfg config.PolicyConfig, approvalTTL time.Duration) *Engine {
	e := &Engine{
		store:      st,
		audit:      audit,
		embed:      embed,
		strictStop: cfg.StrictStop,
		Now:        time.Now,
	}
	clock := func() time.Time { return e.Now() }
	e.evaluators = map[project.ConstraintKind]Evaluator{
		project.ConstraintTrustLevel:       trustEvaluator{},
		project.ConstraintRateLimit:        rateEvaluator{counter: audit, now: clock},
		project.ConstraintApprovalRequired: approvalEvaluator{store: st, ttl: approvalTTL, now: clock},
	}
	return e
}

// Audit exposes the trail for read paths such as the introspection tools.
func (e *Engine) Audit() *Auditor { return e.audit }

// PreResult is the verdict on one attempted call.
type PreResult struct {
	Allowed     bool
	Reason      string
	Significant bool
	Advisories  []string
}

// PreToolUse decides whether a call may run. The deny list wins over the
// allow list, then hard constraints run in declaration order and the first
// violation denies. Soft constraint violations never block, they come back
// as advisories. The attempt is audited either way, and a denied attempt is
// recorded on the session's tool log as a failed call.
func (e *Engine) PreToolUse(ctx context.Context, chk *Check) (*PreResult, error) {
	res := &PreResult{Significant: chk.Role.IsSignificant(chk.Tool)}

	switch {
	case chk.Role.Denies(chk.Tool):
		res.Reason = fmt.Sprintf("tool %s is denied for role %s", chk.Tool, chk.Role.Name)
	case !chk.Role.Allows(chk.Tool):
		res.Reason = fmt.Sprintf("tool %s is not allowed for role %s", chk.Tool, chk.Role.Name)
	default:
		res.Allowed = true
		for _, decl := range chk.Role.Constraints {
			ev, ok := e.evaluators[decl.Kind]
			if !ok {
				res.Allowed = false
				res.Reason = fmt.Sprintf("no evaluator for constraint %s", decl.Kind)
				break
			}
			err := ev.Evaluate(ctx, chk, decl)
			if err == nil {
				continue
			}
			if decl.Enforcement == project.EnforcementSoft {
				res.Advisories = append(res.Advisories, err.Error())
				continue
			}
			res.Allowed = false
			res.Reason = err.Error()
			break
		}
	}

	entry := &AuditEntry{
		Time:      e.Now().UTC(),
		SessionID: chk.sessionID(),
		Project:   chk.Project.Name,
		Role:      chk.Role.Name,
		Requester: chk.Request.Identity,
		Tool:      chk.Tool,
		Action:    ActionPreToolUse,
		Input:     chk.Input,
	}
	if res.Allowed {
		entry.Status = StatusAllowed
		entry.Detail = strings.Join(res.Advisories, "; ")
	} else {
		entry.Status = StatusDenied
		entry.Detail = res.Reason
	}
	if err := e.audit.Log(ctx, entry); err != nil {
		return nil, wardenErrors.Wrap(err, "audit pre_tool_use")
	}

	if !res.Allowed {
		slog.Info("Tool call denied", "tool", chk.Tool, "role", chk.Role.Name, "reason", res.Reason)
		if chk.Session != nil {
			use := &store.ToolUse{
				SessionID:   chk.Session.ID,
				Tool:        chk.Tool,
				Input:       string(chk.Input),
				OK:          false,
				Error:       res.Reason,
				Significant: res.Significant,
				CreatedAt:   e.Now().UTC(),
			}
			if err := e.store.RecordToolUse(ctx, use); err != nil {
				return nil, wardenErrors.Wrap(err, "record denied tool use")
			}
		}
	}
	return res, nil
}

// PostResult reports what the post hook recorded.
type PostResult struct {
	Decision *store.Decision
	Warnings []string
}

// decisionMeta is the structured block a tool may return to describe the
// decision it embodies. Tools that persist their own record return
// decision_number instead.
type decisionMeta struct {
	DecisionNumber int `json:"decision_number"`
	Decision       *struct {
		Title     string `json:"title"`
		Decision  string `json:"decision"`
		Reasoning string `json:"reasoning"`
	} `json:"decision"`
}

// PostToolUse records the outcome of an executed call on the session tool
// log and the audit trail. A successful significant call must leave a
// decision behind: the hook takes the tool's structured metadata when
// present and synthesizes a minimal record otherwise, then indexes it for
// semantic search.
func (e *Engine) PostToolUse(ctx context.Context, chk *Check, output string, isErr bool) (*PostResult, error) {
	res := &PostResult{}
	significant := chk.Role.IsSignificant(chk.Tool)

	if chk.Session != nil {
		use := &store.ToolUse{
			SessionID:   chk.Session.ID,
			Tool:        chk.Tool,
			Input:       string(chk.Input),
			OK:          !isErr,
			Significant: significant,
			CreatedAt:   e.Now().UTC(),
		}
		if isErr {
			use.Error = truncate(output, 500)
		}
		if err := e.store.RecordToolUse(ctx, use); err != nil {
			return nil, wardenErrors.Wrap(err, "record tool use")
		}
	}

	status := StatusCompleted
	if isErr {
		status = StatusFailed
	}
	entry := &AuditEntry{
		Time:      e.Now().UTC(),
		SessionID: chk.sessionID(),
		Project:   chk.Project.Name,
		Role:      chk.Role.Name,
		Requester: chk.Request.Identity,
		Tool:      chk.Tool,
		Action:    ActionPostToolUse,
		Status:    status,
		Input:     chk.Input,
		Output:    rawOrQuote(output),
	}
	if err := e.audit.Log(ctx, entry); err != nil {
		return nil, wardenErrors.Wrap(err, "audit post_tool_use")
	}

	if !significant || isErr {
		return res, nil
	}

	var meta decisionMeta
	_ = json.Unmarshal([]byte(output), &meta)

	if meta.DecisionNumber > 0 {
		d, err := e.store.GetDecision(ctx, chk.Project.Name, meta.DecisionNumber)
		if err != nil {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("tool reported decision #%d which could not be read: %v", meta.DecisionNumber, err))
			return res, nil
		}
		res.Decision = d
		return res, nil
	}

	d := &store.Decision{
		ID:        ulid.Make().String(),
		Project:   chk.Project.Name,
		SessionID: chk.sessionID(),
		DecidedBy: chk.Role.Name,
		CreatedAt: e.Now().UTC(),
	}
	if meta.Decision != nil && meta.Decision.Title != "" {
		d.Title = meta.Decision.Title
		d.Body = meta.Decision.Decision
		d.Reasoning = meta.Decision.Reasoning
	} else {
		d.Title = fmt.Sprintf("Executed %s", chk.Tool)
		d.Body = fmt.Sprintf("Significant call to %s with input %s", chk.Tool, truncate(string(chk.Input), 500))
	}
	if d.Reasoning == "" {
		res.Warnings = append(res.Warnings, fmt.Sprintf("decision for %s recorded without reasoning", chk.Tool))
	}

	if err := e.store.InsertDecision(ctx, d); err != nil {
		return nil, wardenErrors.Wrap(err, "persist decision")
	}
	e.indexDecision(ctx, d, res)
	res.Decision = d
	slog.Info("Decision recorded", "project", d.Project, "number", d.Number, "title", d.Title)
	return res, nil
}

func (e *Engine) indexDecision(ctx context.Context, d *store.Decision, res *PostResult) {
	if e.embed == nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("decision #%d not indexed: no embedder configured", d.Number))
		return
	}
	vec, err := e.embed.Embed(ctx, d.Title+"\n\n"+d.Body)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("decision #%d not indexed: %v", d.Number, err))
		slog.Warn("Decision embedding failed", "number", d.Number, "error", err)
		return
	}
	if err := e.store.UpsertDecisionVector(ctx, d, vec); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("decision #%d not indexed: %v", d.Number, err))
		slog.Warn("Decision vector upsert failed", "number", d.Number, "error", err)
	}
}

// StopResult tells the invoker whether the session settled clean. Strict
// mirrors policy.strict_stop so the caller knows whether a blocked session
// fails the reply or only warns in it.
type StopResult struct {
	CanComplete bool
	Strict      bool
	Missing     []string
}

// Stop closes out a session. Every successful significant call needs a
// logged decision; when any are missing the session lands in blocked, never
// completed.
func (e *Engine) Stop(ctx context.Context, chk *Check, summary string, usageIn, usageOut int) (*StopResult, error) {
	res := &StopResult{Strict: e.strictStop}
	now := e.Now().UTC()

	sig, err := e.store.SignificantToolUses(ctx, chk.Session.ID)
	if err != nil {
		return nil, wardenErrors.Wrap(err, "list significant tool uses")
	}
	decs, err := e.store.DecisionsBySession(ctx, chk.Session.ID)
	if err != nil {
		return nil, wardenErrors.Wrap(err, "list session decisions")
	}
	if len(decs) < len(sig) {
		for _, use := range sig[len(decs):] {
			res.Missing = append(res.Missing, use.Tool)
		}
	}

	entry := &AuditEntry{
		Time:      now,
		SessionID: chk.Session.ID,
		Project:   chk.Project.Name,
		Role:      chk.Role.Name,
		Requester: chk.Request.Identity,
		Action:    ActionStop,
	}

	if len(res.Missing) == 0 {
		res.CanComplete = true
		entry.Status = StatusPassed
		if err := e.audit.Log(ctx, entry); err != nil {
			return nil, wardenErrors.Wrap(err, "audit stop")
		}
		if err := e.store.FinishSession(ctx, chk.Session.ID, store.SessionCompleted, summary, "", usageIn, usageOut, now); err != nil {
			return nil, wardenErrors.Wrap(err, "complete session")
		}
		return res, nil
	}

	detail := fmt.Sprintf("significant actions without a recorded decision: %s", strings.Join(res.Missing, ", "))
	entry.Status = StatusMissingDecisions
	entry.Detail = detail
	if err := e.audit.Log(ctx, entry); err != nil {
		return nil, wardenErrors.Wrap(err, "audit stop")
	}
	if err := e.store.FinishSession(ctx, chk.Session.ID, store.SessionBlocked, summary, detail, usageIn, usageOut, now); err != nil {
		return nil, wardenErrors.Wrap(err, "block session")
	}
	slog.Warn("Session blocked at stop", "session", chk.Session.ID, "missing", res.Missing, "strict", e.strictStop)
	return res, nil
}

// ForceComplete fails a session outright after an unrecoverable error. The
// stop checks do not run.
func (e *Engine) ForceComplete(ctx context.Context, chk *Check, cause error, usageIn, usageOut int) error {
	now := e.Now().UTC()
	entry := &AuditEntry{
		Time:      now,
		SessionID: chk.Session.ID,
		Project:   chk.Project.Name,
		Role:      chk.Role.Name,
		Requester: chk.Request.Identity,
		Action:    ActionForceComplete,
		Status:    StatusFailed,
		Detail:    cause.Error(),
	}
	if err := e.audit.Log(ctx, entry); err != nil {
		slog.Error("Audit write failed during force complete", "session", chk.Session.ID, "error", err)
	}
	if err := e.store.FinishSession(ctx, chk.Session.ID, store.SessionFailed, "", cause.Error(), usageIn, usageOut, now); err != nil {
		return wardenErrors.Wrap(err, "fail session")
	}
	slog.Error("Session force completed", "session", chk.Session.ID, "error", cause)
	return nil
}

// rawOrQuote keeps tool output as JSON when it already is one value,
// otherwise wraps it in a JSON string so the audit line stays parseable.
func rawOrQuote(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	trimmed := strings.TrimSpace(s)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
