package policy

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/project"
	"github.com/wardenhq/warden/internal/request"
	"github.com/wardenhq/warden/internal/store"
)

type stubEmbedder struct{ err error }

func (s stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.1, 0.2, 0.3, 0.4}, nil
}

func newTestEngine(t *testing.T, strict bool) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(config.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	aud := NewAuditor(filepath.Join(t.TempDir(), "audit.log"), nil)
	return NewEngine(st, aud, stubEmbedder{}, config.PolicyConfig{StrictStop: strict}, 72*time.Hour), st
}

func testProject() *project.Project {
	return &project.Project{Name: "widgets", Repo: "acme/widgets"}
}

func testRole(mut func(*project.Role)) *project.Role {
	r := &project.Role{
		Name:        "maintainer",
		Trust:       []request.TrustLevel{request.TrustContributor, request.TrustAuthorized, request.TrustElevated},
		Allowed:     []string{"get_issue", "comment_issue", "merge_pull_request", "record_decision"},
		Denied:      []string{"delete_repository"},
		Significant: []string{"merge_pull_request", "record_decision"},
	}
	if mut != nil {
		mut(r)
	}
	return r
}

func seedSession(t *testing.T, st *store.Store) *store.Session {
	t.Helper()
	sess := &store.Session{
		ID:        ulid.Make().String(),
		Project:   "widgets",
		Role:      "maintainer",
		Intent:    "maintenance",
		Requester: "octocat",
		Trust:     "authorized",
		Channel:   "webhook",
		Status:    store.SessionActive,
		StartedAt: time.Now().UTC(),
	}
	if err := st.InsertSession(context.Background(), sess); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	return sess
}

func newCheck(role *project.Role, sess *store.Session, tool, input string) *Check {
	req := request.New(request.ChannelWebhook, "octocat", "widgets", "handle the issue")
	req.Trust = request.TrustAuthorized
	return &Check{
		Project: testProject(),
		Role:    role,
		Session: sess,
		Request: req,
		Tool:    tool,
		Input:   json.RawMessage(input),
	}
}

func TestPreToolUse_DenyWinsOverAllow(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	role := testRole(func(r *project.Role) {
		r.Allowed = append(r.Allowed, "delete_repository")
	})

	res, err := eng.PreToolUse(context.Background(), newCheck(role, sess, "delete_repository", `{}`))
	if err != nil {
		t.Fatalf("PreToolUse failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected the denied tool to stay denied")
	}
	if !strings.Contains(res.Reason, "denied") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestPreToolUse_RejectsToolOffAllowList(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	ctx := context.Background()

	res, err := eng.PreToolUse(ctx, newCheck(testRole(nil), sess, "rewrite_history", `{"force":true}`))
	if err != nil {
		t.Fatalf("PreToolUse failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected tool off the allow list to be denied")
	}

	entries, err := eng.Audit().Query(ctx, &AuditFilter{Action: ActionPreToolUse, Status: StatusDenied})
	if err != nil {
		t.Fatalf("audit query failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Tool != "rewrite_history" {
		t.Fatalf("expected one denied audit entry, got %+v", entries)
	}

	uses, err := st.ListToolUses(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list tool uses: %v", err)
	}
	if len(uses) != 1 || uses[0].OK {
		t.Fatalf("expected one failed tool use on the session log, got %+v", uses)
	}
}

func TestPreToolUse_AllowsAndAudits(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	ctx := context.Background()

	res, err := eng.PreToolUse(ctx, newCheck(testRole(nil), sess, "get_issue", `{"number":7}`))
	if err != nil {
		t.Fatalf("PreToolUse failed: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected the call to be allowed, reason: %s", res.Reason)
	}
	if res.Significant {
		t.Fatal("get_issue should not be significant for this role")
	}

	entries, err := eng.Audit().Query(ctx, &AuditFilter{Action: ActionPreToolUse, Status: StatusAllowed})
	if err != nil {
		t.Fatalf("audit query failed: %v", err)
	}
	if len(entries) != 1 || string(entries[0].Input) != `{"number":7}` {
		t.Fatalf("expected one allowed audit entry with input, got %+v", entries)
	}
}

func TestPreToolUse_SignificantFlag(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)

	res, err := eng.PreToolUse(context.Background(), newCheck(testRole(nil), sess, "merge_pull_request", `{"number":12}`))
	if err != nil {
		t.Fatalf("PreToolUse failed: %v", err)
	}
	if !res.Allowed || !res.Significant {
		t.Fatalf("expected an allowed significant call, got %+v", res)
	}
}

func TestPreToolUse_TrustConstraint(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	role := testRole(func(r *project.Role) {
		r.Constraints = []project.ConstraintDecl{{
			Kind:        project.ConstraintTrustLevel,
			Enforcement: project.EnforcementHard,
			MinTrust:    request.TrustElevated,
		}}
	})
	ctx := context.Background()

	chk := newCheck(role, sess, "merge_pull_request", `{"number":12}`)
	chk.Request.Trust = request.TrustContributor
	res, err := eng.PreToolUse(ctx, chk)
	if err != nil {
		t.Fatalf("PreToolUse failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected contributor trust to fail the elevated constraint")
	}
	if !strings.Contains(res.Reason, "requires elevated trust") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}

	chk = newCheck(role, sess, "merge_pull_request", `{"number":12}`)
	chk.Request.Trust = request.TrustElevated
	res, err = eng.PreToolUse(ctx, chk)
	if err != nil {
		t.Fatalf("PreToolUse failed: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected elevated trust to pass, reason: %s", res.Reason)
	}
}

func TestPreToolUse_SoftConstraintAdvises(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	role := testRole(func(r *project.Role) {
		r.Constraints = []project.ConstraintDecl{{
			Kind:        project.ConstraintTrustLevel,
			Enforcement: project.EnforcementSoft,
			MinTrust:    request.TrustElevated,
		}}
	})

	chk := newCheck(role, sess, "comment_issue", `{"number":7}`)
	chk.Request.Trust = request.TrustContributor
	res, err := eng.PreToolUse(context.Background(), chk)
	if err != nil {
		t.Fatalf("PreToolUse failed: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("soft violation must not block, reason: %s", res.Reason)
	}
	if len(res.Advisories) != 1 || !strings.Contains(res.Advisories[0], "requires elevated trust") {
		t.Fatalf("expected one advisory, got %+v", res.Advisories)
	}
}

func TestPreToolUse_UnknownConstraintDenies(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	role := testRole(func(r *project.Role) {
		r.Constraints = []project.ConstraintDecl{{
			Kind:        project.ConstraintKind("quorum"),
			Enforcement: project.EnforcementHard,
		}}
	})

	res, err := eng.PreToolUse(context.Background(), newCheck(role, sess, "get_issue", `{}`))
	if err != nil {
		t.Fatalf("PreToolUse failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected an unevaluable constraint to deny")
	}
	if !strings.Contains(res.Reason, "no evaluator") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestPreToolUse_RateLimitAcrossCalls(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	role := testRole(func(r *project.Role) {
		r.Constraints = []project.ConstraintDecl{{
			Kind:        project.ConstraintRateLimit,
			Enforcement: project.EnforcementHard,
			MaxCount:    2,
			Window:      time.Hour,
		}}
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := eng.PreToolUse(ctx, newCheck(role, sess, "comment_issue", `{"number":7}`))
		if err != nil {
			t.Fatalf("PreToolUse %d failed: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d should pass the limit, reason: %s", i, res.Reason)
		}
	}

	res, err := eng.PreToolUse(ctx, newCheck(role, sess, "comment_issue", `{"number":7}`))
	if err != nil {
		t.Fatalf("PreToolUse failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected the third call to hit the rate limit")
	}
	if !strings.Contains(res.Reason, "rate limit") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestPreToolUse_ApprovalRoundTrip(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	role := testRole(func(r *project.Role) {
		r.Constraints = []project.ConstraintDecl{{
			Kind:        project.ConstraintApprovalRequired,
			Enforcement: project.EnforcementHard,
			Approver:    "release-manager",
		}}
	})
	ctx := context.Background()

	res, err := eng.PreToolUse(ctx, newCheck(role, sess, "merge_pull_request", `{"number":12}`))
	if err != nil {
		t.Fatalf("PreToolUse failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected the first call to wait on approval")
	}
	if !strings.Contains(res.Reason, "needs approval from release-manager") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}

	pending, err := st.PendingApproval(ctx, "widgets", "merge_pull_request", "octocat")
	if err != nil {
		t.Fatalf("expected a filed approval request: %v", err)
	}
	if pending.Approver != "release-manager" {
		t.Fatalf("approval routed to %s", pending.Approver)
	}

	// A retry while pending must not file a duplicate.
	if _, err := eng.PreToolUse(ctx, newCheck(role, sess, "merge_pull_request", `{"number":12}`)); err != nil {
		t.Fatalf("second PreToolUse failed: %v", err)
	}
	all, err := st.ListApprovals(ctx, "widgets", "", 0)
	if err != nil {
		t.Fatalf("list approvals: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected a single approval request, got %d", len(all))
	}

	if err := st.ResolveApproval(ctx, pending.ID, store.ApprovalGranted, time.Now().UTC()); err != nil {
		t.Fatalf("grant approval: %v", err)
	}
	res, err = eng.PreToolUse(ctx, newCheck(role, sess, "merge_pull_request", `{"number":12}`))
	if err != nil {
		t.Fatalf("PreToolUse after grant failed: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected the granted approval to admit the call, reason: %s", res.Reason)
	}
}

func TestPostToolUse_RecordsOutcome(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	ctx := context.Background()

	res, err := eng.PostToolUse(ctx, newCheck(testRole(nil), sess, "get_issue", `{"number":7}`), `{"number":7,"title":"crash"}`, false)
	if err != nil {
		t.Fatalf("PostToolUse failed: %v", err)
	}
	if res.Decision != nil {
		t.Fatal("a non-significant call must not produce a decision")
	}

	uses, err := st.ListToolUses(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list tool uses: %v", err)
	}
	if len(uses) != 1 || !uses[0].OK || uses[0].Tool != "get_issue" {
		t.Fatalf("unexpected tool log: %+v", uses)
	}

	entries, err := eng.Audit().Query(ctx, &AuditFilter{Action: ActionPostToolUse, Status: StatusCompleted})
	if err != nil {
		t.Fatalf("audit query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one completed audit entry, got %d", len(entries))
	}
}

func TestPostToolUse_SynthesizesDecision(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	ctx := context.Background()

	res, err := eng.PostToolUse(ctx, newCheck(testRole(nil), sess, "merge_pull_request", `{"number":12}`), "merged pull request 12", false)
	if err != nil {
		t.Fatalf("PostToolUse failed: %v", err)
	}
	if res.Decision == nil {
		t.Fatal("expected a synthesized decision")
	}
	if res.Decision.Number != 1 {
		t.Fatalf("expected decision #1, got #%d", res.Decision.Number)
	}
	if !strings.Contains(res.Decision.Title, "merge_pull_request") {
		t.Fatalf("unexpected title: %s", res.Decision.Title)
	}
	if res.Decision.DecidedBy != "maintainer" {
		t.Fatalf("expected the role as decider, got %s", res.Decision.DecidedBy)
	}

	warned := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "without reasoning") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected a missing-reasoning warning, got %+v", res.Warnings)
	}

	decs, err := st.DecisionsBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("decisions by session: %v", err)
	}
	if len(decs) != 1 {
		t.Fatalf("expected the decision persisted, got %d", len(decs))
	}
}

func TestPostToolUse_TakesDecisionMetadata(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)

	output := `{"merged":true,"decision":{"title":"Adopt squash merges","decision":"All pull requests land as a single squash commit.","reasoning":"Keeps the mainline history linear."}}`
	res, err := eng.PostToolUse(context.Background(), newCheck(testRole(nil), sess, "merge_pull_request", `{"number":12}`), output, false)
	if err != nil {
		t.Fatalf("PostToolUse failed: %v", err)
	}
	if res.Decision == nil || res.Decision.Title != "Adopt squash merges" {
		t.Fatalf("expected the tool metadata decision, got %+v", res.Decision)
	}
	if res.Decision.Reasoning == "" {
		t.Fatal("expected reasoning carried through")
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %+v", res.Warnings)
	}
}

func TestPostToolUse_TrustsToolPersistedDecision(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	ctx := context.Background()

	seeded := &store.Decision{
		ID:        ulid.Make().String(),
		Project:   "widgets",
		Title:     "Pin the CI image",
		Body:      "Build against the pinned toolchain image.",
		Reasoning: "Floating tags broke the release build twice.",
		SessionID: sess.ID,
		DecidedBy: "maintainer",
		CreatedAt: time.Now().UTC(),
	}
	if err := st.InsertDecision(ctx, seeded); err != nil {
		t.Fatalf("insert decision: %v", err)
	}

	output := `{"ok":true,"decision_number":1}`
	res, err := eng.PostToolUse(ctx, newCheck(testRole(nil), sess, "record_decision", `{"title":"Pin the CI image"}`), output, false)
	if err != nil {
		t.Fatalf("PostToolUse failed: %v", err)
	}
	if res.Decision == nil || res.Decision.Number != 1 {
		t.Fatalf("expected the persisted decision back, got %+v", res.Decision)
	}

	all, err := st.ListDecisions(ctx, "widgets", 0)
	if err != nil {
		t.Fatalf("list decisions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected no duplicate decision, got %d", len(all))
	}
}

func TestPostToolUse_FailedCallLeavesNoDecision(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	ctx := context.Background()

	res, err := eng.PostToolUse(ctx, newCheck(testRole(nil), sess, "merge_pull_request", `{"number":12}`), "merge conflict", true)
	if err != nil {
		t.Fatalf("PostToolUse failed: %v", err)
	}
	if res.Decision != nil {
		t.Fatal("a failed call must not produce a decision")
	}

	uses, err := st.ListToolUses(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list tool uses: %v", err)
	}
	if len(uses) != 1 || uses[0].OK || uses[0].Error != "merge conflict" {
		t.Fatalf("unexpected tool log: %+v", uses)
	}

	decs, err := st.DecisionsBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("decisions by session: %v", err)
	}
	if len(decs) != 0 {
		t.Fatalf("expected no decisions, got %d", len(decs))
	}
}

func TestStop_CompletesCleanSession(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	ctx := context.Background()

	res, err := eng.Stop(ctx, newCheck(testRole(nil), sess, "", ""), "labeled the issue", 120, 34)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !res.CanComplete || len(res.Missing) != 0 {
		t.Fatalf("expected a clean stop, got %+v", res)
	}

	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != store.SessionCompleted || got.Summary != "labeled the issue" {
		t.Fatalf("unexpected session state: %+v", got)
	}
	if got.InputTokens != 120 || got.OutputTokens != 34 {
		t.Fatalf("usage not stored: %+v", got)
	}

	entries, err := eng.Audit().Query(ctx, &AuditFilter{Action: ActionStop, Status: StatusPassed})
	if err != nil {
		t.Fatalf("audit query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one stop entry, got %d", len(entries))
	}
}

func TestStop_BlocksWhenDecisionsMissing(t *testing.T) {
	eng, st := newTestEngine(t, true)
	sess := seedSession(t, st)
	ctx := context.Background()

	use := &store.ToolUse{
		SessionID:   sess.ID,
		Tool:        "merge_pull_request",
		Input:       `{"number":12}`,
		OK:          true,
		Significant: true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := st.RecordToolUse(ctx, use); err != nil {
		t.Fatalf("record tool use: %v", err)
	}

	res, err := eng.Stop(ctx, newCheck(testRole(nil), sess, "", ""), "merged the release PR", 80, 20)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if res.CanComplete {
		t.Fatal("expected the stop to block")
	}
	if !res.Strict {
		t.Fatal("expected the strict flag mirrored from config")
	}
	if len(res.Missing) != 1 || res.Missing[0] != "merge_pull_request" {
		t.Fatalf("unexpected missing list: %+v", res.Missing)
	}

	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != store.SessionBlocked {
		t.Fatalf("expected blocked, got %s", got.Status)
	}
	if !strings.Contains(got.Error, "without a recorded decision") {
		t.Fatalf("unexpected session error: %s", got.Error)
	}

	entries, err := eng.Audit().Query(ctx, &AuditFilter{Action: ActionStop, Status: StatusMissingDecisions})
	if err != nil {
		t.Fatalf("audit query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one blocked stop entry, got %d", len(entries))
	}
}

func TestStop_DecisionCoversSignificantCall(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	ctx := context.Background()

	use := &store.ToolUse{
		SessionID:   sess.ID,
		Tool:        "merge_pull_request",
		Input:       `{"number":12}`,
		OK:          true,
		Significant: true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := st.RecordToolUse(ctx, use); err != nil {
		t.Fatalf("record tool use: %v", err)
	}
	d := &store.Decision{
		ID:        ulid.Make().String(),
		Project:   "widgets",
		Title:     "Merge the release PR",
		Body:      "Release 1.4 ships from PR 12.",
		Reasoning: "All checks green and two approvals.",
		SessionID: sess.ID,
		DecidedBy: "maintainer",
		CreatedAt: time.Now().UTC(),
	}
	if err := st.InsertDecision(ctx, d); err != nil {
		t.Fatalf("insert decision: %v", err)
	}

	res, err := eng.Stop(ctx, newCheck(testRole(nil), sess, "", ""), "merged the release PR", 0, 0)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !res.CanComplete {
		t.Fatalf("expected the covered session to complete, missing %+v", res.Missing)
	}
}

func TestForceComplete(t *testing.T) {
	eng, st := newTestEngine(t, false)
	sess := seedSession(t, st)
	ctx := context.Background()

	cause := errors.New("model stream cut mid-call")
	if err := eng.ForceComplete(ctx, newCheck(testRole(nil), sess, "", ""), cause, 10, 2); err != nil {
		t.Fatalf("ForceComplete failed: %v", err)
	}

	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != store.SessionFailed || !strings.Contains(got.Error, "model stream cut") {
		t.Fatalf("unexpected session state: %+v", got)
	}

	entries, err := eng.Audit().Query(ctx, &AuditFilter{Action: ActionForceComplete})
	if err != nil {
		t.Fatalf("audit query failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != StatusFailed {
		t.Fatalf("expected one failed force_complete entry, got %+v", entries)
	}
}
