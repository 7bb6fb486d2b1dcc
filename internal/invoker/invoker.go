// Package invoker runs one governed agent session end to end. It creates
// the session record, assembles the model context, drives the bounded
// call/act loop through the policy hooks, and settles the session through
// the stop hook. Conversations between roles recurse through the same
// loop with an explicit depth counter.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/conversation"
	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/forge"
	"github.com/wardenhq/warden/internal/logger"
	"github.com/wardenhq/warden/internal/model"
	"github.com/wardenhq/warden/internal/model/contract"
	"github.com/wardenhq/warden/internal/policy"
	"github.com/wardenhq/warden/internal/project"
	"github.com/wardenhq/warden/internal/request"
	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/tooling"
	"github.com/wardenhq/warden/internal/tooling/handlers"
)

// Deps carries the shared collaborators of every invocation. Forge,
// Embedder and Pool may be nil when the capability is not configured; the
// affected tools and context sections degrade instead of failing.
type Deps struct {
	Store     *store.Store
	Engine    *policy.Engine
	Completer model.Completer
	Embedder  model.Embedder
	Threads   *conversation.Manager
	Pool      *tooling.Pool
	Forge     forge.Forge
}

// Invoker is the top-level session state machine.
type Invoker struct {
	deps          Deps
	maxIterations int
	maxDepth      int

	// Now is the clock for session stamps. Tests swap it.
	Now func() time.Time
}

func New(deps Deps, cfg config.InvokerConfig) *Invoker {
	if deps.Threads == nil {
		deps.Threads = conversation.NewManager(deps.Store)
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = config.DefaultInvokerMaxIterations
	}
	maxDepth := cfg.MaxConversationDepth
	if maxDepth <= 0 {
		maxDepth = config.DefaultMaxConversationDepth
	}
	return &Invoker{
		deps:          deps,
		maxIterations: maxIterations,
		maxDepth:      maxDepth,
		Now:           time.Now,
	}
}

// Outcome is one finished invocation. Response concatenates the text of
// every assistant turn; Warnings carry the non-fatal policy and indexing
// notes gathered along the way.
type Outcome struct {
	Session  *store.Session
	Response string
	Warnings []string
}

// frame bundles the invariant scope of one running session.
type frame struct {
	proj *project.Project
	role *project.Role
	req  *request.Request
	sess *store.Session
}

func (f *frame) check(tool string, input json.RawMessage) *policy.Check {
	return &policy.Check{
		Project: f.proj,
		Role:    f.role,
		Session: f.sess,
		Request: f.req,
		Tool:    tool,
		Input:   input,
	}
}

// Invoke runs a top-level session for an already classified and routed
// request.
func (inv *Invoker) Invoke(ctx context.Context, proj *project.Project, role *project.Role, req *request.Request) (*Outcome, error) {
	return inv.invoke(ctx, proj, role, req, 0, "", openingMessage(req))
}

func (inv *Invoker) invoke(ctx context.Context, proj *project.Project, role *project.Role, req *request.Request, depth int, parentID, opening string) (*Outcome, error) {
	sess := &store.Session{
		ID:        ulid.Make().String(),
		Project:   proj.Name,
		Role:      role.Name,
		Intent:    req.Intent,
		Requester: req.Identity,
		Trust:     req.Trust.String(),
		Channel:   string(req.Channel),
		Status:    store.SessionActive,
		Depth:     depth,
		ParentID:  parentID,
		StartedAt: inv.Now().UTC(),
	}
	if err := inv.deps.Store.InsertSession(ctx, sess); err != nil {
		return nil, wardenErrors.Wrap(err, "create session")
	}
	ctx = logger.WithSessionID(ctx, sess.ID)
	slog.Info("Session started",
		"session", sess.ID, "project", proj.Name, "role", role.Name,
		"requester", req.Identity, "depth", depth)

	f := &frame{proj: proj, role: role, req: req, sess: sess}
	dispatcher := inv.dispatcherFor(f)
	defs := append(dispatcher.Definitions(role.Allowed, role.Denied), conversationDefs(role)...)
	system := inv.buildSystem(ctx, f)

	messages := []contract.Message{{Role: contract.RoleUser, Content: opening}}
	var (
		texts     []string
		warnings  []string
		usageIn   int
		usageOut  int
		wantsMore bool
	)

	for iter := 0; iter < inv.maxIterations; iter++ {
		resp, err := inv.deps.Completer.Complete(ctx, contract.CompletionRequest{
			Model:     role.Model,
			System:    system,
			MaxTokens: role.MaxTokens,
			Messages:  messages,
			Tools:     defs,
		})
		if err != nil {
			return inv.fail(ctx, f, fmt.Errorf("model call: %w", err), usageIn, usageOut)
		}
		usageIn += resp.Usage.InputTokens
		usageOut += resp.Usage.OutputTokens
		if text := strings.TrimSpace(resp.Text()); text != "" {
			texts = append(texts, text)
		}
		messages = append(messages, resp.AssistantMessage())

		calls := resp.ToolCalls()
		wantsMore = resp.StopReason == contract.StopToolUse && len(calls) > 0
		if !wantsMore {
			break
		}

		// Calls run strictly in order: a later call may depend on an
		// earlier result already being in the transcript.
		for _, call := range calls {
			result, warns, err := inv.runToolCall(ctx, f, dispatcher, call)
			if err != nil {
				return inv.fail(ctx, f, err, usageIn, usageOut)
			}
			warnings = append(warnings, warns...)
			messages = append(messages, contract.ToolResultMessage(call, result.Content, result.IsError))
		}
	}
	if wantsMore {
		warnings = append(warnings,
			fmt.Sprintf("iteration ceiling of %d reached with tool calls still pending", inv.maxIterations))
		slog.Warn("Iteration ceiling reached", "session", sess.ID, "max_iterations", inv.maxIterations)
	}

	response := strings.Join(texts, "\n\n")
	stop, err := inv.deps.Engine.Stop(ctx, f.check("", nil), excerpt(response, 1000), usageIn, usageOut)
	if err != nil {
		return inv.fail(ctx, f, fmt.Errorf("stop hook: %w", err), usageIn, usageOut)
	}

	if fresh, err := inv.deps.Store.GetSession(ctx, sess.ID); err == nil {
		sess = fresh
	}
	out := &Outcome{Session: sess, Response: response, Warnings: warnings}
	if stop.CanComplete {
		slog.Info("Session completed",
			"session", sess.ID, "input_tokens", usageIn, "output_tokens", usageOut)
		return out, nil
	}

	missing := strings.Join(stop.Missing, ", ")
	if stop.Strict {
		return nil, fmt.Errorf("session %s blocked, significant actions without decisions: %s: %w",
			sess.ID, missing, wardenErrors.ErrPermissionDenied)
	}
	out.Warnings = append(out.Warnings, "session blocked, significant actions without decisions: "+missing)
	return out, nil
}

// runToolCall takes one requested call through pre hook, execution and
// post hook. A policy denial or a failed tool comes back as an error
// result for the model; only hook infrastructure failures return an
// error, and those are fatal to the session.
func (inv *Invoker) runToolCall(ctx context.Context, f *frame, dispatcher *tooling.Dispatcher, call *contract.ToolCall) (tooling.Result, []string, error) {
	input := json.RawMessage(call.Input)
	chk := f.check(call.Name, input)

	pre, err := inv.deps.Engine.PreToolUse(ctx, chk)
	if err != nil {
		return tooling.Result{}, nil, fmt.Errorf("pre hook for %s: %w", call.Name, err)
	}
	if !pre.Allowed {
		return tooling.Result{Content: pre.Reason, IsError: true}, nil, nil
	}

	var result tooling.Result
	if isConversationTool(call.Name) {
		result = inv.conversationCall(ctx, f, call.Name, input)
	} else {
		result = dispatcher.Execute(ctx, call.Name, input)
	}

	post, err := inv.deps.Engine.PostToolUse(ctx, chk, result.Content, result.IsError)
	if err != nil {
		return tooling.Result{}, nil, fmt.Errorf("post hook for %s: %w", call.Name, err)
	}

	if len(pre.Advisories) > 0 && !result.IsError {
		result.Content += "\n\nPolicy advisories:\n- " + strings.Join(pre.Advisories, "\n- ")
	}
	return result, post.Warnings, nil
}

// fail force-completes the session and propagates the cause. A failed
// invocation leaves no partial response.
func (inv *Invoker) fail(ctx context.Context, f *frame, cause error, usageIn, usageOut int) (*Outcome, error) {
	if err := inv.deps.Engine.ForceComplete(ctx, f.check("", nil), cause, usageIn, usageOut); err != nil {
		slog.Error("Force complete failed", "session", f.sess.ID, "error", err)
	}
	return nil, fmt.Errorf("session %s: %w", f.sess.ID, cause)
}

// dispatcherFor builds the per-invocation tool catalog: the shared server
// pool plus the governance handlers bound to this session's scope.
func (inv *Invoker) dispatcherFor(f *frame) *tooling.Dispatcher {
	deps := &handlers.Deps{
		Store:   inv.deps.Store,
		Forge:   inv.deps.Forge,
		Embed:   inv.deps.Embedder,
		Audit:   inv.deps.Engine.Audit(),
		DataDir: inv.deps.Store.DataDir(),
		Now:     inv.Now,
	}
	scope := &handlers.Scope{Project: f.proj, Role: f.role, Session: f.sess, Request: f.req}
	return tooling.NewDispatcher(inv.deps.Pool, handlers.All(deps, scope))
}

func unmarshalArgs(input json.RawMessage, v interface{}) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

func reply(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}

func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
