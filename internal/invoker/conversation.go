package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/conversation"
	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/model/contract"
	"github.com/wardenhq/warden/internal/notify"
	"github.com/wardenhq/warden/internal/project"
	"github.com/wardenhq/warden/internal/request"
	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/tooling"
)

// The runtime conversation tools live in the loop, not the dispatcher,
// because converse re-enters the invoker. They are intercepted by name
// ahead of dispatch, so an external tool with the same name is shadowed.
const (
	toolConverse          = "converse"
	toolSend              = "send"
	toolEndConversation   = "end_conversation"
	toolListConversations = "list_conversations"
	toolGetConversation   = "get_conversation"
)

func isConversationTool(name string) bool {
	switch name {
	case toolConverse, toolSend, toolEndConversation, toolListConversations, toolGetConversation:
		return true
	}
	return false
}

// conversationDefs returns the runtime tool definitions that pass the
// role's allow and deny lists, the same filtering the dispatcher applies
// to its own catalog.
func conversationDefs(role *project.Role) []contract.ToolDef {
	all := []contract.ToolDef{
		{
			Name:        toolConverse,
			Description: "Send a message to another role on this project and wait for its reply. Reuses the active thread with that role when one exists.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"role": map[string]interface{}{
						"type":        "string",
						"description": "target role name",
					},
					"message": map[string]interface{}{
						"type":        "string",
						"description": "what to say to the role",
					},
					"topic": map[string]interface{}{
						"type":        "string",
						"description": "topic for the thread when a new one is opened",
					},
				},
				"required": []string{"role", "message"},
			},
		},
		{
			Name:        toolSend,
			Description: "Leave a message for another role without waiting: the message lands on the shared thread and a tracked issue addressed to the role is opened.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"role": map[string]interface{}{
						"type":        "string",
						"description": "target role name",
					},
					"title": map[string]interface{}{
						"type":        "string",
						"description": "short title for the handoff",
					},
					"message": map[string]interface{}{
						"type":        "string",
						"description": "the message body",
					},
				},
				"required": []string{"role", "title", "message"},
			},
		},
		{
			Name:        toolEndConversation,
			Description: "Resolve an active conversation thread with a closing resolution.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"thread_id": map[string]interface{}{
						"type":        "string",
						"description": "thread to resolve",
					},
					"resolution": map[string]interface{}{
						"type":        "string",
						"description": "how the conversation concluded",
					},
				},
				"required": []string{"thread_id", "resolution"},
			},
		},
		{
			Name:        toolListConversations,
			Description: "List the active conversation threads this role takes part in.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        toolGetConversation,
			Description: "Fetch one conversation thread with its transcript.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"thread_id": map[string]interface{}{
						"type":        "string",
						"description": "thread to fetch",
					},
				},
				"required": []string{"thread_id"},
			},
		},
	}

	defs := make([]contract.ToolDef, 0, len(all))
	for _, def := range all {
		if role.Denies(def.Name) || !role.Allows(def.Name) {
			continue
		}
		defs = append(defs, def)
	}
	return defs
}

// conversationCall executes one runtime conversation tool. Failures come
// back as error results, never as raised errors.
func (inv *Invoker) conversationCall(ctx context.Context, f *frame, name string, input json.RawMessage) tooling.Result {
	var (
		out string
		err error
	)
	switch name {
	case toolConverse:
		out, err = inv.converse(ctx, f, input)
	case toolSend:
		out, err = inv.send(ctx, f, input)
	case toolEndConversation:
		out, err = inv.endConversation(ctx, f, input)
	case toolListConversations:
		out, err = inv.listConversations(ctx, f)
	case toolGetConversation:
		out, err = inv.getConversation(ctx, f, input)
	default:
		err = fmt.Errorf("unknown conversation tool %s", name)
	}
	if err != nil {
		return tooling.Result{Content: err.Error(), IsError: true}
	}
	return tooling.Result{Content: out}
}

type converseArgs struct {
	Role    string `json:"role"`
	Message string `json:"message"`
	Topic   string `json:"topic,omitempty"`
}

// converse relays a message to another role and synchronously runs that
// role's session one level deeper. The reply lands on the shared thread
// and comes back as the tool result.
func (inv *Invoker) converse(ctx context.Context, f *frame, input json.RawMessage) (string, error) {
	var args converseArgs
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if args.Role == "" || args.Message == "" {
		return "", fmt.Errorf("role and message are required")
	}
	if args.Role == f.role.Name {
		return "", fmt.Errorf("role %s cannot converse with itself", f.role.Name)
	}
	target := f.proj.Role(args.Role)
	if target == nil {
		return "", fmt.Errorf("role %s is not defined for project %s", args.Role, f.proj.Name)
	}
	if f.sess.Depth >= inv.maxDepth {
		return "", fmt.Errorf("conversation depth %d reached, %s was not invoked", inv.maxDepth, args.Role)
	}

	caller := conversation.Role(f.role.Name)
	thread, _, err := inv.deps.Threads.FindOrCreate(ctx, f.proj.Name,
		[]conversation.Participant{caller, conversation.Role(args.Role)}, args.Topic)
	if err != nil {
		return "", err
	}
	if _, err := inv.deps.Threads.Append(ctx, thread.ID, caller, args.Message); err != nil {
		return "", err
	}

	opening, err := inv.conversationOpening(ctx, thread, caller.String())
	if err != nil {
		return "", err
	}

	// The internal request keeps the original trust level so trust
	// constraints in the target role still judge the human behind the
	// chain, not the relaying agent.
	childReq := request.New(request.ChannelInternal, "agent:"+f.role.Name, f.proj.Name, args.Message)
	childReq.Trust = f.req.Trust
	childReq.Payload[request.PayloadEvent] = "converse"
	childReq.Payload[request.PayloadThread] = thread.ID

	child, err := inv.invoke(ctx, f.proj, target, childReq, f.sess.Depth+1, f.sess.ID, opening)
	if err != nil {
		return "", fmt.Errorf("converse with %s: %w", args.Role, err)
	}

	replyText := strings.TrimSpace(child.Response)
	if replyText == "" {
		replyText = "(no reply)"
	}
	if _, err := inv.deps.Threads.Append(ctx, thread.ID, conversation.Role(args.Role), replyText); err != nil {
		return "", fmt.Errorf("record reply: %w", err)
	}
	return replyText, nil
}

type sendArgs struct {
	Role    string `json:"role"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// send leaves a message for another role without waiting on it: the
// message lands on the shared thread and a tracked issue addressed to
// the role is opened on the project repository.
func (inv *Invoker) send(ctx context.Context, f *frame, input json.RawMessage) (string, error) {
	var args sendArgs
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if args.Role == "" || args.Title == "" || args.Message == "" {
		return "", fmt.Errorf("role, title and message are required")
	}
	if f.proj.Role(args.Role) == nil {
		return "", fmt.Errorf("role %s is not defined for project %s", args.Role, f.proj.Name)
	}
	if inv.deps.Forge == nil {
		return "", fmt.Errorf("send is not available: no forge client configured")
	}

	caller := conversation.Role(f.role.Name)
	thread, _, err := inv.deps.Threads.FindOrCreate(ctx, f.proj.Name,
		[]conversation.Participant{caller, conversation.Role(args.Role)}, args.Title)
	if err != nil {
		return "", err
	}
	if _, err := inv.deps.Threads.Append(ctx, thread.ID, caller, args.Title+"\n\n"+args.Message); err != nil {
		return "", err
	}

	sink, err := notify.NewForgeSink(inv.deps.Forge, f.proj.Repo, nil)
	if err != nil {
		return "", err
	}
	issue, err := sink.Issue(ctx, notify.Message{
		Title:  fmt.Sprintf("[%s] %s", args.Role, args.Title),
		Body:   fmt.Sprintf("%s\n\n---\nFrom %s on thread %s.", args.Message, caller.String(), thread.ID),
		Labels: []string{"warden", "role:" + args.Role},
	})
	if err != nil {
		return "", err
	}

	return reply(map[string]interface{}{
		"thread_id": thread.ID,
		"issue":     issue.Number,
		"url":       issue.URL,
	})
}

type endConversationArgs struct {
	ThreadID   string `json:"thread_id"`
	Resolution string `json:"resolution"`
}

func (inv *Invoker) endConversation(ctx context.Context, f *frame, input json.RawMessage) (string, error) {
	var args endConversationArgs
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if args.ThreadID == "" || args.Resolution == "" {
		return "", fmt.Errorf("thread_id and resolution are required")
	}
	if _, err := inv.projectThread(ctx, f, args.ThreadID); err != nil {
		return "", err
	}
	if err := inv.deps.Threads.Resolve(ctx, args.ThreadID, args.Resolution); err != nil {
		return "", err
	}
	return reply(map[string]interface{}{
		"thread_id": args.ThreadID,
		"status":    store.ThreadResolved,
	})
}

func (inv *Invoker) listConversations(ctx context.Context, f *frame) (string, error) {
	threads, err := inv.deps.Threads.OpenFor(ctx, f.proj.Name, conversation.Role(f.role.Name))
	if err != nil {
		return "", err
	}

	rows := make([]map[string]interface{}, 0, len(threads))
	for _, t := range threads {
		rows = append(rows, map[string]interface{}{
			"thread_id":    t.ID,
			"participants": t.Participants,
			"topic":        t.Topic,
			"updated_at":   t.UpdatedAt.Format(time.RFC3339),
		})
	}
	return reply(map[string]interface{}{"conversations": rows})
}

type getConversationArgs struct {
	ThreadID string `json:"thread_id"`
}

func (inv *Invoker) getConversation(ctx context.Context, f *frame, input json.RawMessage) (string, error) {
	var args getConversationArgs
	if err := unmarshalArgs(input, &args); err != nil {
		return "", err
	}
	if args.ThreadID == "" {
		return "", fmt.Errorf("thread_id is required")
	}

	thread, err := inv.projectThread(ctx, f, args.ThreadID)
	if err != nil {
		return "", err
	}
	messages, err := inv.deps.Store.ListThreadMessages(ctx, thread.ID, 50)
	if err != nil {
		return "", err
	}

	rows := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		rows = append(rows, map[string]interface{}{
			"sender": msg.Sender,
			"body":   msg.Body,
			"at":     msg.CreatedAt.Format(time.RFC3339),
		})
	}
	return reply(map[string]interface{}{
		"thread_id":    thread.ID,
		"status":       thread.Status,
		"topic":        thread.Topic,
		"participants": thread.Participants,
		"resolution":   thread.Resolution,
		"messages":     rows,
	})
}

// projectThread fetches a thread and refuses ids from another project.
func (inv *Invoker) projectThread(ctx context.Context, f *frame, id string) (*store.Thread, error) {
	thread, err := inv.deps.Store.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	if thread.Project != f.proj.Name {
		return nil, wardenErrors.NotFound("thread " + id)
	}
	return thread, nil
}
