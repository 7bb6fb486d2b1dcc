package invoker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/conversation"
	"github.com/wardenhq/warden/internal/model/contract"
	"github.com/wardenhq/warden/internal/project"
	"github.com/wardenhq/warden/internal/request"
	"github.com/wardenhq/warden/internal/store"
)

func TestConverseRunsTargetRoleAndRecordsThread(t *testing.T) {
	fix := newFixture(t, false)
	fix.script.responses = []*contract.CompletionResponse{
		toolTurn("", call("t1", "converse", `{"role":"builder","message":"Can you take the exporter work?","topic":"exporter"}`)),
		textTurn("Yes, starting on it now."),
		textTurn("Builder confirmed the exporter work."),
	}

	ctx := context.Background()
	out, err := fix.inv.Invoke(ctx, fix.proj, fix.role(t, "planner"), testRequest("plan the exporter"))
	require.NoError(t, err)
	assert.Equal(t, "Builder confirmed the exporter work.", out.Response)

	sessions, err := fix.store.ListSessions(ctx, "widgets", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	byRole := make(map[string]*store.Session, len(sessions))
	for _, sess := range sessions {
		byRole[sess.Role] = sess
	}
	child := byRole["builder"]
	require.NotNil(t, child)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, byRole["planner"].ID, child.ParentID)
	assert.Equal(t, string(request.ChannelInternal), child.Channel)
	assert.Equal(t, "agent:planner", child.Requester)
	assert.Equal(t, request.TrustAuthorized.String(), child.Trust)
	assert.Equal(t, store.SessionCompleted, child.Status)

	threads, err := fix.threads.List(ctx, "widgets", "", 10)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "exporter", threads[0].Topic)

	msgs, err := fix.store.ListThreadMessages(ctx, threads[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "role:planner", msgs[0].Sender)
	assert.Equal(t, "Can you take the exporter work?", msgs[0].Body)
	assert.Equal(t, "role:builder", msgs[1].Sender)
	assert.Equal(t, "Yes, starting on it now.", msgs[1].Body)

	// The child saw the transcript, the parent saw the reply.
	require.Len(t, fix.script.requests, 3)
	childOpening := fix.script.requests[1].Messages[0].Content
	assert.Contains(t, childOpening, "role:planner: Can you take the exporter work?")
	assert.Contains(t, childOpening, "Reply to the latest message from role:planner")
	assert.Contains(t, fix.script.requests[1].System, "You are builder")

	last := lastMessage(t, fix.script.requests[2])
	assert.Equal(t, contract.RoleTool, last.Role)
	assert.False(t, last.IsError)
	assert.Equal(t, "Yes, starting on it now.", last.Content)
}

func TestConverseReusesActiveThread(t *testing.T) {
	fix := newFixture(t, false)
	fix.script.responses = []*contract.CompletionResponse{
		toolTurn("", call("t1", "converse", `{"role":"builder","message":"How big is the exporter job?"}`)),
		textTurn("Two days of work."),
		toolTurn("", call("t2", "converse", `{"role":"builder","message":"Can you start today?"}`)),
		textTurn("Yes, kicking off now."),
		textTurn("Builder is on it."),
	}

	ctx := context.Background()
	out, err := fix.inv.Invoke(ctx, fix.proj, fix.role(t, "planner"), testRequest("schedule the exporter"))
	require.NoError(t, err)
	assert.Equal(t, "Builder is on it.", out.Response)

	sessions, err := fix.store.ListSessions(ctx, "widgets", 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)

	threads, err := fix.threads.List(ctx, "widgets", "", 10)
	require.NoError(t, err)
	require.Len(t, threads, 1)

	msgs, err := fix.store.ListThreadMessages(ctx, threads[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "How big is the exporter job?", msgs[0].Body)
	assert.Equal(t, "Two days of work.", msgs[1].Body)
	assert.Equal(t, "Can you start today?", msgs[2].Body)
	assert.Equal(t, "Yes, kicking off now.", msgs[3].Body)
}

func TestConverseDepthCeilingRefusesInBand(t *testing.T) {
	fix := newFixture(t, false)
	fix.script.responses = []*contract.CompletionResponse{
		toolTurn("", call("t1", "converse", `{"role":"builder","message":"Ping","topic":"relay"}`)),
		toolTurn("", call("t2", "converse", `{"role":"planner","message":"Pong"}`)),
		textTurn("I could not reach planner."),
		textTurn("Builder answered."),
	}

	ctx := context.Background()
	out, err := fix.inv.Invoke(ctx, fix.proj, fix.role(t, "planner"), testRequest("relay test"))
	require.NoError(t, err)
	assert.Equal(t, "Builder answered.", out.Response)

	// The refused hop never became a session.
	sessions, err := fix.store.ListSessions(ctx, "widgets", 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	// Builder got the refusal as an error tool result.
	require.Len(t, fix.script.requests, 4)
	refused := lastMessage(t, fix.script.requests[2])
	assert.True(t, refused.IsError)
	assert.Contains(t, refused.Content, "conversation depth 1 reached")

	// The guard fired before any thread write.
	threads, err := fix.threads.List(ctx, "widgets", "", 10)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	msgs, err := fix.store.ListThreadMessages(ctx, threads[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Ping", msgs[0].Body)
	assert.Equal(t, "I could not reach planner.", msgs[1].Body)
}

func TestConverseDeniedByPolicyNeverInvokes(t *testing.T) {
	fix := newFixture(t, false)
	fix.proj.Role("planner").Denied = []string{"converse"}
	fix.script.responses = []*contract.CompletionResponse{
		toolTurn("", call("t1", "converse", `{"role":"builder","message":"Ping"}`)),
		textTurn("Understood, I will work alone."),
	}

	ctx := context.Background()
	_, err := fix.inv.Invoke(ctx, fix.proj, fix.role(t, "planner"), testRequest("relay test"))
	require.NoError(t, err)

	sessions, err := fix.store.ListSessions(ctx, "widgets", 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	threads, err := fix.threads.List(ctx, "widgets", "", 10)
	require.NoError(t, err)
	assert.Empty(t, threads)

	last := lastMessage(t, fix.script.requests[1])
	assert.True(t, last.IsError)
	assert.Contains(t, last.Content, "denied")
}

func TestSendOpensTrackedIssueWithoutWaiting(t *testing.T) {
	fix := newFixture(t, false)
	fix.script.responses = []*contract.CompletionResponse{
		toolTurn("", call("t1", "send", `{"role":"builder","title":"Exporter handoff","message":"Please pick up the exporter batch job."}`)),
		textTurn("Handed off."),
	}

	ctx := context.Background()
	out, err := fix.inv.Invoke(ctx, fix.proj, fix.role(t, "planner"), testRequest("hand off the exporter"))
	require.NoError(t, err)
	assert.Equal(t, "Handed off.", out.Response)

	// No recursion: send returns without invoking builder.
	sessions, err := fix.store.ListSessions(ctx, "widgets", 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	require.Len(t, fix.forge.issues, 1)
	issue := fix.forge.issues[1]
	assert.Equal(t, "[builder] Exporter handoff", issue.Title)
	assert.Contains(t, issue.Body, "Please pick up the exporter batch job.")
	assert.Contains(t, issue.Body, "role:planner")
	assert.Contains(t, issue.Labels, "warden")
	assert.Contains(t, issue.Labels, "role:builder")

	threads, err := fix.threads.List(ctx, "widgets", "", 10)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	msgs, err := fix.store.ListThreadMessages(ctx, threads[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "Exporter handoff")

	last := lastMessage(t, fix.script.requests[1])
	assert.False(t, last.IsError)
	assert.Contains(t, last.Content, `"issue":1`)
	assert.Contains(t, last.Content, threads[0].ID)
}

func TestEndConversationResolvesThread(t *testing.T) {
	fix := newFixture(t, false)
	ctx := context.Background()

	th, _, err := fix.threads.FindOrCreate(ctx, "widgets",
		[]conversation.Participant{conversation.Role("planner"), conversation.Role("builder")}, "exporter")
	require.NoError(t, err)
	_, err = fix.threads.Append(ctx, th.ID, conversation.Role("builder"), "Exporter shipped.")
	require.NoError(t, err)

	fix.script.responses = []*contract.CompletionResponse{
		toolTurn("", call("t1", "end_conversation",
			fmt.Sprintf(`{"thread_id":%q,"resolution":"Shipped in 1.4."}`, th.ID))),
		textTurn("Closed out."),
	}

	_, err = fix.inv.Invoke(ctx, fix.proj, fix.role(t, "planner"), testRequest("close the exporter thread"))
	require.NoError(t, err)

	got, err := fix.store.GetThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ThreadResolved, got.Status)
	assert.Equal(t, "Shipped in 1.4.", got.Resolution)

	last := lastMessage(t, fix.script.requests[1])
	assert.False(t, last.IsError)
	assert.Contains(t, last.Content, "resolved")
}

func TestListConversationsShowsOnlyOwnThreads(t *testing.T) {
	fix := newFixture(t, false)
	ctx := context.Background()

	mine1, _, err := fix.threads.FindOrCreate(ctx, "widgets",
		[]conversation.Participant{conversation.Role("planner"), conversation.Role("builder")}, "exporter")
	require.NoError(t, err)
	mine2, _, err := fix.threads.FindOrCreate(ctx, "widgets",
		[]conversation.Participant{conversation.Role("planner"), conversation.Human("alice")}, "rollout")
	require.NoError(t, err)
	other, _, err := fix.threads.FindOrCreate(ctx, "widgets",
		[]conversation.Participant{conversation.Role("builder"), conversation.Human("bob")}, "ci flake")
	require.NoError(t, err)

	fix.script.responses = []*contract.CompletionResponse{
		toolTurn("", call("t1", "list_conversations", `{}`)),
		textTurn("Reviewed."),
	}

	_, err = fix.inv.Invoke(ctx, fix.proj, fix.role(t, "planner"), testRequest("review open threads"))
	require.NoError(t, err)

	last := lastMessage(t, fix.script.requests[1])
	assert.False(t, last.IsError)
	assert.Contains(t, last.Content, mine1.ID)
	assert.Contains(t, last.Content, mine2.ID)
	assert.NotContains(t, last.Content, other.ID)
}

func TestGetConversationReturnsTranscript(t *testing.T) {
	fix := newFixture(t, false)
	ctx := context.Background()

	th, _, err := fix.threads.FindOrCreate(ctx, "widgets",
		[]conversation.Participant{conversation.Role("planner"), conversation.Role("builder")}, "exporter")
	require.NoError(t, err)
	_, err = fix.threads.Append(ctx, th.ID, conversation.Role("planner"), "Status?")
	require.NoError(t, err)
	_, err = fix.threads.Append(ctx, th.ID, conversation.Role("builder"), "Half done.")
	require.NoError(t, err)

	fix.script.responses = []*contract.CompletionResponse{
		toolTurn("", call("t1", "get_conversation", fmt.Sprintf(`{"thread_id":%q}`, th.ID))),
		textTurn("Caught up."),
	}

	_, err = fix.inv.Invoke(ctx, fix.proj, fix.role(t, "planner"), testRequest("catch up"))
	require.NoError(t, err)

	last := lastMessage(t, fix.script.requests[1])
	assert.False(t, last.IsError)
	assert.Contains(t, last.Content, "Status?")
	assert.Contains(t, last.Content, "Half done.")
	assert.Contains(t, last.Content, "role:builder")
}

func TestGetConversationRefusesForeignProjectThread(t *testing.T) {
	fix := newFixture(t, false)
	ctx := context.Background()

	foreign := &store.Thread{
		ID:             "01JTHFOREIGN00000000000000",
		Project:        "gadgets",
		ParticipantKey: "role:planner|role:x",
		Participants:   []string{"role:planner", "role:x"},
		Status:         store.ThreadActive,
		CreatedAt:      testClock(),
		UpdatedAt:      testClock(),
	}
	require.NoError(t, fix.store.InsertThread(ctx, foreign))

	fix.script.responses = []*contract.CompletionResponse{
		toolTurn("", call("t1", "get_conversation", `{"thread_id":"01JTHFOREIGN00000000000000"}`)),
		textTurn("No such thread."),
	}

	_, err := fix.inv.Invoke(ctx, fix.proj, fix.role(t, "planner"), testRequest("peek"))
	require.NoError(t, err)

	last := lastMessage(t, fix.script.requests[1])
	assert.True(t, last.IsError)
	assert.Contains(t, last.Content, "not found")
}

func TestConversationDefsFollowRoleFiltering(t *testing.T) {
	open := &project.Role{Name: "r"}
	assert.Len(t, conversationDefs(open), 5)

	allowOnly := &project.Role{Name: "r", Allowed: []string{"converse"}}
	defs := conversationDefs(allowOnly)
	require.Len(t, defs, 1)
	assert.Equal(t, "converse", defs[0].Name)

	denied := &project.Role{Name: "r", Denied: []string{"send"}}
	defs = conversationDefs(denied)
	assert.Len(t, defs, 4)
	for _, def := range defs {
		assert.NotEqual(t, "send", def.Name)
	}
}
