package invoker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wardenhq/warden/internal/conversation"
	"github.com/wardenhq/warden/internal/project"
	"github.com/wardenhq/warden/internal/request"
	"github.com/wardenhq/warden/internal/store"
)

const operatingRules = `Record a decision with record_decision, including your reasoning, for every significant action you take. Use the conversation tools to involve other roles when their input matters, and resolve threads that have served their purpose. When you cannot act, say why instead of guessing.`

// buildSystem assembles the system context for one session: role
// instructions, project policy, semantically relevant prior decisions,
// published knowledge and the open conversations this role is part of.
// Everything past the instructions is best-effort; a failed lookup drops
// its section rather than the invocation.
func (inv *Invoker) buildSystem(ctx context.Context, f *frame) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an agent role on project %s.", f.role.Name, f.proj.Name)
	if f.role.Purpose != "" {
		fmt.Fprintf(&b, " Your purpose: %s.", strings.TrimSuffix(f.role.Purpose, "."))
	}
	b.WriteString("\n")

	if f.role.Instructions != "" {
		section(&b, "Instructions", f.role.Instructions)
	}
	if f.proj.Policy != "" {
		section(&b, "Project policy", f.proj.Policy)
	}
	section(&b, "Operating rules", operatingRules)

	if prior := inv.priorDecisions(ctx, f); prior != "" {
		section(&b, "Prior decisions", prior)
	}
	if knowledge := inv.knowledge(ctx, f.proj); knowledge != "" {
		section(&b, "Knowledge", knowledge)
	}
	if open := inv.openThreads(ctx, f); open != "" {
		section(&b, "Open conversations", open)
	}
	return b.String()
}

// priorDecisions searches the decision index with the request intent.
func (inv *Invoker) priorDecisions(ctx context.Context, f *frame) string {
	if inv.deps.Embedder == nil || strings.TrimSpace(f.req.Intent) == "" {
		return ""
	}
	vec, err := inv.deps.Embedder.Embed(ctx, f.req.Intent)
	if err != nil {
		slog.Warn("Decision search skipped", "session", f.sess.ID, "error", err)
		return ""
	}
	matches, err := inv.deps.Store.SearchDecisionVectors(ctx, f.proj.Name, vec, 5)
	if err != nil {
		slog.Warn("Decision search skipped", "session", f.sess.ID, "error", err)
		return ""
	}

	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "- #%d %s: %s\n", m.Number, m.Title, excerpt(m.Content, 240))
	}
	return b.String()
}

// knowledge merges the pages declared in project config with pages
// published through the wiki tools. Config pages win on slug collisions.
func (inv *Invoker) knowledge(ctx context.Context, proj *project.Project) string {
	seen := make(map[string]bool, len(proj.Knowledge))
	var b strings.Builder
	for _, page := range proj.Knowledge {
		seen[page.Slug] = true
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", page.Title, excerpt(page.Body, 600))
	}

	published, err := inv.deps.Store.ListWikiDrafts(ctx, proj.Name, store.WikiPublishedStatus, 20)
	if err != nil {
		slog.Warn("Published pages skipped", "project", proj.Name, "error", err)
		published = nil
	}
	for _, page := range published {
		if seen[page.Slug] {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", page.Title, excerpt(page.Content, 600))
	}
	return strings.TrimRight(b.String(), "\n")
}

// openThreads lists the active conversations involving this role.
func (inv *Invoker) openThreads(ctx context.Context, f *frame) string {
	threads, err := inv.deps.Threads.OpenFor(ctx, f.proj.Name, conversation.Role(f.role.Name))
	if err != nil {
		slog.Warn("Open threads skipped", "session", f.sess.ID, "error", err)
		return ""
	}

	self := conversation.Role(f.role.Name).String()
	var b strings.Builder
	for _, t := range threads {
		others := make([]string, 0, len(t.Participants))
		for _, p := range t.Participants {
			if p != self {
				others = append(others, p)
			}
		}
		fmt.Fprintf(&b, "- %s with %s", t.ID, strings.Join(others, ", "))
		if t.Topic != "" {
			fmt.Fprintf(&b, " on %q", t.Topic)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// openingMessage renders the inbound request as the first user turn.
func openingMessage(req *request.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request via %s", req.Channel)
	if req.Identity != "" {
		fmt.Fprintf(&b, " from %s", req.Identity)
	}
	if issue := req.Payload[request.PayloadIssue]; issue != "" {
		fmt.Fprintf(&b, " about issue #%s", issue)
	}
	b.WriteString(":\n\n")
	b.WriteString(req.Intent)
	return b.String()
}

// conversationOpening renders a thread transcript as the first user turn
// of a recursive invocation.
func (inv *Invoker) conversationOpening(ctx context.Context, thread *store.Thread, from string) (string, error) {
	transcript, err := inv.deps.Threads.Transcript(ctx, thread.ID, 50)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are in conversation thread %s", thread.ID)
	if thread.Topic != "" {
		fmt.Fprintf(&b, " about %q", thread.Topic)
	}
	b.WriteString(". Transcript so far:\n\n")
	b.WriteString(transcript)
	fmt.Fprintf(&b, "\nReply to the latest message from %s.", from)
	return b.String(), nil
}

func section(b *strings.Builder, title, body string) {
	b.WriteString("\n# ")
	b.WriteString(title)
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n")
}
