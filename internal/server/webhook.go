package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/logger"
	"github.com/wardenhq/warden/internal/project"
	"github.com/wardenhq/warden/internal/request"
	"github.com/wardenhq/warden/internal/routing"
)

const (
	maxWebhookBody  = 1 << 20
	signatureHeader = "X-Hub-Signature-256"
	eventHeader     = "X-GitHub-Event"
	deliveryHeader  = "X-GitHub-Delivery"
)

type webhookUser struct {
	Login string `json:"login"`
}

type webhookLabel struct {
	Name string `json:"name"`
}

type webhookIssue struct {
	Number int            `json:"number"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Labels []webhookLabel `json:"labels"`
}

type webhookComment struct {
	Body string      `json:"body"`
	User webhookUser `json:"user"`
}

// webhookDelivery is the slice of a GitHub event payload this ingress
// reads. Issue and pull request events share the same shape.
type webhookDelivery struct {
	Action     string      `json:"action"`
	Sender     webhookUser `json:"sender"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Issue       *webhookIssue   `json:"issue"`
	PullRequest *webhookIssue   `json:"pull_request"`
	Comment     *webhookComment `json:"comment"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebhookSecret == "" {
		respondError(w, http.StatusServiceUnavailable, "webhook ingress is not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read delivery body")
		return
	}
	if !verifySignature(s.cfg.WebhookSecret, r.Header.Get(signatureHeader), body) {
		respondError(w, http.StatusUnauthorized, "signature mismatch")
		return
	}

	event := r.Header.Get(eventHeader)
	if event == "ping" {
		respond(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	}

	// The forge redelivers on timeout and on manual replay, under the
	// same delivery id. A replayed id is acknowledged without work.
	deliveryID := r.Header.Get(deliveryHeader)
	if s.deps.Deliveries != nil && deliveryID != "" && s.deps.Deliveries.Seen(deliveryID) {
		slog.Info("Webhook delivery replayed", "delivery", deliveryID, "event", event)
		respond(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	var delivery webhookDelivery
	if err := json.Unmarshal(body, &delivery); err != nil {
		respondError(w, http.StatusBadRequest, "invalid delivery payload")
		return
	}

	// Bot senders are dropped so the governor does not talk to itself
	// through the forge.
	sender := delivery.Sender.Login
	if strings.HasSuffix(sender, "[bot]") {
		respond(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	intent, payload := webhookIntent(event, &delivery)
	if intent == "" {
		respond(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	proj, err := s.projectForRepo(delivery.Repository.FullName)
	if err != nil {
		slog.Warn("Webhook delivery has no governing project",
			"repo", delivery.Repository.FullName,
			"event", event,
			"error", err)
		respondError(w, statusFor(err), err.Error())
		return
	}

	req := request.New(request.ChannelWebhook, sender, proj.Name, intent)
	for k, v := range payload {
		req.Payload[k] = v
	}
	req.Payload[request.PayloadEvent] = event

	slog.Info("Webhook accepted",
		"delivery", r.Header.Get(deliveryHeader),
		"event", event,
		"project", proj.Name,
		"request", req.ID,
		"sender", sender)

	s.background.Add(1)
	go s.runWebhookSession(proj, req)

	respond(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"request_id": req.ID,
	})
}

// runWebhookSession classifies, routes, and invokes on a fresh context.
// The delivery context ends at the 202; session length is bounded by
// the invoker's own ceilings.
func (s *Server) runWebhookSession(proj *project.Project, req *request.Request) {
	defer s.background.Done()
	// The router's recoverer ends at the 202, so this goroutine catches
	// its own panics.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Webhook session panicked",
				"request", req.ID,
				"project", proj.Name,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	ctx := logger.WithTraceID(context.Background(), req.ID)

	req.Trust = s.deps.Trust.Classify(ctx, req, proj)

	role, _, err := routing.Route(req, proj)
	if err != nil {
		slog.Error("Webhook request not routable",
			"request", req.ID,
			"project", proj.Name,
			"error", err)
		return
	}

	out, err := s.deps.Invoker.Invoke(ctx, proj, role, req)
	if err != nil {
		slog.Error("Webhook session failed",
			"request", req.ID,
			"project", proj.Name,
			"role", role.Name,
			"error", err)
		return
	}
	slog.Info("Webhook session finished",
		"request", req.ID,
		"session", out.Session.ID,
		"status", out.Session.Status)
}

// webhookIntent extracts the instruction and payload for the events
// this ingress acts on. An empty intent means the delivery is
// acknowledged and dropped.
func webhookIntent(event string, d *webhookDelivery) (string, map[string]string) {
	switch event {
	case "issues":
		if d.Issue == nil || !actionable(d.Action) {
			return "", nil
		}
		return issueIntent(d.Issue), issuePayload(d.Action, d.Issue)
	case "pull_request":
		if d.PullRequest == nil || !actionable(d.Action) {
			return "", nil
		}
		return issueIntent(d.PullRequest), issuePayload(d.Action, d.PullRequest)
	case "issue_comment":
		if d.Comment == nil || d.Issue == nil || d.Action != "created" {
			return "", nil
		}
		body := strings.TrimSpace(d.Comment.Body)
		if body == "" {
			return "", nil
		}
		return body, issuePayload(d.Action, d.Issue)
	}
	return "", nil
}

func actionable(action string) bool {
	switch action {
	case "opened", "reopened", "labeled":
		return true
	}
	return false
}

func issueIntent(issue *webhookIssue) string {
	title := strings.TrimSpace(issue.Title)
	body := strings.TrimSpace(issue.Body)
	if body == "" {
		return title
	}
	return title + "\n\n" + body
}

func issuePayload(action string, issue *webhookIssue) map[string]string {
	p := map[string]string{
		request.PayloadIssue:  strconv.Itoa(issue.Number),
		request.PayloadAction: action,
	}
	if len(issue.Labels) > 0 {
		names := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			names = append(names, l.Name)
		}
		p[request.PayloadLabels] = strings.Join(names, ",")
	}
	return p
}

// verifySignature checks the sha256= HMAC GitHub sends with each
// delivery. Comparison is constant time.
func verifySignature(secret, header string, body []byte) bool {
	signature, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	sum, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sum, mac.Sum(nil))
}

// projectForRepo finds the project whose configured repo matches the
// delivery's repository. Repo names compare case-insensitively, as the
// forge treats them.
func (s *Server) projectForRepo(fullName string) (*project.Project, error) {
	if strings.TrimSpace(fullName) == "" {
		return nil, wardenErrors.InvalidInput("delivery names no repository")
	}
	names, err := s.deps.Projects.List()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		proj, err := s.deps.Projects.Load(name)
		if err != nil {
			slog.Warn("Skipping unloadable project", "project", name, "error", err)
			continue
		}
		if strings.EqualFold(proj.Repo, fullName) {
			return proj, nil
		}
	}
	return nil, wardenErrors.NotFound("no project governs " + fullName)
}
