package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/config"
	wardenErrors "github.com/wardenhq/warden/internal/errors"
)

const userAgent = "Warden/1.0"

type ghUser struct {
	Login string `json:"login"`
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghIssue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	HTMLURL   string    `json:"html_url"`
	User      ghUser    `json:"user"`
	Labels    []ghLabel `json:"labels"`
	CreatedAt time.Time `json:"created_at"`
}

type ghComment struct {
	ID      int64  `json:"id"`
	HTMLURL string `json:"html_url"`
}

type ghPermission struct {
	Permission string `json:"permission"`
	RoleName   string `json:"role_name"`
}

type ghError struct {
	Message string `json:"message"`
}

// GitHubClient is a thin typed client over the GitHub REST v3 API.
type GitHubClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewGitHubClient(cfg config.ForgeConfig) (*GitHubClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = config.DefaultForgeBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, wardenErrors.Configuration(fmt.Sprintf("invalid forge.base_url: %v", err))
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, wardenErrors.Configuration("invalid forge.base_url")
	}

	timeout, err := config.DurationOrDefault(cfg.Timeout, config.DefaultForgeTimeout)
	if err != nil {
		return nil, wardenErrors.Configuration(fmt.Sprintf("invalid forge.timeout: %v", err))
	}

	return &GitHubClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *GitHubClient) Permission(ctx context.Context, owner, repo, username string) (string, error) {
	if strings.TrimSpace(username) == "" {
		return PermissionNone, nil
	}

	path := fmt.Sprintf("/repos/%s/%s/collaborators/%s/permission",
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(username))

	var perm ghPermission
	err := c.do(ctx, http.MethodGet, path, nil, &perm)
	if err != nil {
		// Non-collaborators come back 404.
		if wardenErrors.IsNotFound(err) {
			return PermissionNone, nil
		}
		return "", err
	}

	// role_name carries the full tier set; permission collapses
	// maintain/triage into write/read on older deployments.
	if perm.RoleName != "" {
		return strings.ToLower(perm.RoleName), nil
	}
	if perm.Permission != "" {
		return strings.ToLower(perm.Permission), nil
	}
	return PermissionNone, nil
}

func (c *GitHubClient) CreateIssue(ctx context.Context, owner, repo string, issue NewIssue) (*Issue, error) {
	if strings.TrimSpace(issue.Title) == "" {
		return nil, wardenErrors.InvalidInput("issue title is required")
	}

	path := fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(owner), url.PathEscape(repo))
	payload := map[string]interface{}{
		"title": issue.Title,
		"body":  issue.Body,
	}
	if len(issue.Labels) > 0 {
		payload["labels"] = issue.Labels
	}

	var created ghIssue
	if err := c.do(ctx, http.MethodPost, path, payload, &created); err != nil {
		return nil, err
	}
	return mapIssue(created), nil
}

func (c *GitHubClient) Comment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, wardenErrors.InvalidInput("comment body is required")
	}

	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", url.PathEscape(owner), url.PathEscape(repo), number)

	var comment ghComment
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, &comment); err != nil {
		return nil, err
	}
	return &Comment{ID: comment.ID, URL: comment.HTMLURL}, nil
}

func (c *GitHubClient) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	if len(labels) == 0 {
		return wardenErrors.InvalidInput("at least one label is required")
	}

	path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", url.PathEscape(owner), url.PathEscape(repo), number)
	return c.do(ctx, http.MethodPost, path, map[string][]string{"labels": labels}, nil)
}

func (c *GitHubClient) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", url.PathEscape(owner), url.PathEscape(repo), number)

	var issue ghIssue
	if err := c.do(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, err
	}
	return mapIssue(issue), nil
}

func (c *GitHubClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", userAgent)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return wardenErrors.MapExternal(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return wardenErrors.MapExternal(err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.statusError(resp.StatusCode, raw)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode forge response: %w", err)
		}
	}
	return nil
}

func (c *GitHubClient) statusError(status int, raw []byte) error {
	var apiErr ghError
	_ = json.Unmarshal(raw, &apiErr)
	message := apiErr.Message
	if message == "" {
		message = http.StatusText(status)
	}
	message = fmt.Sprintf("forge: %s (status %d)", message, status)

	switch {
	case status == http.StatusNotFound:
		return wardenErrors.NotFound(message)
	case status == http.StatusUnauthorized:
		return wardenErrors.Unauthorized(message)
	case status == http.StatusForbidden:
		if strings.Contains(strings.ToLower(message), "rate limit") {
			return wardenErrors.Transient(message)
		}
		return wardenErrors.PermissionDenied(message)
	case status == http.StatusUnprocessableEntity:
		return wardenErrors.InvalidInput(message)
	case status == http.StatusConflict:
		return fmt.Errorf("%s: %w", message, wardenErrors.ErrConflict)
	case status >= http.StatusInternalServerError:
		return wardenErrors.Transient(message)
	default:
		return wardenErrors.Internal(message)
	}
}

func mapIssue(issue ghIssue) *Issue {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}
	return &Issue{
		Number:    issue.Number,
		Title:     issue.Title,
		Body:      issue.Body,
		State:     issue.State,
		URL:       issue.HTMLURL,
		Author:    issue.User.Login,
		Labels:    labels,
		CreatedAt: issue.CreatedAt,
	}
}
