// Package forge talks to the code host. Everything above it depends on
// the Forge interface; the GitHub client is the only implementation.
package forge

import (
	"context"
	"time"
)

// Permission strings as the host reports them, from weakest to strongest:
// none, read, triage, write, maintain, admin.
const (
	PermissionNone     = "none"
	PermissionRead     = "read"
	PermissionTriage   = "triage"
	PermissionWrite    = "write"
	PermissionMaintain = "maintain"
	PermissionAdmin    = "admin"
)

type Forge interface {
	// Permission reports username's access to the repository. Unknown
	// users yield PermissionNone, not an error.
	Permission(ctx context.Context, owner, repo, username string) (string, error)

	CreateIssue(ctx context.Context, owner, repo string, issue NewIssue) (*Issue, error)
	Comment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error)
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error)
}

type NewIssue struct {
	Title  string
	Body   string
	Labels []string
}

type Issue struct {
	Number    int
	Title     string
	Body      string
	State     string
	URL       string
	Author    string
	Labels    []string
	CreatedAt time.Time
}

type Comment struct {
	ID  int64
	URL string
}
