// Package project holds the per-project governance configuration: roles,
// their trust acceptance sets, tool allow/deny lists, constraints, and
// routing overrides. Everything here is read-only at invocation time.
package project

import (
	"strings"

	"github.com/wardenhq/warden/internal/request"
)

type Project struct {
	Name      string
	Repo      string
	Policy    string
	Routing   map[string][]string
	Knowledge []KnowledgePage
	Roles     []*Role
}

// KnowledgePage is a published wiki page fed into agent context.
type KnowledgePage struct {
	Slug  string
	Title string
	Body  string
}

// Role returns the role with the given name, or nil.
func (p *Project) Role(name string) *Role {
	for _, r := range p.Roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// OwnerRepo splits the configured "owner/name" repository slug.
func (p *Project) OwnerRepo() (string, string) {
	owner, repo, ok := strings.Cut(p.Repo, "/")
	if !ok {
		return "", p.Repo
	}
	return owner, repo
}

type Role struct {
	Name         string
	Purpose      string
	Trust        []request.TrustLevel
	Allowed      []string
	Denied       []string
	Significant  []string
	Constraints  []ConstraintDecl
	Instructions string
	Model        string
	MaxTokens    int
}

// AcceptsTrust reports whether the role admits requests at the given level.
func (r *Role) AcceptsTrust(level request.TrustLevel) bool {
	for _, t := range r.Trust {
		if t == level {
			return true
		}
	}
	return false
}

// Denies reports whether the tool is on the role's deny list. Deny always
// wins over allow; callers must check this first.
func (r *Role) Denies(tool string) bool {
	for _, name := range r.Denied {
		if strings.EqualFold(tool, name) {
			return true
		}
	}
	return false
}

// Allows reports whether the tool passes the role's allow list. An empty
// allow list admits every tool not denied.
func (r *Role) Allows(tool string) bool {
	if len(r.Allowed) == 0 {
		return true
	}
	for _, name := range r.Allowed {
		if strings.EqualFold(tool, name) {
			return true
		}
	}
	return false
}

// IsSignificant reports whether the tool requires decision logging.
func (r *Role) IsSignificant(tool string) bool {
	for _, name := range r.Significant {
		if strings.EqualFold(tool, name) {
			return true
		}
	}
	return false
}
