// Package handlers provides the in-process governance tools that ship
// with the daemon: decision records, challenges, wiki pages, dev
// sessions, session introspection and forge operations. Each set is
// constructed per invocation and bound to the scope it acts for, so
// every row it writes is attributed to the right project, role and
// session.
package handlers

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/forge"
	"github.com/wardenhq/warden/internal/model"
	"github.com/wardenhq/warden/internal/policy"
	"github.com/wardenhq/warden/internal/project"
	"github.com/wardenhq/warden/internal/request"
	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/tooling"
)

// Deps are the process-wide collaborators shared by every handler set.
type Deps struct {
	Store   *store.Store
	Forge   forge.Forge
	Embed   model.Embedder
	Audit   *policy.Auditor
	DataDir string

	// Now is the clock for every stamp the handlers write. Tests swap it.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Scope binds a handler set to one invocation.
type Scope struct {
	Project *project.Project
	Role    *project.Role
	Session *store.Session
	Request *request.Request
}

func (s *Scope) projectName() string {
	if s == nil || s.Project == nil {
		return ""
	}
	return s.Project.Name
}

func (s *Scope) roleName() string {
	if s == nil || s.Role == nil {
		return ""
	}
	return s.Role.Name
}

func (s *Scope) sessionID() string {
	if s == nil || s.Session == nil {
		return ""
	}
	return s.Session.ID
}

// actor names who a row is written for. Rows carry the requesting
// identity when one exists; unattended runs fall back to the role.
func (s *Scope) actor() string {
	if s != nil && s.Request != nil && s.Request.Identity != "" {
		return s.Request.Identity
	}
	if name := s.roleName(); name != "" {
		return "agent:" + name
	}
	return "agent"
}

// All assembles every handler set for one invocation. Forge operations
// are only offered when a forge client is configured.
func All(deps *Deps, scope *Scope) []tooling.Handler {
	hs := make([]tooling.Handler, 0, 19)
	hs = append(hs, Decision(deps, scope)...)
	hs = append(hs, Challenge(deps, scope)...)
	hs = append(hs, Wiki(deps, scope)...)
	hs = append(hs, DevSession(deps, scope)...)
	hs = append(hs, Introspect(deps, scope)...)
	if deps.Forge != nil {
		hs = append(hs, ForgeOps(deps, scope)...)
	}
	return hs
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
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(raw), nil
}

func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
