// Package trust maps each inbound request to one of the four ordered
// trust levels. Webhook identities are resolved through a live repository
// permission lookup with a short-lived cache; everything else is static
// per channel. Classification never escalates on failure: when the
// lookup is unavailable the conservative fallback wins.
package trust

import (
	"context"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/internal/forge"
	"github.com/wardenhq/warden/internal/project"
	"github.com/wardenhq/warden/internal/request"
)

type Classifier struct {
	forge forge.Forge
	cache *PermissionCache
}

func NewClassifier(f forge.Forge, cacheTTL time.Duration) *Classifier {
	return &Classifier{
		forge: f,
		cache: NewPermissionCache(cacheTTL),
	}
}

// Cache exposes the permission cache, mainly so tests can inject a clock.
func (c *Classifier) Cache() *PermissionCache {
	return c.cache
}

// Classify resolves the trust level for a request against its project.
// API keys are checked by the server before a request exists, so the api
// channel is statically authorized; the cli channel runs as the operator
// and is elevated. Internal requests keep the trust stamped by the parent
// session.
func (c *Classifier) Classify(ctx context.Context, req *request.Request, proj *project.Project) request.TrustLevel {
	switch req.Channel {
	case request.ChannelAPI:
		return request.TrustAuthorized
	case request.ChannelCLI:
		return request.TrustElevated
	case request.ChannelInternal:
		return req.Trust
	}

	fallback := request.TrustAnonymous
	if req.Channel.Authenticated() {
		fallback = request.TrustContributor
	}
	if req.Identity == "" {
		return fallback
	}

	if level, ok := c.cache.Get(proj.Name, req.Identity); ok {
		return level
	}

	owner, repo := proj.OwnerRepo()
	perm, err := c.forge.Permission(ctx, owner, repo, req.Identity)
	if err != nil {
		slog.Warn("Permission lookup failed, falling back",
			"project", proj.Name,
			"identity", req.Identity,
			"fallback", fallback.String(),
			"error", err)
		return fallback
	}

	level := levelFor(perm)
	c.cache.Set(proj.Name, req.Identity, level)
	slog.Debug("Trust classified",
		"project", proj.Name,
		"identity", req.Identity,
		"permission", perm,
		"trust", level.String())
	return level
}

func levelFor(permission string) request.TrustLevel {
	switch permission {
	case forge.PermissionAdmin, forge.PermissionMaintain:
		return request.TrustElevated
	case forge.PermissionWrite:
		return request.TrustAuthorized
	case forge.PermissionTriage, forge.PermissionRead:
		return request.TrustContributor
	default:
		return request.TrustAnonymous
	}
}
