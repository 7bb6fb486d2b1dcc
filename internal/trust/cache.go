package trust

import (
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/request"
)

// PermissionCache holds classified trust levels keyed by (project,
// identity) for a fixed TTL. Reads are lock-free; a stale read within the
// TTL window is acceptable because repository permissions change rarely
// and the cache only ever shortcuts a lookup that would return the same
// level.
type PermissionCache struct {
	entries sync.Map
	ttl     time.Duration

	// Now is the clock, swappable in tests.
	Now func() time.Time
}

type cacheEntry struct {
	level     request.TrustLevel
	expiresAt time.Time
}

func NewPermissionCache(ttl time.Duration) *PermissionCache {
	return &PermissionCache{ttl: ttl, Now: time.Now}
}

func cacheKey(project, identity string) string {
	return project + "\x00" + identity
}

// Get returns the cached level for the identity, or false when the entry
// is missing or expired. Expired entries are dropped on read.
func (c *PermissionCache) Get(project, identity string) (request.TrustLevel, bool) {
	val, ok := c.entries.Load(cacheKey(project, identity))
	if !ok {
		return request.TrustAnonymous, false
	}

	entry := val.(cacheEntry)
	if c.Now().After(entry.expiresAt) {
		c.entries.Delete(cacheKey(project, identity))
		return request.TrustAnonymous, false
	}
	return entry.level, true
}

// Set stores the level with the configured TTL.
func (c *PermissionCache) Set(project, identity string, level request.TrustLevel) {
	c.entries.Store(cacheKey(project, identity), cacheEntry{
		level:     level,
		expiresAt: c.Now().Add(c.ttl),
	})
}
