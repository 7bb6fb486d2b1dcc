package trust

import (
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/request"
)

func TestPermissionCache_GetSet(t *testing.T) {
	c := NewPermissionCache(time.Minute)
	now := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)
	c.Now = func() time.Time { return now }

	if _, ok := c.Get("widgets", "octocat"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set("widgets", "octocat", request.TrustAuthorized)

	level, ok := c.Get("widgets", "octocat")
	if !ok || level != request.TrustAuthorized {
		t.Fatalf("expected hit with authorized, got %v ok=%v", level, ok)
	}

	// Same identity under another project is a separate entry.
	if _, ok := c.Get("gadgets", "octocat"); ok {
		t.Error("expected miss for other project")
	}
}

func TestPermissionCache_Expiry(t *testing.T) {
	c := NewPermissionCache(time.Minute)
	now := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)
	c.Now = func() time.Time { return now }

	c.Set("widgets", "octocat", request.TrustElevated)

	now = now.Add(59 * time.Second)
	if _, ok := c.Get("widgets", "octocat"); !ok {
		t.Error("expected hit inside TTL")
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("widgets", "octocat"); ok {
		t.Error("expected miss past TTL")
	}
}
