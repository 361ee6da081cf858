package permcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuth(perms ...string) Authorization {
	return Authorization{
		Permissions:  perms,
		FeatureFlags: map[string]bool{"reports": true},
	}
}

func TestCache_SetGet(t *testing.T) {
	cache := NewCache(time.Minute)

	cache.Set("tenant-1", testAuth("orders:read", "orders:write"))

	entry, ok := cache.Get("tenant-1")
	require.True(t, ok)
	assert.Equal(t, "tenant-1", entry.TenantID)
	assert.True(t, entry.Authorization.HasPermission("orders:read"))
	assert.False(t, entry.Authorization.HasPermission("orders:delete"))
	assert.True(t, entry.Authorization.FeatureEnabled("reports"))
	assert.False(t, entry.Authorization.FeatureEnabled("exports"))

	_, ok = cache.Get("tenant-2")
	assert.False(t, ok)
}

func TestCache_NoCrossTenantLeakage(t *testing.T) {
	cache := NewCache(time.Minute)

	cache.Set("tenant-a", testAuth("inventory:admin"))
	cache.Set("tenant-b", testAuth("orders:read"))

	// Lookups are keyed by the id given at read time; simulate an
	// arbitrary switch sequence and verify each key only ever returns
	// its own data.
	for i := 0; i < 10; i++ {
		a, ok := cache.Get("tenant-a")
		require.True(t, ok)
		assert.True(t, a.Authorization.HasPermission("inventory:admin"))
		assert.False(t, a.Authorization.HasPermission("orders:read"))

		b, ok := cache.Get("tenant-b")
		require.True(t, ok)
		assert.True(t, b.Authorization.HasPermission("orders:read"))
		assert.False(t, b.Authorization.HasPermission("inventory:admin"))
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	cache := NewCache(time.Minute)

	current := time.Now()
	cache.now = func() time.Time { return current }

	cache.Set("tenant-1", testAuth("orders:read"))

	_, ok := cache.Get("tenant-1")
	assert.True(t, ok)

	// Step past the TTL: fresh lookups miss, stale lookups still serve
	current = current.Add(2 * time.Minute)

	_, ok = cache.Get("tenant-1")
	assert.False(t, ok)

	stale := cache.GetStale("tenant-1")
	require.NotNil(t, stale)
	assert.True(t, stale.Authorization.HasPermission("orders:read"))
}

func TestCache_Invalidate(t *testing.T) {
	cache := NewCache(time.Minute)

	cache.Set("tenant-1", testAuth("a"))
	cache.Set("tenant-2", testAuth("b"))

	cache.Invalidate("tenant-1")
	_, ok := cache.Get("tenant-1")
	assert.False(t, ok)
	assert.Nil(t, cache.GetStale("tenant-1"), "invalidation removes the entry outright")

	_, ok = cache.Get("tenant-2")
	assert.True(t, ok)

	cache.InvalidateAll()
	assert.Equal(t, 0, cache.Len())
	assert.Nil(t, cache.GetStale("tenant-2"))
}

func TestCache_UpdateWorkflowRoles(t *testing.T) {
	cache := NewCache(time.Minute)

	cache.Set("tenant-1", testAuth("orders:read"))
	before, ok := cache.Get("tenant-1")
	require.True(t, ok)
	fetchedAt := before.FetchedAt

	cache.UpdateWorkflowRoles("tenant-1", []string{"picker", "packer"})

	after, ok := cache.Get("tenant-1")
	require.True(t, ok)
	assert.Equal(t, []string{"picker", "packer"}, after.Authorization.WorkflowRoles)
	assert.Equal(t, fetchedAt, after.FetchedAt, "workflow update must not reset the entry age")
	assert.True(t, after.Authorization.HasPermission("orders:read"))

	// No-op for unknown tenants
	cache.UpdateWorkflowRoles("tenant-9", []string{"x"})
	_, ok = cache.Get("tenant-9")
	assert.False(t, ok)
}
