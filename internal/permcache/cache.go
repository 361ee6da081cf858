// Package permcache provides the per-tenant permission and feature-flag
// cache.
//
// Entries are keyed strictly by the tenant id supplied at read time,
// never by an implicit "current tenant" pointer, so data cached for one
// tenant can never be served while another is active. Entries are
// invalidated outright (not just aged out) on sign-out and on tenant
// switch.
package permcache

import (
	"sync"
	"time"
)

// Authorization is the per-tenant authorization data fetched from the
// backend.
type Authorization struct {
	// Permissions is the set of string capability grants.
	Permissions []string

	// FeatureFlags maps feature names to their enablement.
	FeatureFlags map[string]bool

	// WorkflowRoles are the finer-grained, more volatile roles used for
	// workflow-stage gating. They change more often than Permissions.
	WorkflowRoles []string
}

// HasPermission reports whether the authorization includes the grant.
func (a Authorization) HasPermission(permission string) bool {
	for _, p := range a.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// FeatureEnabled reports whether a feature flag is on.
func (a Authorization) FeatureEnabled(flag string) bool {
	return a.FeatureFlags[flag]
}

// Entry is a cached authorization snapshot for one tenant.
type Entry struct {
	TenantID      string
	Authorization Authorization
	FetchedAt     time.Time
}

// Cache is a TTL-bounded per-tenant authorization cache.
//
// Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the fresh entry for tenantID, or (nil, false) on a miss or
// when the entry has aged past the TTL.
func (c *Cache) Get(tenantID string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[tenantID]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.FetchedAt) > c.ttl {
		return nil, false
	}
	return entry, true
}

// GetStale returns the entry for tenantID regardless of age, or nil.
// Used as the fetch-failure fallback: stale-but-available beats
// empty-permissions.
func (c *Cache) GetStale(tenantID string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[tenantID]
}

// Set stores an authorization snapshot for tenantID.
func (c *Cache) Set(tenantID string, auth Authorization) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tenantID] = &Entry{
		TenantID:      tenantID,
		Authorization: auth,
		FetchedAt:     c.now(),
	}
}

// UpdateWorkflowRoles replaces only the workflow roles of an existing
// entry, leaving FetchedAt untouched so the coarser permission data keeps
// its original age.
func (c *Cache) UpdateWorkflowRoles(tenantID string, roles []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[tenantID]; ok {
		entry.Authorization.WorkflowRoles = roles
	}
}

// Invalidate removes the entry for tenantID.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
}

// InvalidateAll removes every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Len returns the number of cached entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
