// Package tenant implements the tenant directory and the tenant switch
// protocol.
//
// The directory holds the set of tenants the signed-in identity may act
// within and which one is active. The switcher changes the active tenant
// while keeping the signed session token consistent with that choice.
package tenant

import (
	"context"
	"time"

	"github.com/opsdesk/opsdesk/internal/authz"
	"github.com/opsdesk/opsdesk/internal/permcache"
)

// Membership is one tenant the identity may operate within.
type Membership struct {
	TenantID    string     `json:"tenant_id"`
	TenantName  string     `json:"tenant_name"`
	TenantSlug  string     `json:"tenant_slug"`
	Role        authz.Role `json:"role"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt time.Time  `json:"last_login_at"`
}

// SwitchResult is the backend's response to a tenant context switch.
type SwitchResult struct {
	Success    bool       `json:"success"`
	TenantID   string     `json:"tenant_id"`
	TenantName string     `json:"tenant_name"`
	TenantSlug string     `json:"tenant_slug"`
	Role       authz.Role `json:"role"`
}

// Bootstrap is the batched sign-in payload: tenant list plus the
// authorization data for the initial active tenant, fetched in a single
// round trip so consumers never observe a partially initialized context.
type Bootstrap struct {
	Memberships   []Membership
	Authorization permcache.Authorization
}

// Backend is the remote API surface this subsystem consumes.
//
// Implementations carry the caller's credentials; every call is scoped
// to the signed-in identity.
type Backend interface {
	// ListUserTenants returns the tenants the identity belongs to.
	ListUserTenants(ctx context.Context) ([]Membership, error)

	// SwitchTenantContext validates membership and moves the backend's
	// tenant context. It must reject identities that are not members.
	SwitchTenantContext(ctx context.Context, tenantID string) (SwitchResult, error)

	// FetchAuthorization returns permissions, feature flags, and
	// workflow roles for the tenant.
	FetchAuthorization(ctx context.Context, tenantID string) (permcache.Authorization, error)

	// FetchWorkflowRoles returns only the volatile workflow roles.
	FetchWorkflowRoles(ctx context.Context, tenantID string) ([]string, error)

	// BootstrapContext performs the batched post-sign-in fetch.
	BootstrapContext(ctx context.Context) (Bootstrap, error)
}
