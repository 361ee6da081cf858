package tenant

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsdesk/opsdesk/internal/authz"
	"github.com/opsdesk/opsdesk/internal/errors"
	"github.com/opsdesk/opsdesk/internal/idp"
	"github.com/opsdesk/opsdesk/internal/permcache"
)

// LocalBackend is an in-process Backend over a seeded tenant registry.
//
// It resolves the calling identity through the identity provider's
// current session, mirroring how a hosted backend would read it from
// the request credentials.
type LocalBackend struct {
	mu sync.Mutex

	provider idp.Provider

	tenants map[string]*tenantRecord
	// grants maps identity email to tenant id to role.
	grants map[string]map[string]authz.Role
	// activeByEmail tracks each identity's active tenant.
	activeByEmail map[string]string
	lastLogin     map[string]map[string]time.Time

	now func() time.Time
}

type tenantRecord struct {
	id   string
	name string
	slug string
	auth permcache.Authorization
}

// Seed is the YAML shape of the tenant registry file.
type Seed struct {
	Tenants []SeedTenant `yaml:"tenants"`
	Grants  []SeedGrant  `yaml:"grants"`
}

// SeedTenant declares one tenant and its authorization data.
type SeedTenant struct {
	ID            string            `yaml:"id"`
	Name          string            `yaml:"name"`
	Slug          string            `yaml:"slug"`
	Authorization SeedAuthorization `yaml:"authorization"`
}

// SeedAuthorization is the per-tenant permission payload.
type SeedAuthorization struct {
	Permissions   []string        `yaml:"permissions"`
	FeatureFlags  map[string]bool `yaml:"feature_flags"`
	WorkflowRoles []string        `yaml:"workflow_roles"`
}

// SeedGrant makes an identity a member of a tenant.
type SeedGrant struct {
	Email    string `yaml:"email"`
	TenantID string `yaml:"tenant_id"`
	Role     string `yaml:"role"`
}

// NewLocalBackend creates an empty registry resolving identities via
// provider.
func NewLocalBackend(provider idp.Provider) *LocalBackend {
	return &LocalBackend{
		provider:      provider,
		tenants:       make(map[string]*tenantRecord),
		grants:        make(map[string]map[string]authz.Role),
		activeByEmail: make(map[string]string),
		lastLogin:     make(map[string]map[string]time.Time),
		now:           time.Now,
	}
}

// LoadSeed reads a YAML seed file into the registry.
func (b *LocalBackend) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigRead, "failed to read tenant seed file", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(errors.ErrCodeConfigRead, "failed to parse tenant seed file", err)
	}
	return b.ApplySeed(seed)
}

// ApplySeed installs tenants and grants from a parsed seed.
func (b *LocalBackend) ApplySeed(seed Seed) error {
	for _, st := range seed.Tenants {
		if st.ID == "" {
			return errors.New(errors.ErrCodeConfigInvalid, "tenant seed entry missing id")
		}
		b.AddTenant(st.ID, st.Name, st.Slug, permcache.Authorization{
			Permissions:   st.Authorization.Permissions,
			FeatureFlags:  st.Authorization.FeatureFlags,
			WorkflowRoles: st.Authorization.WorkflowRoles,
		})
	}
	for _, g := range seed.Grants {
		role := authz.ParseRole(g.Role)
		if err := b.Grant(g.Email, g.TenantID, role); err != nil {
			return err
		}
	}
	return nil
}

// AddTenant registers or replaces a tenant.
func (b *LocalBackend) AddTenant(id, name, slug string, auth permcache.Authorization) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tenants[id] = &tenantRecord{id: id, name: name, slug: slug, auth: auth}
}

// Grant makes the identity with the given email a member of tenantID.
func (b *LocalBackend) Grant(email, tenantID string, role authz.Role) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tenants[tenantID]; !ok {
		return errors.New(errors.ErrCodeConfigInvalid, "grant references unknown tenant: "+tenantID)
	}
	if b.grants[email] == nil {
		b.grants[email] = make(map[string]authz.Role)
	}
	b.grants[email][tenantID] = role
	return nil
}

// identityEmail resolves the calling identity from the provider.
func (b *LocalBackend) identityEmail(ctx context.Context) (string, error) {
	session, err := b.provider.CurrentSession(ctx)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeProviderFailure, "failed to resolve calling identity", err)
	}
	if session == nil {
		return "", errors.New(errors.ErrCodeSessionMissing, "no signed-in identity")
	}
	return session.Identity.Email, nil
}

// ListUserTenants returns the caller's memberships in tenant-id order.
func (b *LocalBackend) ListUserTenants(ctx context.Context) ([]Membership, error) {
	email, err := b.identityEmail(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.membershipsLocked(email), nil
}

func (b *LocalBackend) membershipsLocked(email string) []Membership {
	active := b.activeByEmail[email]
	out := make([]Membership, 0, len(b.grants[email]))
	for tenantID, role := range b.grants[email] {
		record, ok := b.tenants[tenantID]
		if !ok {
			continue
		}
		m := Membership{
			TenantID:   record.id,
			TenantName: record.name,
			TenantSlug: record.slug,
			Role:       role,
			IsActive:   tenantID == active,
		}
		if logins := b.lastLogin[email]; logins != nil {
			m.LastLoginAt = logins[tenantID]
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// SwitchTenantContext validates membership and moves the caller's
// server-side tenant context.
func (b *LocalBackend) SwitchTenantContext(ctx context.Context, tenantID string) (SwitchResult, error) {
	email, err := b.identityEmail(ctx)
	if err != nil {
		return SwitchResult{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	role, ok := b.grants[email][tenantID]
	if !ok {
		return SwitchResult{Success: false, TenantID: tenantID}, nil
	}
	record := b.tenants[tenantID]

	b.activeByEmail[email] = tenantID
	if b.lastLogin[email] == nil {
		b.lastLogin[email] = make(map[string]time.Time)
	}
	b.lastLogin[email][tenantID] = b.now()

	return SwitchResult{
		Success:    true,
		TenantID:   record.id,
		TenantName: record.name,
		TenantSlug: record.slug,
		Role:       role,
	}, nil
}

// FetchAuthorization returns the tenant's permission payload, scoped to
// the caller's membership.
func (b *LocalBackend) FetchAuthorization(ctx context.Context, tenantID string) (permcache.Authorization, error) {
	email, err := b.identityEmail(ctx)
	if err != nil {
		return permcache.Authorization{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.grants[email][tenantID]; !ok {
		return permcache.Authorization{}, errors.NewTenantNotMemberError(tenantID)
	}
	record, ok := b.tenants[tenantID]
	if !ok {
		return permcache.Authorization{}, errors.New(errors.ErrCodePermissionFetchFailed, "unknown tenant: "+tenantID)
	}
	return record.auth, nil
}

// FetchWorkflowRoles returns only the tenant's workflow roles.
func (b *LocalBackend) FetchWorkflowRoles(ctx context.Context, tenantID string) ([]string, error) {
	auth, err := b.FetchAuthorization(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return auth.WorkflowRoles, nil
}

// BootstrapContext returns the caller's memberships plus the
// authorization payload for their active tenant in one call.
func (b *LocalBackend) BootstrapContext(ctx context.Context) (Bootstrap, error) {
	email, err := b.identityEmail(ctx)
	if err != nil {
		return Bootstrap{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	memberships := b.membershipsLocked(email)

	active := b.activeByEmail[email]
	if active == "" && len(memberships) > 0 {
		active = memberships[0].TenantID
		b.activeByEmail[email] = active
		for i := range memberships {
			memberships[i].IsActive = memberships[i].TenantID == active
		}
	}

	var auth permcache.Authorization
	if record, ok := b.tenants[active]; ok {
		auth = record.auth
	}
	return Bootstrap{Memberships: memberships, Authorization: auth}, nil
}
