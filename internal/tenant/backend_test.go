package tenant

import (
	"context"
	"sync"

	"github.com/opsdesk/opsdesk/internal/permcache"
)

// fakeBackend is a scriptable Backend for tests.
type fakeBackend struct {
	mu sync.Mutex

	memberships []Membership
	listErr     error
	listCalls   int
	listGate    chan struct{} // when non-nil, ListUserTenants blocks until closed
	listStarted chan struct{} // when non-nil, closed once ListUserTenants is entered

	switchErr    error
	switchDenied bool
	switchCalls  int
	switchGate   chan struct{}

	auths     map[string]permcache.Authorization
	authErr   error
	authCalls int
}

func (f *fakeBackend) ListUserTenants(ctx context.Context) ([]Membership, error) {
	f.mu.Lock()
	f.listCalls++
	started := f.listStarted
	gate := f.listGate
	f.mu.Unlock()

	if started != nil {
		close(started)
		f.mu.Lock()
		f.listStarted = nil
		f.mu.Unlock()
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Membership, len(f.memberships))
	copy(out, f.memberships)
	return out, nil
}

func (f *fakeBackend) SwitchTenantContext(ctx context.Context, tenantID string) (SwitchResult, error) {
	f.mu.Lock()
	f.switchCalls++
	gate := f.switchGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.switchErr != nil {
		return SwitchResult{}, f.switchErr
	}
	if f.switchDenied {
		return SwitchResult{Success: false, TenantID: tenantID}, nil
	}
	for _, m := range f.memberships {
		if m.TenantID == tenantID {
			return SwitchResult{
				Success:    true,
				TenantID:   m.TenantID,
				TenantName: m.TenantName,
				TenantSlug: m.TenantSlug,
				Role:       m.Role,
			}, nil
		}
	}
	return SwitchResult{Success: false, TenantID: tenantID}, nil
}

func (f *fakeBackend) FetchAuthorization(ctx context.Context, tenantID string) (permcache.Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if f.authErr != nil {
		return permcache.Authorization{}, f.authErr
	}
	return f.auths[tenantID], nil
}

func (f *fakeBackend) FetchWorkflowRoles(ctx context.Context, tenantID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auths[tenantID].WorkflowRoles, nil
}

func (f *fakeBackend) BootstrapContext(ctx context.Context) (Bootstrap, error) {
	memberships, err := f.ListUserTenants(ctx)
	if err != nil {
		return Bootstrap{}, err
	}

	active := ""
	for _, m := range memberships {
		if m.IsActive {
			active = m.TenantID
			break
		}
	}
	if active == "" && len(memberships) > 0 {
		active = memberships[0].TenantID
	}

	auth, err := f.FetchAuthorization(ctx, active)
	if err != nil {
		return Bootstrap{}, err
	}
	return Bootstrap{Memberships: memberships, Authorization: auth}, nil
}
