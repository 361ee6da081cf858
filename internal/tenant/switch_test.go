package tenant

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/opsdesk/internal/errors"
	"github.com/opsdesk/opsdesk/internal/idp"
	"github.com/opsdesk/opsdesk/internal/permcache"
)

type switchFixture struct {
	provider *idp.LocalProvider
	backend  *fakeBackend
	dir      *Directory
	cache    *permcache.Cache
	switcher *Switcher
	session  *idp.Session
}

func newSwitchFixture(t *testing.T) *switchFixture {
	t.Helper()

	signer := idp.NewTokenSigner([]byte("switch-test-signing-key-0123456789ab"), "opsdesk-test", time.Hour)
	provider := idp.NewLocalProvider(signer, idp.LocalProviderConfig{})

	session, err := provider.SignUp(context.Background(), "switch@example.com", "correct-horse", "Switch Tester")
	require.NoError(t, err)

	// Seed the active-tenant claim and refresh so the starting token
	// carries tenant-1 like a real post-sign-in session would.
	_, err = provider.UpdateIdentityMetadata(context.Background(), session.AccessToken, map[string]interface{}{
		idp.MetadataKeyActiveTenant: "tenant-1",
	})
	require.NoError(t, err)
	session, err = provider.RefreshSession(context.Background(), session.RefreshToken)
	require.NoError(t, err)

	backend := &fakeBackend{
		memberships: twoTenants(),
		auths: map[string]permcache.Authorization{
			"tenant-1": {Permissions: []string{"orders.read", "orders.write"}},
			"tenant-2": {Permissions: []string{"orders.read"}},
		},
	}

	dir := NewDirectory(backend, nil, nil)
	dir.BindIdentity(session.Identity.ID)
	dir.Prime(backend.memberships)
	require.Equal(t, "tenant-1", dir.ActiveID())

	cache := permcache.NewCache(5 * time.Minute)
	loader := permcache.NewLoader(cache, backend.FetchAuthorization, nil, nil, nil)

	switcher := NewSwitcher(backend, provider, dir, loader, nil, nil)
	switcher.SetVerifyBackoff(time.Millisecond)

	return &switchFixture{
		provider: provider,
		backend:  backend,
		dir:      dir,
		cache:    cache,
		switcher: switcher,
		session:  session,
	}
}

func TestSwitcher_CommitsAfterVerification(t *testing.T) {
	fx := newSwitchFixture(t)

	var reloaded []string
	fx.switcher.OnScopeReload(func(tenantID string) {
		reloaded = append(reloaded, tenantID)
	})

	fresh, err := fx.switcher.Switch(context.Background(), fx.session, "tenant-2")
	require.NoError(t, err)
	require.NotNil(t, fresh)

	claim, err := idp.TenantClaimFromToken(fresh.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "tenant-2", claim)

	assert.Equal(t, "tenant-2", fx.dir.ActiveID())
	active, ok := fx.dir.Active()
	require.True(t, ok)
	assert.True(t, active.IsActive)

	// The old tenant's entry is gone and the new one is primed.
	_, ok = fx.cache.Get("tenant-1")
	assert.False(t, ok)
	entry, ok := fx.cache.Get("tenant-2")
	require.True(t, ok)
	assert.True(t, entry.Authorization.HasPermission("orders.read"))
	assert.False(t, entry.Authorization.HasPermission("orders.write"))

	assert.Equal(t, []string{"tenant-2"}, reloaded)
}

func TestSwitcher_RetriesOnceOnStaleClaim(t *testing.T) {
	fx := newSwitchFixture(t)

	// The first refresh after the metadata update still serves the old
	// tenant claim; the retry sees the fresh one.
	fx.provider.SetMetadataPropagationLag(1)

	fresh, err := fx.switcher.Switch(context.Background(), fx.session, "tenant-2")
	require.NoError(t, err)

	claim, err := idp.TenantClaimFromToken(fresh.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "tenant-2", claim)
	assert.Equal(t, "tenant-2", fx.dir.ActiveID())
}

func TestSwitcher_HardFailureWhenClaimNeverUpdates(t *testing.T) {
	fx := newSwitchFixture(t)

	// Seed a cached entry for the current tenant so we can observe
	// that a failed switch leaves the cache alone.
	_, ok := fx.cache.Get("tenant-1")
	require.False(t, ok)
	fx.cache.Set("tenant-1", permcache.Authorization{Permissions: []string{"orders.read"}})

	// Both the refresh and the single retry serve the stale claim.
	fx.provider.SetMetadataPropagationLag(2)

	_, err := fx.switcher.Switch(context.Background(), fx.session, "tenant-2")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTenantContextNotUpdated, errors.CodeOf(err))

	// Previous tenant context stays fully in effect.
	assert.Equal(t, "tenant-1", fx.dir.ActiveID())
	_, ok = fx.cache.Get("tenant-1")
	assert.True(t, ok)
	_, ok = fx.cache.Get("tenant-2")
	assert.False(t, ok)
}

func TestSwitcher_RejectsNonMember(t *testing.T) {
	fx := newSwitchFixture(t)

	_, err := fx.switcher.Switch(context.Background(), fx.session, "tenant-9")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTenantNotMember, errors.CodeOf(err))
	assert.Equal(t, 0, fx.backend.switchCalls)
	assert.Equal(t, "tenant-1", fx.dir.ActiveID())
}

func TestSwitcher_AlreadyActiveIsNoOp(t *testing.T) {
	fx := newSwitchFixture(t)

	fresh, err := fx.switcher.Switch(context.Background(), fx.session, "tenant-1")
	require.NoError(t, err)
	assert.Same(t, fx.session, fresh)
	assert.Equal(t, 0, fx.backend.switchCalls)
}

func TestSwitcher_BackendDenial(t *testing.T) {
	fx := newSwitchFixture(t)
	fx.backend.switchDenied = true

	_, err := fx.switcher.Switch(context.Background(), fx.session, "tenant-2")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTenantSwitchFailed, errors.CodeOf(err))
	assert.Equal(t, "tenant-1", fx.dir.ActiveID())
}

func TestSwitcher_BackendError(t *testing.T) {
	fx := newSwitchFixture(t)
	fx.backend.switchErr = fmt.Errorf("backend unavailable")

	_, err := fx.switcher.Switch(context.Background(), fx.session, "tenant-2")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTenantSwitchFailed, errors.CodeOf(err))
}

func TestSwitcher_RequiresSession(t *testing.T) {
	fx := newSwitchFixture(t)

	_, err := fx.switcher.Switch(context.Background(), nil, "tenant-2")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSessionMissing, errors.CodeOf(err))
}

func TestSwitcher_SingleFlight(t *testing.T) {
	fx := newSwitchFixture(t)
	fx.backend.switchGate = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	firstErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		_, err := fx.switcher.Switch(context.Background(), fx.session, "tenant-2")
		firstErr <- err
	}()

	// Wait until the first switch is inside the backend call.
	require.Eventually(t, func() bool {
		fx.backend.mu.Lock()
		defer fx.backend.mu.Unlock()
		return fx.backend.switchCalls == 1
	}, time.Second, time.Millisecond)

	_, err := fx.switcher.Switch(context.Background(), fx.session, "tenant-2")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTenantSwitchInProgress, errors.CodeOf(err))

	close(fx.backend.switchGate)
	wg.Wait()
	require.NoError(t, <-firstErr)
	assert.Equal(t, "tenant-2", fx.dir.ActiveID())
}
