package tenant

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/opsdesk/internal/authz"
	"github.com/opsdesk/opsdesk/internal/errors"
)

func twoTenants() []Membership {
	return []Membership{
		{TenantID: "tenant-1", TenantName: "Acme North", TenantSlug: "acme-north", Role: authz.RoleAdmin},
		{TenantID: "tenant-2", TenantName: "Acme South", TenantSlug: "acme-south", Role: authz.RoleViewer},
	}
}

func TestDirectory_RefreshDefaultsFirstTenantActive(t *testing.T) {
	backend := &fakeBackend{memberships: twoTenants()}
	dir := NewDirectory(backend, nil, nil)
	dir.BindIdentity("user-1")

	require.NoError(t, dir.Refresh(context.Background()))

	assert.Equal(t, "tenant-1", dir.ActiveID())
	memberships := dir.Memberships()
	require.Len(t, memberships, 2)
	assert.True(t, memberships[0].IsActive)
	assert.False(t, memberships[1].IsActive)
}

func TestDirectory_RefreshHonorsBackendActiveFlag(t *testing.T) {
	memberships := twoTenants()
	memberships[1].IsActive = true
	backend := &fakeBackend{memberships: memberships}
	dir := NewDirectory(backend, nil, nil)
	dir.BindIdentity("user-1")

	require.NoError(t, dir.Refresh(context.Background()))

	assert.Equal(t, "tenant-2", dir.ActiveID())
}

func TestDirectory_RefreshWithoutIdentityResetsEmpty(t *testing.T) {
	backend := &fakeBackend{memberships: twoTenants()}
	dir := NewDirectory(backend, nil, nil)

	dir.BindIdentity("user-1")
	require.NoError(t, dir.Refresh(context.Background()))
	require.Len(t, dir.Memberships(), 2)

	// With no identity bound, refresh empties the directory instead of
	// fetching; the backend is never called.
	dir.Reset()
	calls := backend.listCalls
	require.NoError(t, dir.Refresh(context.Background()))
	assert.Empty(t, dir.Memberships())
	assert.Empty(t, dir.ActiveID())
	assert.Equal(t, calls, backend.listCalls)
}

func TestDirectory_RefreshSingleFlight(t *testing.T) {
	backend := &fakeBackend{
		memberships: twoTenants(),
		listGate:    make(chan struct{}),
		listStarted: make(chan struct{}),
	}
	dir := NewDirectory(backend, nil, nil)
	dir.BindIdentity("user-1")

	done := make(chan error, 1)
	go func() {
		done <- dir.Refresh(context.Background())
	}()

	<-backend.listStarted
	err := dir.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTenantFetchInProgress, errors.CodeOf(err))

	close(backend.listGate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, backend.listCalls)
}

func TestDirectory_FailedRefreshLatches(t *testing.T) {
	backend := &fakeBackend{
		memberships: twoTenants(),
		listErr:     fmt.Errorf("backend unavailable"),
	}
	dir := NewDirectory(backend, nil, nil)
	dir.BindIdentity("user-1")

	err := dir.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTenantFetchFailed, errors.CodeOf(err))
	assert.True(t, dir.Failed())

	// The latch suppresses further automatic refreshes without a
	// backend round trip.
	err = dir.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTenantFetchFailed, errors.CodeOf(err))
	assert.Equal(t, 1, backend.listCalls)

	// ForceRefresh is the manual retry path.
	backend.mu.Lock()
	backend.listErr = nil
	backend.mu.Unlock()
	require.NoError(t, dir.ForceRefresh(context.Background()))
	assert.False(t, dir.Failed())
	assert.Len(t, dir.Memberships(), 2)
}

func TestDirectory_BindIdentityClearsLatch(t *testing.T) {
	backend := &fakeBackend{listErr: fmt.Errorf("backend unavailable")}
	dir := NewDirectory(backend, nil, nil)
	dir.BindIdentity("user-1")

	require.Error(t, dir.Refresh(context.Background()))
	require.True(t, dir.Failed())

	dir.BindIdentity("user-2")
	assert.False(t, dir.Failed())
	assert.Empty(t, dir.Memberships())
	assert.Empty(t, dir.ActiveID())
}

func TestDirectory_RebindSameIdentityKeepsState(t *testing.T) {
	backend := &fakeBackend{memberships: twoTenants()}
	dir := NewDirectory(backend, nil, nil)
	dir.BindIdentity("user-1")
	require.NoError(t, dir.Refresh(context.Background()))

	dir.BindIdentity("user-1")

	assert.Equal(t, "tenant-1", dir.ActiveID())
	assert.Len(t, dir.Memberships(), 2)
}

func TestDirectory_ActivePointerSurvivesRefresh(t *testing.T) {
	backend := &fakeBackend{memberships: twoTenants()}
	dir := NewDirectory(backend, nil, nil)
	dir.BindIdentity("user-1")
	require.NoError(t, dir.Refresh(context.Background()))

	dir.applySwitch(SwitchResult{Success: true, TenantID: "tenant-2"})
	require.Equal(t, "tenant-2", dir.ActiveID())

	// A later refresh must not move the pointer back to the default.
	require.NoError(t, dir.Refresh(context.Background()))
	assert.Equal(t, "tenant-2", dir.ActiveID())

	active, ok := dir.Active()
	require.True(t, ok)
	assert.True(t, active.IsActive)
	assert.Equal(t, "Acme South", active.TenantName)
}

func TestDirectory_Prime(t *testing.T) {
	dir := NewDirectory(&fakeBackend{}, nil, nil)
	dir.BindIdentity("user-1")

	dir.Prime(twoTenants())

	assert.Equal(t, "tenant-1", dir.ActiveID())
	assert.True(t, dir.IsMember("tenant-2"))
	assert.False(t, dir.IsMember("tenant-9"))
}

func TestDirectory_Reset(t *testing.T) {
	backend := &fakeBackend{memberships: twoTenants()}
	dir := NewDirectory(backend, nil, nil)
	dir.BindIdentity("user-1")
	require.NoError(t, dir.Refresh(context.Background()))

	dir.Reset()

	assert.Empty(t, dir.ActiveID())
	assert.Empty(t, dir.Memberships())
	_, ok := dir.Active()
	assert.False(t, ok)
}

func TestDirectory_DiscardsResultAfterIdentityChange(t *testing.T) {
	backend := &fakeBackend{
		memberships: twoTenants(),
		listGate:    make(chan struct{}),
		listStarted: make(chan struct{}),
	}
	dir := NewDirectory(backend, nil, nil)
	dir.BindIdentity("user-1")

	done := make(chan error, 1)
	go func() {
		done <- dir.Refresh(context.Background())
	}()

	<-backend.listStarted
	dir.BindIdentity("user-2")
	close(backend.listGate)

	err := <-done
	require.Error(t, err)
	assert.Empty(t, dir.Memberships())
}
