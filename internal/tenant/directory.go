package tenant

import (
	"context"
	"sync"

	"github.com/opsdesk/opsdesk/internal/errors"
	"github.com/opsdesk/opsdesk/internal/log"
	"github.com/opsdesk/opsdesk/internal/metrics"
)

// Directory tracks the signed-in identity's tenant memberships and the
// active tenant pointer.
//
// Refresh is single-flight: a second refresh while one is in progress
// fails fast instead of queueing. A failed refresh latches a flag that
// suppresses further automatic refreshes until the bound identity
// changes; ForceRefresh clears the latch for a manual retry.
type Directory struct {
	mu sync.Mutex

	backend Backend
	metrics *metrics.Metrics
	logger  *log.Logger

	identityID      string
	memberships     []Membership
	activeID        string
	fetchInProgress bool
	failed          bool
}

// NewDirectory creates a directory with no bound identity.
func NewDirectory(backend Backend, m *metrics.Metrics, logger *log.Logger) *Directory {
	return &Directory{
		backend: backend,
		metrics: m,
		logger:  logger,
	}
}

// BindIdentity associates the directory with an identity. Binding a
// different identity (or none) drops all tenant state and clears the
// failed-refresh latch. Re-binding the same identity is a no-op.
func (d *Directory) BindIdentity(identityID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if identityID == d.identityID {
		return
	}

	d.identityID = identityID
	d.memberships = nil
	d.activeID = ""
	d.failed = false
}

// Reset drops all tenant state including the identity binding. Called
// on sign-out.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.identityID = ""
	d.memberships = nil
	d.activeID = ""
	d.failed = false
}

// Refresh fetches the membership list from the backend. When no
// identity is bound it resets to empty and clears the active tenant,
// without error; absence of identity is expected, not exceptional.
// It fails fast when a refresh is already in flight or when a previous
// refresh failed and the latch has not been cleared.
func (d *Directory) Refresh(ctx context.Context) error {
	return d.refresh(ctx, false)
}

// ForceRefresh clears the failed-refresh latch and refreshes. This is
// the manual-retry path; automatic callers use Refresh.
func (d *Directory) ForceRefresh(ctx context.Context) error {
	return d.refresh(ctx, true)
}

func (d *Directory) refresh(ctx context.Context, force bool) error {
	d.mu.Lock()
	if d.identityID == "" {
		d.memberships = nil
		d.activeID = ""
		d.failed = false
		d.mu.Unlock()
		return nil
	}
	if d.fetchInProgress {
		d.mu.Unlock()
		return errors.NewTenantFetchInProgressError()
	}
	if d.failed && !force {
		d.mu.Unlock()
		return errors.NewTenantFetchFailedError()
	}
	if force {
		d.failed = false
	}
	d.fetchInProgress = true
	identityID := d.identityID
	d.mu.Unlock()

	memberships, err := d.backend.ListUserTenants(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetchInProgress = false

	// The identity may have changed while the fetch was in flight.
	// Discard results that belong to a previous binding.
	if d.identityID != identityID {
		return errors.New(errors.ErrCodeSessionMissing, "identity changed during tenant refresh")
	}

	if err != nil {
		d.failed = true
		if d.metrics != nil {
			d.metrics.TenantRefreshes.WithLabelValues("failure").Inc()
		}
		if d.logger != nil {
			d.logger.WithError(err).Warn("tenant list refresh failed")
		}
		return errors.Wrap(errors.ErrCodeTenantFetchFailed, "failed to fetch tenant list", err)
	}

	d.applyMemberships(memberships)
	if d.metrics != nil {
		d.metrics.TenantRefreshes.WithLabelValues("success").Inc()
	}
	return nil
}

// Prime installs a membership list obtained out of band, typically from
// the batched sign-in bootstrap, without a backend round trip.
func (d *Directory) Prime(memberships []Membership) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = false
	d.applyMemberships(memberships)
}

// applyMemberships replaces the list and settles the active pointer.
// Callers hold d.mu.
func (d *Directory) applyMemberships(memberships []Membership) {
	d.memberships = make([]Membership, len(memberships))
	copy(d.memberships, memberships)

	// Prefer the backend's notion of the active tenant when we have
	// none yet; otherwise keep the current pointer. The active tenant
	// is never cleared here, only on Reset or BindIdentity.
	if d.activeID == "" {
		for _, m := range d.memberships {
			if m.IsActive {
				d.activeID = m.TenantID
				break
			}
		}
	}
	if d.activeID == "" && len(d.memberships) > 0 {
		d.activeID = d.memberships[0].TenantID
	}
	d.markActive()
}

// markActive aligns IsActive flags with the pointer. Callers hold d.mu.
func (d *Directory) markActive() {
	for i := range d.memberships {
		d.memberships[i].IsActive = d.memberships[i].TenantID == d.activeID
	}
}

// Memberships returns a copy of the current tenant list.
func (d *Directory) Memberships() []Membership {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Membership, len(d.memberships))
	copy(out, d.memberships)
	return out
}

// Active returns the active tenant's membership, if any.
func (d *Directory) Active() (Membership, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range d.memberships {
		if m.TenantID == d.activeID {
			return m, true
		}
	}
	return Membership{}, false
}

// ActiveID returns the active tenant id, or "" when none is set.
func (d *Directory) ActiveID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeID
}

// IsMember reports whether the identity belongs to the tenant.
func (d *Directory) IsMember(tenantID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range d.memberships {
		if m.TenantID == tenantID {
			return true
		}
	}
	return false
}

// Failed reports whether the last refresh failed and the latch is set.
func (d *Directory) Failed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed
}

// applySwitch moves the active pointer after a verified switch and
// folds the backend's updated membership fields into the list.
func (d *Directory) applySwitch(result SwitchResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.activeID = result.TenantID
	for i := range d.memberships {
		if d.memberships[i].TenantID != result.TenantID {
			continue
		}
		if result.TenantName != "" {
			d.memberships[i].TenantName = result.TenantName
		}
		if result.TenantSlug != "" {
			d.memberships[i].TenantSlug = result.TenantSlug
		}
		if result.Role != "" {
			d.memberships[i].Role = result.Role
		}
	}
	d.markActive()
}
