package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/opsdesk/opsdesk/internal/errors"
	"github.com/opsdesk/opsdesk/internal/idp"
	"github.com/opsdesk/opsdesk/internal/log"
	"github.com/opsdesk/opsdesk/internal/metrics"
	"github.com/opsdesk/opsdesk/internal/permcache"
)

// verifyBackoff is how long to wait before the single claim
// verification retry after a token refresh still carries the old
// tenant. The identity provider propagates metadata into tokens
// asynchronously; one short wait covers the common lag.
const verifyBackoff = 500 * time.Millisecond

// ScopeReloadFunc is notified after a verified tenant switch so
// tenant-scoped state elsewhere can be rebuilt for the new tenant.
type ScopeReloadFunc func(tenantID string)

// Switcher changes the active tenant. A switch only commits, moving
// the directory pointer and swapping the permission cache, after the
// refreshed token verifiably claims the requested tenant. On any
// earlier failure the previous tenant remains fully in effect.
type Switcher struct {
	mu       sync.Mutex
	inFlight bool

	backend   Backend
	provider  idp.Provider
	directory *Directory
	loader    *permcache.Loader
	metrics   *metrics.Metrics
	logger    *log.Logger

	reloadHooks []ScopeReloadFunc

	// backoff and sleep are swappable in tests.
	backoff time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewSwitcher wires a switcher over the directory, provider, and
// permission loader.
func NewSwitcher(backend Backend, provider idp.Provider, directory *Directory, loader *permcache.Loader, m *metrics.Metrics, logger *log.Logger) *Switcher {
	return &Switcher{
		backend:   backend,
		provider:  provider,
		directory: directory,
		loader:    loader,
		metrics:   m,
		logger:    logger,
		backoff:   verifyBackoff,
		sleep:     sleepCtx,
	}
}

// OnScopeReload registers a hook invoked after every committed switch.
func (s *Switcher) OnScopeReload(fn ScopeReloadFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadHooks = append(s.reloadHooks, fn)
}

// SetVerifyBackoff overrides the claim verification backoff.
func (s *Switcher) SetVerifyBackoff(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoff = d
}

// Switch moves the active tenant to tenantID. The caller supplies the
// current session; on success the returned session carries a token
// whose active-tenant claim is the requested tenant.
//
// The steps are strictly ordered: validate membership, switch the
// backend context, update the identity metadata claim, refresh the
// token, then verify the claim in the refreshed token with at most one
// retry. Only after verification does the directory pointer move and
// the permission cache get invalidated and reprimed.
func (s *Switcher) Switch(ctx context.Context, session *idp.Session, tenantID string) (*idp.Session, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrCodeTenantSwitchInProgress, "tenant switch already in progress")
	}
	s.inFlight = true
	backoff := s.backoff
	sleep := s.sleep
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	fresh, err := s.doSwitch(ctx, session, tenantID, backoff, sleep)
	if s.metrics != nil {
		if err != nil {
			s.metrics.TenantSwitches.WithLabelValues("false").Inc()
		} else {
			s.metrics.TenantSwitches.WithLabelValues("true").Inc()
		}
	}
	return fresh, err
}

func (s *Switcher) doSwitch(ctx context.Context, session *idp.Session, tenantID string, backoff time.Duration, sleep func(context.Context, time.Duration) error) (*idp.Session, error) {
	if session == nil {
		return nil, errors.New(errors.ErrCodeSessionMissing, "no session to switch tenant within")
	}
	if tenantID == s.directory.ActiveID() {
		// Switching to the already-active tenant is a no-op.
		return session, nil
	}
	if !s.directory.IsMember(tenantID) {
		return nil, errors.NewTenantNotMemberError(tenantID)
	}

	result, err := s.backend.SwitchTenantContext(ctx, tenantID)
	if err != nil {
		return nil, errors.NewTenantSwitchFailedError(tenantID, err)
	}
	if !result.Success {
		return nil, errors.NewTenantSwitchFailedError(tenantID, nil)
	}

	if _, err := s.provider.UpdateIdentityMetadata(ctx, session.AccessToken, map[string]interface{}{
		idp.MetadataKeyActiveTenant: tenantID,
	}); err != nil {
		return nil, errors.NewTenantSwitchFailedError(tenantID, err)
	}

	fresh, err := s.provider.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		return nil, errors.NewTenantSwitchFailedError(tenantID, err)
	}

	fresh, err = s.verifyClaim(ctx, fresh, tenantID, backoff, sleep)
	if err != nil {
		return nil, err
	}

	s.commit(ctx, result, tenantID)
	if s.logger != nil {
		s.logger.Info("tenant switch committed",
			"tenant_id", tenantID,
			"token", idp.Fingerprint(fresh.AccessToken),
		)
	}
	return fresh, nil
}

// verifyClaim checks the active-tenant claim in the refreshed token and
// retries the refresh exactly once after a fixed backoff when the claim
// is stale. A second mismatch is a hard failure.
func (s *Switcher) verifyClaim(ctx context.Context, session *idp.Session, tenantID string, backoff time.Duration, sleep func(context.Context, time.Duration) error) (*idp.Session, error) {
	claim, err := idp.TenantClaimFromToken(session.AccessToken)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTokenInvalid, "failed to read tenant claim from refreshed token", err)
	}
	if claim == tenantID {
		return session, nil
	}

	if s.metrics != nil {
		s.metrics.TenantSwitchRetries.Inc()
	}
	if s.logger != nil {
		s.logger.Warn("tenant claim stale after refresh, retrying",
			"requested", tenantID,
			"claimed", claim,
		)
	}
	if err := sleep(ctx, backoff); err != nil {
		return nil, errors.Wrap(errors.ErrCodeTenantSwitchFailed, "tenant switch cancelled during verification backoff", err)
	}

	retried, err := s.provider.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		return nil, errors.NewTenantSwitchFailedError(tenantID, err)
	}
	claim, err = idp.TenantClaimFromToken(retried.AccessToken)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTokenInvalid, "failed to read tenant claim from refreshed token", err)
	}
	if claim != tenantID {
		return nil, errors.NewTenantContextNotUpdatedError(tenantID, claim)
	}
	return retried, nil
}

// commit moves the pointer, swaps the permission cache to the new
// tenant, and notifies scope reload hooks.
func (s *Switcher) commit(ctx context.Context, result SwitchResult, tenantID string) {
	s.directory.applySwitch(result)

	if s.loader != nil {
		s.loader.Cache().InvalidateAll()
		if s.metrics != nil {
			s.metrics.CacheInvalidations.WithLabelValues("tenant_switch").Inc()
		}
		if _, err := s.loader.Load(ctx, tenantID); err != nil && s.logger != nil {
			s.logger.WithError(err).Warn("permission reprime after tenant switch failed", "tenant_id", tenantID)
		}
	}

	s.mu.Lock()
	hooks := make([]ScopeReloadFunc, len(s.reloadHooks))
	copy(hooks, s.reloadHooks)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(tenantID)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
