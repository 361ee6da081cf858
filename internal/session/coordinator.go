// Package session owns the sign-in lifecycle.
//
// The Coordinator is the single writer of session state. Everything the
// rest of the process needs to know (who is signed in, which tenant is
// active, what the identity may do there) is read through immutable
// Snapshot copies, either polled or received over a subscription
// channel.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/opsdesk/opsdesk/internal/errors"
	"github.com/opsdesk/opsdesk/internal/idp"
	"github.com/opsdesk/opsdesk/internal/log"
	"github.com/opsdesk/opsdesk/internal/metrics"
	"github.com/opsdesk/opsdesk/internal/permcache"
	"github.com/opsdesk/opsdesk/internal/tenant"
)

// Status is the coarse lifecycle state.
type Status string

const (
	StatusSignedOut Status = "signed_out"
	StatusLoading   Status = "loading"
	StatusSignedIn  Status = "signed_in"
)

// SignOutReason distinguishes a deliberate sign-out from one forced by
// token expiry or external revocation. The two surface differently:
// expiry is reported to the user, a deliberate sign-out is not.
type SignOutReason string

const (
	ReasonUserInitiated SignOutReason = "user_initiated"
	ReasonExpired       SignOutReason = "expired"
)

// Snapshot is an immutable view of the session state. All slices and
// maps are copies; holding a Snapshot never observes later changes.
type Snapshot struct {
	Status         Status
	Identity       idp.Identity
	Session        *idp.Session
	ActiveTenantID string
	Memberships    []tenant.Membership
	Authorization  permcache.Authorization
	RememberMe     bool
}

// SignedIn reports whether the snapshot carries an authenticated session.
func (s Snapshot) SignedIn() bool {
	return s.Status == StatusSignedIn && s.Session != nil
}

// Coordinator drives sign-in, sign-out, tenant switching, and the
// reaction to asynchronous provider events.
type Coordinator struct {
	mu sync.Mutex

	provider  idp.Provider
	backend   tenant.Backend
	directory *tenant.Directory
	loader    *permcache.Loader
	switcher  *tenant.Switcher
	store     *StateStore
	metrics   *metrics.Metrics
	logger    *log.Logger

	snapshot Snapshot

	signInInProgress bool
	// userInitiatedSignOut is set before the remote sign-out call so the
	// provider's SIGNED_OUT event can be told apart from an external one.
	userInitiatedSignOut bool

	subscribers map[int]chan Snapshot
	nextSubID   int

	unsubscribe func()

	now func() time.Time
}

// Config carries the coordinator's collaborators.
type Config struct {
	Provider  idp.Provider
	Backend   tenant.Backend
	Directory *tenant.Directory
	Loader    *permcache.Loader
	Switcher  *tenant.Switcher
	Store     *StateStore
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

// NewCoordinator creates a coordinator and subscribes it to provider
// events. Call Close to drop the subscription.
func NewCoordinator(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.DefaultLogger()
	}

	c := &Coordinator{
		provider:    cfg.Provider,
		backend:     cfg.Backend,
		directory:   cfg.Directory,
		loader:      cfg.Loader,
		switcher:    cfg.Switcher,
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		logger:      logger,
		snapshot:    Snapshot{Status: StatusSignedOut},
		subscribers: make(map[int]chan Snapshot),
		now:         time.Now,
	}
	c.unsubscribe = cfg.Provider.Subscribe(c.handleEvent)
	return c
}

// Close drops the provider event subscription.
func (c *Coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// Snapshot returns a copy of the current session state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copySnapshotLocked()
}

// Subscribe registers for snapshot notifications. The channel is
// buffered; a slow consumer misses intermediate snapshots rather than
// blocking the coordinator. cancel removes the subscription.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan Snapshot, 8)
	c.subscribers[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
	return ch, cancel
}

// Initialize restores session state at startup. Three outcomes: a valid
// stored session populates the full context, an absent session leaves
// the coordinator signed out, and a provider error is logged and
// likewise leaves it signed out. None of these returns an error.
func (c *Coordinator) Initialize(ctx context.Context) {
	c.mu.Lock()
	c.snapshot.Status = StatusLoading
	c.mu.Unlock()
	c.notify()

	// The loading flag must clear exactly once on every path.
	settled := false
	defer func() {
		if !settled {
			c.setSignedOut()
		}
	}()

	session, err := c.provider.CurrentSession(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("session restore failed")
		return
	}
	if session == nil {
		c.logger.Debug("no stored session, starting signed out")
		return
	}

	var persisted PersistedState
	if c.store != nil {
		persisted, err = c.store.Load()
		if err != nil {
			c.logger.WithError(err).Warn("failed to load persisted state")
			persisted = PersistedState{}
		}
	}

	c.directory.BindIdentity(session.Identity.ID)
	if err := c.bootstrap(ctx, session, persisted.RememberMe); err != nil {
		c.logger.WithError(err).Warn("context bootstrap failed during restore")
		return
	}
	settled = true
	c.logger.Info("session restored",
		"user_id", session.Identity.ID,
		"token", idp.Fingerprint(session.AccessToken),
	)
}

// SignIn authenticates and bootstraps the tenant context in one batched
// round trip. Concurrent calls fail fast with a login-in-progress
// error. Provider errors surface to the caller unchanged.
func (c *Coordinator) SignIn(ctx context.Context, email, password string, rememberMe bool) error {
	c.mu.Lock()
	if c.signInInProgress {
		c.mu.Unlock()
		return errors.NewLoginInProgressError()
	}
	c.signInInProgress = true
	c.snapshot.Status = StatusLoading
	c.mu.Unlock()
	c.notify()

	start := c.now()
	err := c.signIn(ctx, email, password, rememberMe)

	c.mu.Lock()
	c.signInInProgress = false
	if err != nil {
		c.snapshot.Status = StatusSignedOut
	}
	c.mu.Unlock()

	if c.metrics != nil {
		success := "true"
		if err != nil {
			success = "false"
		}
		c.metrics.SignIns.WithLabelValues(success).Inc()
		c.metrics.SignInDuration.WithLabelValues(success).Observe(c.now().Sub(start).Seconds())
	}
	if err != nil {
		c.notify()
	}
	return err
}

func (c *Coordinator) signIn(ctx context.Context, email, password string, rememberMe bool) error {
	session, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return err
	}

	c.directory.BindIdentity(session.Identity.ID)
	if err := c.bootstrap(ctx, session, rememberMe); err != nil {
		return err
	}

	if c.store != nil {
		state := PersistedState{
			RememberMe:       rememberMe,
			LastActiveTenant: c.directory.ActiveID(),
			Email:            session.Identity.Email,
		}
		if err := c.store.Save(state); err != nil {
			c.logger.WithError(err).Warn("failed to persist session state")
		}
	}

	c.logger.Info("signed in",
		"user_id", session.Identity.ID,
		"tenant_id", c.directory.ActiveID(),
		"token", idp.Fingerprint(session.AccessToken),
	)
	return nil
}

// bootstrap performs the batched post-sign-in fetch and applies the
// result as one atomic snapshot update, so no observer ever sees a
// session without its tenant context.
func (c *Coordinator) bootstrap(ctx context.Context, session *idp.Session, rememberMe bool) error {
	boot, err := c.backend.BootstrapContext(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeTenantFetchFailed, "context bootstrap failed", err)
	}

	c.directory.Prime(boot.Memberships)
	activeID := c.directory.ActiveID()
	if activeID != "" && c.loader != nil {
		c.loader.Cache().Set(activeID, boot.Authorization)
	}

	c.mu.Lock()
	c.snapshot = Snapshot{
		Status:         StatusSignedIn,
		Identity:       session.Identity,
		Session:        session,
		ActiveTenantID: activeID,
		Memberships:    c.directory.Memberships(),
		Authorization:  boot.Authorization,
		RememberMe:     rememberMe,
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// SignOut ends the session. The remote revocation is best-effort: a
// failure is logged and local state is cleared regardless.
func (c *Coordinator) SignOut(ctx context.Context, reason SignOutReason) {
	c.mu.Lock()
	session := c.snapshot.Session
	c.userInitiatedSignOut = reason == ReasonUserInitiated
	c.mu.Unlock()

	if session != nil {
		if err := c.provider.SignOut(ctx, session.AccessToken); err != nil {
			c.logger.WithError(err).Warn("remote sign-out failed, clearing local state anyway")
		}
	}

	c.clearSessionState(reason)
}

// clearSessionState drops every piece of session-scoped state: the
// snapshot, the tenant directory, the permission cache, and the
// persisted file.
func (c *Coordinator) clearSessionState(reason SignOutReason) {
	c.directory.Reset()
	if c.loader != nil {
		c.loader.Cache().InvalidateAll()
		if c.metrics != nil {
			c.metrics.CacheInvalidations.WithLabelValues("sign_out").Inc()
		}
	}
	if c.store != nil {
		if err := c.store.Clear(); err != nil {
			c.logger.WithError(err).Warn("failed to clear persisted state")
		}
	}

	c.mu.Lock()
	c.snapshot = Snapshot{Status: StatusSignedOut}
	c.userInitiatedSignOut = false
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SignOuts.WithLabelValues(string(reason)).Inc()
	}
	c.logger.Info("signed out", "reason", string(reason))
	c.notify()
}

// SwitchTenant runs the tenant switch protocol and, on success, folds
// the verified session and rebuilt tenant context into the snapshot.
func (c *Coordinator) SwitchTenant(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	session := c.snapshot.Session
	rememberMe := c.snapshot.RememberMe
	c.mu.Unlock()

	if session == nil {
		return errors.New(errors.ErrCodeSessionMissing, "not signed in")
	}

	fresh, err := c.switcher.Switch(ctx, session, tenantID)
	if err != nil {
		return err
	}

	auth, err := c.loader.Load(ctx, tenantID)
	if err != nil {
		c.logger.WithError(err).Warn("permission load after tenant switch failed", "tenant_id", tenantID)
	}

	c.mu.Lock()
	c.snapshot.Session = fresh
	c.snapshot.Identity = fresh.Identity
	c.snapshot.ActiveTenantID = c.directory.ActiveID()
	c.snapshot.Memberships = c.directory.Memberships()
	c.snapshot.Authorization = auth
	c.mu.Unlock()

	if c.store != nil {
		state := PersistedState{
			RememberMe:       rememberMe,
			LastActiveTenant: tenantID,
			Email:            fresh.Identity.Email,
		}
		if err := c.store.Save(state); err != nil {
			c.logger.WithError(err).Warn("failed to persist session state")
		}
	}
	c.notify()
	return nil
}

// RefreshTenants forces a tenant directory refresh, clearing any failed
// latch, and folds the result back into the snapshot so readers see the
// refreshed list.
func (c *Coordinator) RefreshTenants(ctx context.Context) error {
	if err := c.directory.ForceRefresh(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.snapshot.Memberships = c.directory.Memberships()
	c.snapshot.ActiveTenantID = c.directory.ActiveID()
	c.mu.Unlock()
	c.notify()
	return nil
}

// RefreshPermissions drops and refetches the active tenant's
// authorization data.
func (c *Coordinator) RefreshPermissions(ctx context.Context) error {
	c.mu.Lock()
	tenantID := c.snapshot.ActiveTenantID
	c.mu.Unlock()

	if tenantID == "" {
		return errors.New(errors.ErrCodeNoActiveTenant, "no active tenant")
	}

	auth, err := c.loader.Reprime(ctx, tenantID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.snapshot.Authorization = auth
	c.mu.Unlock()
	c.notify()
	return nil
}

// UpdateProfile changes the signed-in identity's display name.
func (c *Coordinator) UpdateProfile(ctx context.Context, displayName string) error {
	c.mu.Lock()
	session := c.snapshot.Session
	c.mu.Unlock()

	if session == nil {
		return errors.New(errors.ErrCodeSessionMissing, "not signed in")
	}

	identity, err := c.provider.UpdateProfile(ctx, session.AccessToken, displayName)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.snapshot.Identity = *identity
	if c.snapshot.Session != nil {
		// Sessions are replaced wholesale, never patched in place: the
		// old pointer may still be read by an in-flight tenant switch.
		fresh := *c.snapshot.Session
		fresh.Identity = *identity
		c.snapshot.Session = &fresh
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// handleEvent reacts to asynchronous provider events.
func (c *Coordinator) handleEvent(event idp.Event) {
	switch event.Type {
	case idp.EventTokenRefreshed:
		// A refresh replaces the token material; it never changes who is
		// signed in or what they may do, so tenant state and the
		// permission cache stay untouched.
		if event.Session == nil {
			return
		}
		c.mu.Lock()
		if c.snapshot.Status != StatusSignedIn {
			c.mu.Unlock()
			return
		}
		c.snapshot.Session = event.Session
		c.snapshot.Identity = event.Session.Identity
		c.mu.Unlock()
		c.notify()

	case idp.EventSignedOut:
		c.mu.Lock()
		userInitiated := c.userInitiatedSignOut
		signedIn := c.snapshot.Status == StatusSignedIn
		c.mu.Unlock()

		// The explicit SignOut path performs its own cleanup; only an
		// unsolicited sign-out (expiry, external revocation) is handled
		// here, and it takes the expired path.
		if userInitiated || !signedIn {
			return
		}
		c.logger.Warn("session ended by provider, treating as expired")
		c.clearSessionState(ReasonExpired)

	case idp.EventSignedIn:
		// Sign-in state is applied by the SignIn/Initialize flows, which
		// own the bootstrap. The event alone carries no tenant context.
	}
}

func (c *Coordinator) setSignedOut() {
	c.mu.Lock()
	c.snapshot = Snapshot{Status: StatusSignedOut}
	c.mu.Unlock()
	c.notify()
}

// copySnapshotLocked deep-copies the snapshot. Callers hold c.mu.
func (c *Coordinator) copySnapshotLocked() Snapshot {
	out := c.snapshot
	if c.snapshot.Session != nil {
		session := *c.snapshot.Session
		out.Session = &session
	}
	if c.snapshot.Memberships != nil {
		out.Memberships = make([]tenant.Membership, len(c.snapshot.Memberships))
		copy(out.Memberships, c.snapshot.Memberships)
	}
	return out
}

// notify fans the current snapshot out to subscribers without blocking.
func (c *Coordinator) notify() {
	c.mu.Lock()
	snapshot := c.copySnapshotLocked()
	channels := make([]chan Snapshot, 0, len(c.subscribers))
	for _, ch := range c.subscribers {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- snapshot:
		default:
		}
	}
}
