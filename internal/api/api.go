// Package api exposes the opsdesk session and tenant operations over
// HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/opsdesk/opsdesk/internal/errors"
	"github.com/opsdesk/opsdesk/internal/idp"
	"github.com/opsdesk/opsdesk/internal/log"
	"github.com/opsdesk/opsdesk/internal/metrics"
	"github.com/opsdesk/opsdesk/internal/session"
	"github.com/opsdesk/opsdesk/internal/tenant"
)

// Config carries the API's collaborators and rate-limit knobs.
type Config struct {
	Coordinator *session.Coordinator
	Provider    idp.Provider
	Metrics     *metrics.Metrics
	Logger      *log.Logger

	// LoginRatePerMinute and LoginBurst bound login attempts per
	// client IP.
	LoginRatePerMinute float64
	LoginBurst         int
}

// API is the HTTP handler set.
type API struct {
	coord    *session.Coordinator
	provider idp.Provider
	metrics  *metrics.Metrics
	logger   *log.Logger

	loginLimiter *ipLimiter
}

// New creates the API handler set.
func New(cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &API{
		coord:        cfg.Coordinator,
		provider:     cfg.Provider,
		metrics:      cfg.Metrics,
		logger:       logger,
		loginLimiter: newIPLimiter(cfg.LoginRatePerMinute, cfg.LoginBurst),
	}
}

// Router builds the versioned API router with the full middleware
// chain. State-changing routes sit behind the anti-forgery check;
// login is additionally rate limited.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID)
	r.Use(Recoverer(a.logger))
	r.Use(RequestLogger(a.logger, a.metrics))
	r.Use(EnsureCSRFCookie)

	v1 := r.PathPrefix("/api/v1").Subrouter()

	// Read-only routes.
	v1.HandleFunc("/session", a.handleSession).Methods(http.MethodGet)
	v1.HandleFunc("/tenants", a.handleTenants).Methods(http.MethodGet)
	v1.HandleFunc("/auth/profile", a.handleProfile).Methods(http.MethodGet)

	// State-changing routes require the double-token check.
	writes := v1.PathPrefix("/").Subrouter()
	writes.Use(RequireCSRF)
	writes.Handle("/auth/login",
		RateLimit(a.loginLimiter)(http.HandlerFunc(a.handleLogin))).Methods(http.MethodPost)
	writes.HandleFunc("/auth/register", a.handleRegister).Methods(http.MethodPost)
	writes.HandleFunc("/auth/logout", a.handleLogout).Methods(http.MethodPost)
	writes.HandleFunc("/auth/password-reset", a.handlePasswordReset).Methods(http.MethodPost)
	writes.HandleFunc("/auth/password", a.handlePasswordUpdate).Methods(http.MethodPost)
	writes.HandleFunc("/auth/profile", a.handleProfileUpdate).Methods(http.MethodPut)
	writes.HandleFunc("/tenants/refresh", a.handleTenantsRefresh).Methods(http.MethodPost)
	writes.HandleFunc("/tenants/switch", a.handleTenantSwitch).Methods(http.MethodPost)
	writes.HandleFunc("/permissions/refresh", a.handlePermissionsRefresh).Methods(http.MethodPost)

	return r
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorBody(w, http.StatusBadRequest, errorBody{
			Code:    "BAD_REQUEST",
			Message: "invalid request body",
			ReqID:   GetRequestID(r),
		})
		return false
	}
	return true
}

type sessionView struct {
	Status         string              `json:"status"`
	UserID         string              `json:"user_id,omitempty"`
	Email          string              `json:"email,omitempty"`
	DisplayName    string              `json:"display_name,omitempty"`
	ActiveTenantID string              `json:"active_tenant_id,omitempty"`
	ExpiresAt      *time.Time          `json:"expires_at,omitempty"`
	Memberships    []tenant.Membership `json:"memberships,omitempty"`
	Permissions    []string            `json:"permissions,omitempty"`
	FeatureFlags   map[string]bool     `json:"feature_flags,omitempty"`
}

func viewOf(snap session.Snapshot) sessionView {
	view := sessionView{Status: string(snap.Status)}
	if !snap.SignedIn() {
		return view
	}
	view.UserID = snap.Identity.ID
	view.Email = snap.Identity.Email
	view.DisplayName = snap.Identity.DisplayName
	view.ActiveTenantID = snap.ActiveTenantID
	expires := snap.Session.ExpiresAt
	view.ExpiresAt = &expires
	view.Memberships = snap.Memberships
	view.Permissions = snap.Authorization.Permissions
	view.FeatureFlags = snap.Authorization.FeatureFlags
	return view
}

// handleLogin authenticates and bootstraps the session context.
// POST /api/v1/auth/login
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		RememberMe bool   `json:"remember_me"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := a.coord.SignIn(r.Context(), req.Email, req.Password, req.RememberMe); err != nil {
		a.countError(err)
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(a.coord.Snapshot()))
}

// handleRegister creates an identity and signs it in.
// POST /api/v1/auth/register
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if _, err := a.provider.SignUp(r.Context(), req.Email, req.Password, req.DisplayName); err != nil {
		a.countError(err)
		WriteError(w, r, err)
		return
	}

	// Registration leaves a provider-side session; run the standard
	// sign-in so the coordinator bootstraps the tenant context.
	if err := a.coord.SignIn(r.Context(), req.Email, req.Password, false); err != nil {
		a.countError(err)
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, viewOf(a.coord.Snapshot()))
}

// handleLogout ends the session.
// POST /api/v1/auth/logout
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.coord.SignOut(r.Context(), session.ReasonUserInitiated)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

// handlePasswordReset starts a password reset flow.
// POST /api/v1/auth/password-reset
func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	token, err := a.provider.ResetPassword(r.Context(), req.Email)
	if err != nil {
		// Do not reveal whether the email exists.
		a.logger.WithError(err).Debug("password reset for unknown email", "reqid", GetRequestID(r))
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "reset_requested"})
		return
	}

	// The local provider has no mail delivery; hosted deployments send
	// the token out of band instead of returning it.
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":      "reset_requested",
		"reset_token": token,
	})
}

// handlePasswordUpdate completes a password reset.
// POST /api/v1/auth/password
func (a *API) handlePasswordUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		ResetToken  string `json:"reset_token"`
		NewPassword string `json:"new_password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := a.provider.UpdatePassword(r.Context(), req.Email, req.ResetToken, req.NewPassword); err != nil {
		a.countError(err)
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "password_updated"})
}

// handleProfile returns the signed-in identity.
// GET /api/v1/auth/profile
func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	snap := a.coord.Snapshot()
	if !snap.SignedIn() {
		WriteError(w, r, errors.New(errors.ErrCodeSessionMissing, "not signed in"))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"user_id":      snap.Identity.ID,
		"email":        snap.Identity.Email,
		"display_name": snap.Identity.DisplayName,
	})
}

// handleProfileUpdate changes the identity's display name.
// PUT /api/v1/auth/profile
func (a *API) handleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := a.coord.UpdateProfile(r.Context(), req.DisplayName); err != nil {
		a.countError(err)
		WriteError(w, r, err)
		return
	}

	snap := a.coord.Snapshot()
	WriteJSON(w, http.StatusOK, map[string]string{
		"user_id":      snap.Identity.ID,
		"email":        snap.Identity.Email,
		"display_name": snap.Identity.DisplayName,
	})
}

// handleSession returns the session snapshot.
// GET /api/v1/session
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, viewOf(a.coord.Snapshot()))
}

// handleTenants lists the identity's tenant memberships.
// GET /api/v1/tenants
func (a *API) handleTenants(w http.ResponseWriter, r *http.Request) {
	snap := a.coord.Snapshot()
	if !snap.SignedIn() {
		WriteError(w, r, errors.New(errors.ErrCodeSessionMissing, "not signed in"))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"active_tenant_id": snap.ActiveTenantID,
		"memberships":      snap.Memberships,
	})
}

// handleTenantsRefresh forces a tenant list refresh, clearing the
// failed-refresh latch.
// POST /api/v1/tenants/refresh
func (a *API) handleTenantsRefresh(w http.ResponseWriter, r *http.Request) {
	if err := a.coord.RefreshTenants(r.Context()); err != nil {
		a.countError(err)
		WriteError(w, r, err)
		return
	}
	snap := a.coord.Snapshot()
	WriteJSON(w, http.StatusOK, map[string]any{
		"active_tenant_id": snap.ActiveTenantID,
		"memberships":      snap.Memberships,
	})
}

// handleTenantSwitch runs the tenant switch protocol.
// POST /api/v1/tenants/switch
func (a *API) handleTenantSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID string `json:"tenant_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := a.coord.SwitchTenant(r.Context(), req.TenantID); err != nil {
		a.countError(err)
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(a.coord.Snapshot()))
}

// handlePermissionsRefresh reprimes the active tenant's authorization.
// POST /api/v1/permissions/refresh
func (a *API) handlePermissionsRefresh(w http.ResponseWriter, r *http.Request) {
	if err := a.coord.RefreshPermissions(r.Context()); err != nil {
		a.countError(err)
		WriteError(w, r, err)
		return
	}
	snap := a.coord.Snapshot()
	WriteJSON(w, http.StatusOK, map[string]any{
		"tenant_id":     snap.ActiveTenantID,
		"permissions":   snap.Authorization.Permissions,
		"feature_flags": snap.Authorization.FeatureFlags,
	})
}

func (a *API) countError(err error) {
	if a.metrics == nil {
		return
	}
	if code := errors.CodeOf(err); code != "" {
		a.metrics.Errors.WithLabelValues(string(code)).Inc()
	}
}
