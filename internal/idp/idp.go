// Package idp provides the identity-provider adapter for opsdesk.
//
// It defines the provider-agnostic contract the session lifecycle layer
// consumes: credential sign-in, session retrieval and refresh, identity
// metadata updates, and an event stream for asynchronous session changes
// (background token renewal, external revocation).
//
// The package ships one implementation, LocalProvider, which mints HS256
// JWTs and keeps identities in memory. Hosted identity backends can be
// plugged in by implementing Provider.
package idp

import (
	"context"
	"time"
)

// MetadataKeyActiveTenant is the identity metadata key mirrored into the
// signed session token as the active-tenant claim.
const MetadataKeyActiveTenant = "active_tenant_id"

// Identity represents an authenticated user identity.
type Identity struct {
	// ID is the opaque unique identifier for the user.
	ID string

	// Email is the user's email address.
	Email string

	// DisplayName is the user's display name.
	DisplayName string

	// Metadata contains arbitrary identity metadata. The active-tenant
	// claim lives here under MetadataKeyActiveTenant and is embedded in
	// the signed session token.
	Metadata map[string]interface{}
}

// ActiveTenantID returns the active-tenant claim from identity metadata,
// or empty string if none is set.
func (i Identity) ActiveTenantID() string {
	if i.Metadata == nil {
		return ""
	}
	tenantID, _ := i.Metadata[MetadataKeyActiveTenant].(string)
	return tenantID
}

// Session represents an authenticated session.
//
// Sessions are replaced wholesale on sign-in, token refresh, and tenant
// switch; individual fields are never patched in place.
type Session struct {
	// Identity is the authenticated identity.
	Identity Identity

	// AccessToken is the signed session token consulted by the backend.
	AccessToken string

	// RefreshToken is used to obtain a new access token.
	RefreshToken string

	// ExpiresAt is when the access token expires.
	ExpiresAt time.Time

	// ExpiresIn is the access token lifetime in seconds at issue time.
	ExpiresIn int64
}

// IsExpired returns true if the session's access token has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// EventType identifies an asynchronous session event.
type EventType string

const (
	// EventSignedIn fires when a session is established.
	EventSignedIn EventType = "SIGNED_IN"

	// EventSignedOut fires when a session ends, whether by an explicit
	// sign-out or by external revocation/expiry.
	EventSignedOut EventType = "SIGNED_OUT"

	// EventTokenRefreshed fires when the access token is renewed.
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event is an asynchronous session event emitted by a Provider.
type Event struct {
	// Type is the event type.
	Type EventType

	// Session is the session after the event, nil for EventSignedOut.
	Session *Session
}

// Provider is the identity-provider contract.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// SignInWithPassword authenticates email/password credentials.
	// Returns coded errors for invalid credentials and locked accounts.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignUp registers a new identity and signs it in.
	SignUp(ctx context.Context, email, password, displayName string) (*Session, error)

	// SignOut terminates the session holding the given access token.
	SignOut(ctx context.Context, accessToken string) error

	// CurrentSession returns the provider's current session, or (nil, nil)
	// when no session exists. Absence is expected, not an error.
	CurrentSession(ctx context.Context) (*Session, error)

	// RefreshSession exchanges a refresh token for a freshly signed
	// session. The new access token embeds the identity metadata current
	// at signing time, including the active-tenant claim.
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)

	// UpdateIdentityMetadata merges the given keys into the identity's
	// metadata. The change is reflected in tokens minted afterwards.
	UpdateIdentityMetadata(ctx context.Context, accessToken string, metadata map[string]interface{}) (*Identity, error)

	// UpdateProfile changes the display name of the identity holding the
	// given access token.
	UpdateProfile(ctx context.Context, accessToken, displayName string) (*Identity, error)

	// ResetPassword starts a password reset for the given email and
	// returns the reset token to be delivered out of band.
	ResetPassword(ctx context.Context, email string) (string, error)

	// UpdatePassword sets a new password using a reset token.
	// A successful update clears any account lockout.
	UpdatePassword(ctx context.Context, email, resetToken, newPassword string) error

	// Subscribe registers a handler for asynchronous session events and
	// returns a function that removes the subscription.
	Subscribe(handler func(Event)) (unsubscribe func())
}
