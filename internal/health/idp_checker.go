package health

import (
	"context"

	"github.com/opsdesk/opsdesk/internal/idp"
)

// IdentityProviderChecker verifies the identity provider responds to
// session queries.
type IdentityProviderChecker struct {
	provider idp.Provider
}

// NewIdentityProviderChecker creates a checker over provider.
func NewIdentityProviderChecker(provider idp.Provider) *IdentityProviderChecker {
	return &IdentityProviderChecker{provider: provider}
}

// Name returns "identity-provider".
func (c *IdentityProviderChecker) Name() string {
	return "identity-provider"
}

// Check queries the provider for the current session. Absence of a
// session is healthy; only a provider error is unhealthy.
func (c *IdentityProviderChecker) Check(ctx context.Context) *Result {
	session, err := c.provider.CurrentSession(ctx)
	if err != nil {
		return Unhealthy("identity provider query failed").
			WithDetail("error", err.Error())
	}

	result := Healthy("identity provider responding")
	result.WithDetail("session_present", session != nil)
	if session != nil {
		result.WithDetail("session_expired", session.IsExpired())
	}
	return result
}
