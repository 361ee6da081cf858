package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Authentication errors (AUTH-001 to AUTH-099)
	ErrCodeInvalidCredentials ErrorCode = "AUTH-001"
	ErrCodeRateLimited        ErrorCode = "AUTH-002"
	ErrCodeCSRFRejected       ErrorCode = "AUTH-003"
	ErrCodeAccountLocked      ErrorCode = "AUTH-004"
	ErrCodeLoginInProgress    ErrorCode = "AUTH-005"
	ErrCodeSessionMissing     ErrorCode = "AUTH-006"
	ErrCodeSessionExpired     ErrorCode = "AUTH-007"
	ErrCodeTokenInvalid       ErrorCode = "AUTH-008"
	ErrCodeTokenSigning       ErrorCode = "AUTH-009"
	ErrCodeProviderFailure    ErrorCode = "AUTH-010"
	ErrCodeEmailTaken         ErrorCode = "AUTH-011"

	// Tenant errors (TENANT-001 to TENANT-099)
	ErrCodeTenantSwitchFailed      ErrorCode = "TENANT-001"
	ErrCodeTenantContextNotUpdated ErrorCode = "TENANT-002"
	ErrCodeTenantNotMember         ErrorCode = "TENANT-003"
	ErrCodeTenantFetchFailed       ErrorCode = "TENANT-004"
	ErrCodeTenantFetchInProgress   ErrorCode = "TENANT-005"
	ErrCodeTenantSwitchInProgress  ErrorCode = "TENANT-006"
	ErrCodeNoActiveTenant          ErrorCode = "TENANT-007"

	// Permission cache errors (CACHE-001 to CACHE-099)
	ErrCodePermissionFetchFailed ErrorCode = "CACHE-001"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigRead    ErrorCode = "CONFIG-001"
	ErrCodeConfigInvalid ErrorCode = "CONFIG-002"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeStateRead  ErrorCode = "IO-001"
	ErrCodeStateWrite ErrorCode = "IO-002"
	ErrCodeStateClear ErrorCode = "IO-003"
)

// OpsError represents an enhanced error with code, suggestions, and documentation
type OpsError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *OpsError) Error() string {
	var b strings.Builder

	// Error code and message
	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	// Add cause if present
	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	// Add suggestions
	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	// Add documentation link
	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *OpsError) Unwrap() error {
	return e.Cause
}

// New creates a new OpsError
func New(code ErrorCode, message string) *OpsError {
	return &OpsError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new OpsError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *OpsError {
	return &OpsError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *OpsError) WithSuggestion(suggestion string) *OpsError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *OpsError) WithSuggestions(suggestions ...string) *OpsError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *OpsError) WithDocs(url string) *OpsError {
	e.DocsURL = url
	return e
}

// HasCode reports whether err is an OpsError carrying the given code.
func HasCode(err error, code ErrorCode) bool {
	opsErr, ok := err.(*OpsError)
	if !ok {
		return false
	}
	return opsErr.Code == code
}

// CodeOf returns the error code of an OpsError, or empty string otherwise.
func CodeOf(err error) ErrorCode {
	if opsErr, ok := err.(*OpsError); ok {
		return opsErr.Code
	}
	return ""
}

// Common error constructors for frequently used errors

// NewInvalidCredentialsError creates an invalid credentials error
func NewInvalidCredentialsError() *OpsError {
	return New(ErrCodeInvalidCredentials, "invalid email or password").
		WithSuggestion("Check the email address for typos").
		WithSuggestion("Use the password reset flow if the password was forgotten")
}

// NewAccountLockedError creates an account locked error
func NewAccountLockedError(email string) *OpsError {
	return New(ErrCodeAccountLocked, fmt.Sprintf("account is locked: %s", email)).
		WithSuggestion("Wait for the lockout window to pass").
		WithSuggestion("Contact an administrator to unlock the account")
}

// NewRateLimitedError creates a rate limit error
func NewRateLimitedError(retryAfter string) *OpsError {
	msg := "too many sign-in attempts"
	if retryAfter != "" {
		msg += fmt.Sprintf(" (retry after: %s)", retryAfter)
	}

	return New(ErrCodeRateLimited, msg).
		WithSuggestion("Wait before retrying the request")
}

// NewLoginInProgressError creates a single-flight rejection error
func NewLoginInProgressError() *OpsError {
	return New(ErrCodeLoginInProgress, "login already in progress").
		WithSuggestion("Wait for the first sign-in attempt to finish")
}

// NewTenantContextNotUpdatedError creates a fatal switch verification error
func NewTenantContextNotUpdatedError(requested, actual string) *OpsError {
	return New(ErrCodeTenantContextNotUpdated,
		fmt.Sprintf("tenant context not updated: requested %s, token still claims %s", requested, actual)).
		WithSuggestion("Retry the tenant switch").
		WithSuggestion("Sign out and back in if the mismatch persists")
}

// NewTenantFetchInProgressError creates a single-flight rejection error
// for the tenant list refresh
func NewTenantFetchInProgressError() *OpsError {
	return New(ErrCodeTenantFetchInProgress, "tenant list refresh already in progress").
		WithSuggestion("Wait for the running refresh to finish")
}

// NewTenantFetchFailedError creates a latched tenant refresh error
func NewTenantFetchFailedError() *OpsError {
	return New(ErrCodeTenantFetchFailed, "previous tenant list refresh failed").
		WithSuggestion("Use the manual refresh action to retry").
		WithSuggestion("Sign out and back in to reset tenant state")
}

// NewTenantNotMemberError creates a membership validation error
func NewTenantNotMemberError(tenantID string) *OpsError {
	return New(ErrCodeTenantNotMember, fmt.Sprintf("identity is not a member of tenant: %s", tenantID)).
		WithSuggestion("Refresh the tenant list and pick a listed tenant")
}

// NewTenantSwitchFailedError creates a tenant switch rejection error
func NewTenantSwitchFailedError(tenantID string, cause error) *OpsError {
	return Wrap(ErrCodeTenantSwitchFailed, fmt.Sprintf("failed to switch tenant: %s", tenantID), cause).
		WithSuggestion("Verify the signed-in identity is a member of the tenant")
}
