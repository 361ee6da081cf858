package idp

import (
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/opsdesk/opsdesk/internal/errors"
)

// SessionClaims represents JWT claims for a signed session token.
//
// Uses standard JWT claims plus the identity metadata map. The backend
// reads the active-tenant claim out of Metadata to scope requests.
type SessionClaims struct {
	jwt.RegisteredClaims

	// UserID is the unique user identifier
	UserID string `json:"user_id"`

	// Email is the user's email address
	Email string `json:"email"`

	// DisplayName is the user's display name
	DisplayName string `json:"display_name,omitempty"`

	// Metadata mirrors the identity metadata, including the
	// active-tenant claim
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ActiveTenantID returns the active-tenant claim carried by the token.
func (c *SessionClaims) ActiveTenantID() string {
	if c.Metadata == nil {
		return ""
	}
	tenantID, _ := c.Metadata[MetadataKeyActiveTenant].(string)
	return tenantID
}

// TokenSigner mints and validates HS256 session tokens.
type TokenSigner struct {
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration
}

// NewTokenSigner creates a token signer.
//
// The signing key must be kept secret; the issuer identifies this
// deployment (e.g. "opsdesk").
func NewTokenSigner(signingKey []byte, issuer string, tokenTTL time.Duration) *TokenSigner {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &TokenSigner{
		signingKey: signingKey,
		issuer:     issuer,
		tokenTTL:   tokenTTL,
	}
}

// TokenTTL returns the configured access token lifetime.
func (ts *TokenSigner) TokenTTL() time.Duration {
	return ts.tokenTTL
}

// Mint creates a signed session token for the identity.
//
// The identity metadata snapshot at call time is embedded in the claims,
// which is what makes a post-switch refresh carry the new tenant claim.
func (ts *TokenSigner) Mint(identity Identity, now time.Time) (string, time.Time, error) {
	if identity.ID == "" {
		return "", time.Time{}, errors.New(errors.ErrCodeTokenSigning, "identity ID cannot be empty")
	}

	expiresAt := now.Add(ts.tokenTTL)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   identity.ID,
			Audience:  jwt.ClaimStrings{ts.issuer},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID:      identity.ID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		Metadata:    copyMetadata(identity.Metadata),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(errors.ErrCodeTokenSigning, "failed to sign session token", err)
	}

	return signed, expiresAt, nil
}

// Validate parses and validates a signed session token.
func (ts *TokenSigner) Validate(tokenString string) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, errors.New(errors.ErrCodeTokenInvalid, "token cannot be empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New(errors.ErrCodeTokenInvalid, "unexpected signing method")
		}
		return ts.signingKey, nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTokenInvalid, "failed to parse session token", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New(errors.ErrCodeTokenInvalid, "invalid token claims")
	}

	if claims.Issuer != ts.issuer {
		return nil, errors.New(errors.ErrCodeTokenInvalid, "invalid token issuer")
	}

	return claims, nil
}

// TenantClaimFromToken extracts the active-tenant claim from a token
// without signature validation.
//
// The tenant-switch protocol uses this to verify a freshly issued token
// carries the requested tenant; signature trust is not at question there
// because the token came straight from the provider.
func TenantClaimFromToken(tokenString string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &SessionClaims{})
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeTokenInvalid, "failed to parse token", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return "", errors.New(errors.ErrCodeTokenInvalid, "invalid token claims")
	}

	return claims.ActiveTenantID(), nil
}

// Fingerprint returns a short stable digest of token material, safe to
// log in place of the raw token.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

func copyMetadata(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
