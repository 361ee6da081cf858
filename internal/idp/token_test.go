package idp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-secret-key-at-least-32-bytes-long")

func newTestSigner() *TokenSigner {
	return NewTokenSigner(testSigningKey, "opsdesk-test", time.Hour)
}

func TestTokenSigner_Mint(t *testing.T) {
	signer := newTestSigner()

	tests := []struct {
		name     string
		identity Identity
		wantErr  bool
	}{
		{
			name: "valid identity",
			identity: Identity{
				ID:    "user-123",
				Email: "user@example.com",
				Metadata: map[string]interface{}{
					MetadataKeyActiveTenant: "tenant-1",
				},
			},
			wantErr: false,
		},
		{
			name:     "missing ID",
			identity: Identity{Email: "user@example.com"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, expiresAt, err := signer.Mint(tt.identity, time.Now())

			if tt.wantErr {
				require.Error(t, err)
				assert.Empty(t, token)
			} else {
				require.NoError(t, err)
				assert.NotEmpty(t, token)
				assert.True(t, expiresAt.After(time.Now()))
			}
		})
	}
}

func TestTokenSigner_Validate(t *testing.T) {
	signer := newTestSigner()

	identity := Identity{
		ID:    "user-123",
		Email: "user@example.com",
		Metadata: map[string]interface{}{
			MetadataKeyActiveTenant: "tenant-1",
			"department":            "operations",
		},
	}

	token, _, err := signer.Mint(identity, time.Now())
	require.NoError(t, err)

	claims, err := signer.Validate(token)
	require.NoError(t, err)

	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "tenant-1", claims.ActiveTenantID())
	assert.Equal(t, "operations", claims.Metadata["department"])
}

func TestTokenSigner_ValidateRejections(t *testing.T) {
	signer := newTestSigner()

	otherSigner := NewTokenSigner([]byte("another-secret-key-32-bytes-long!!"), "opsdesk-test", time.Hour)
	foreignToken, _, err := otherSigner.Mint(Identity{ID: "user-1"}, time.Now())
	require.NoError(t, err)

	wrongIssuer := NewTokenSigner(testSigningKey, "someone-else", time.Hour)
	wrongIssuerToken, _, err := wrongIssuer.Mint(Identity{ID: "user-1"}, time.Now())
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not-a-jwt"},
		{"wrong signing key", foreignToken},
		{"wrong issuer", wrongIssuerToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.Validate(tt.token)
			require.Error(t, err)
		})
	}
}

func TestTenantClaimFromToken(t *testing.T) {
	signer := newTestSigner()

	token, _, err := signer.Mint(Identity{
		ID: "user-123",
		Metadata: map[string]interface{}{
			MetadataKeyActiveTenant: "tenant-42",
		},
	}, time.Now())
	require.NoError(t, err)

	tenantID, err := TenantClaimFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "tenant-42", tenantID)

	// Token without the claim yields empty string, not an error.
	bare, _, err := signer.Mint(Identity{ID: "user-456"}, time.Now())
	require.NoError(t, err)

	tenantID, err = TenantClaimFromToken(bare)
	require.NoError(t, err)
	assert.Empty(t, tenantID)

	_, err = TenantClaimFromToken("garbage")
	require.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("token-a")
	b := Fingerprint("token-b")

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Fingerprint("token-a"))
	assert.Len(t, a, 16)
	assert.Empty(t, Fingerprint(""))
}
