package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-api/internal/clock"
	"storefront-api/internal/models"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	issuer, err := NewTokenIssuer("0123456789abcdef0123", "storefront-api", time.Hour, fc)
	require.NoError(t, err)

	token, expiresAt, err := issuer.Issue("acc1", models.RoleAdmin, "sess1")
	require.NoError(t, err)
	assert.Equal(t, fc.Now().Add(time.Hour), expiresAt)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "acc1", claims.Subject)
	assert.Equal(t, "sess1", claims.ID)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	fc.Advance(time.Hour)
	_, err = issuer.Parse(token)
	require.Error(t, err)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	_, err := NewTokenIssuer("short", "storefront-api", time.Hour, fc)
	require.Error(t, err)

	issuer, err := NewTokenIssuer("0123456789abcdef0123", "storefront-api", time.Hour, fc)
	require.NoError(t, err)
	other, err := NewTokenIssuer("another-secret-of-enough-length", "storefront-api", time.Hour, fc)
	require.NoError(t, err)

	token, _, err := other.Issue("acc1", models.RoleAdmin, "sess1")
	require.NoError(t, err)
	_, err = issuer.Parse(token)
	require.Error(t, err, "foreign signature")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role: models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "storefront-api",
			Subject:   "acc1",
			ID:        "sess1",
			ExpiresAt: jwt.NewNumericDate(fc.Now().Add(time.Hour)),
		},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Parse(unsigned)
	require.Error(t, err, "alg none")
}

func TestDigitCodeGenerator(t *testing.T) {
	g := DigitCodeGenerator{Length: 6}
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code, err := g.Generate()
		require.NoError(t, err)
		require.True(t, validCode(code, 6), code)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 40)

	assert.False(t, validCode("12345", 6))
	assert.False(t, validCode("12a456", 6))
	assert.False(t, validCode("", 0))
}

func TestPolicyLookup(t *testing.T) {
	p, err := DefaultPolicies().Lookup(models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, p.PendingTTL)
	assert.Equal(t, 12*time.Hour, p.GrantDuration)

	_, err = DefaultPolicies().Lookup(models.RoleStaff)
	require.ErrorIs(t, err, ErrInvalidInput)
}
