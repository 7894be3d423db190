package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-api/internal/models"
)

func grantAccess(t *testing.T, h *harness, id *models.Identity, role models.Role) *GrantReceipt {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.access().RequestAccess(ctx, id, role))
	code := h.mailer.last().Code
	receipt, err := h.access().VerifyAccess(ctx, id, role, code)
	require.NoError(t, err)
	return receipt
}

func TestRequireElevatedAccess_GrantedThenExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "admin@example.com", models.RoleAdmin)

	err := h.guard().RequireElevatedAccess(ctx, id, models.RoleAdmin)
	require.ErrorIs(t, err, ErrElevatedAccess)
	assert.Equal(t, "Admin access not granted", Message(err))

	receipt := grantAccess(t, h, id, models.RoleAdmin)
	require.NoError(t, h.guard().RequireElevatedAccess(ctx, id, models.RoleAdmin))

	h.clock.Set(receipt.ExpiresAt)
	err = h.guard().RequireElevatedAccess(ctx, id, models.RoleAdmin)
	require.ErrorIs(t, err, ErrElevatedAccess)
	assert.Equal(t, "Admin access key expired", Message(err))

	status, err := h.access().CheckStatus(ctx, id, models.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, status.HasValidAccess)

	profile, err := h.profiles.GetProfile(ctx, id.AccountID, models.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, profile.HasGrant(), "expired grant is cleared on access")
	assert.Contains(t, h.eventTypes(id.AccountID), models.EventAccessExpired)
}

func TestRequireElevatedAccess_ExpiryKeepsReissuedGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "reissue@example.com", models.RolePartner)
	grantAccess(t, h, id, models.RolePartner)

	stale, err := h.profiles.GetProfile(ctx, id.AccountID, models.RolePartner)
	require.NoError(t, err)

	// a new grant lands between reading the stale one and clearing it
	fresh := h.clock.Now().Add(time.Hour)
	require.NoError(t, h.profiles.SetGrant(ctx, id.AccountID, models.RolePartner, models.Grant{Token: "other-digest", ExpiresAt: fresh}))
	h.access().expireGrant(ctx, stale, ReasonExpired)

	profile, err := h.profiles.GetProfile(ctx, id.AccountID, models.RolePartner)
	require.NoError(t, err)
	assert.Equal(t, "other-digest", profile.GrantToken)
}

func TestRequireElevatedAccess_RoleMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	partner := h.register(t, "p@example.com", models.RolePartner)

	// a stray admin grant on a partner account
	expires := h.clock.Now().Add(time.Hour)
	h.profiles.Put(&models.ElevatedProfile{
		AccountID:      partner.AccountID,
		Role:           models.RoleAdmin,
		GrantToken:     "digest",
		GrantExpiresAt: &expires,
	})

	err := h.guard().RequireElevatedAccess(ctx, partner, models.RoleAdmin)
	require.ErrorIs(t, err, ErrElevatedAccess)
	assert.Equal(t, "Admin role required", Message(err))

	profile, err := h.profiles.GetProfile(ctx, partner.AccountID, models.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, profile.HasGrant())
}

func TestRequireElevatedAccess_HalfStateIsCleared(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "half@example.com", models.RoleAdmin)

	h.profiles.Put(&models.ElevatedProfile{AccountID: id.AccountID, Role: models.RoleAdmin, GrantToken: "digest"})

	err := h.guard().RequireElevatedAccess(ctx, id, models.RoleAdmin)
	require.ErrorIs(t, err, ErrElevatedAccess)

	profile, err := h.profiles.GetProfile(ctx, id.AccountID, models.RoleAdmin)
	require.NoError(t, err)
	assert.Empty(t, profile.GrantToken)
	assert.Nil(t, profile.GrantExpiresAt)
}

func TestRequireElevatedAccess_MissingProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "gone@example.com", models.RoleAdmin)
	require.NoError(t, h.profiles.DeleteProfile(ctx, id.AccountID, models.RoleAdmin))

	err := h.guard().RequireElevatedAccess(ctx, id, models.RoleAdmin)
	require.ErrorIs(t, err, ErrElevatedAccess)
	assert.Equal(t, "Admin profile not found", Message(err))
}

func TestAuthenticate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "login@example.com", models.RoleAdmin)

	_, err := h.guard().Authenticate(ctx, "")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Please provide a token", Message(err))

	_, err = h.guard().Authenticate(ctx, "not-a-token")
	require.ErrorIs(t, err, ErrUnauthorized)

	res, err := h.auth().Login(ctx, LoginRequest{Email: "login@example.com", Password: "correct horse battery"})
	require.NoError(t, err)

	id, err := h.guard().Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Account.AccountID, id.AccountID)
	assert.Equal(t, models.RoleAdmin, id.Role)
	assert.True(t, id.Active)
	assert.NotEmpty(t, id.SessionID)

	require.NoError(t, h.guard().AuthorizeRole(id, models.RoleAdmin))
	require.ErrorIs(t, h.guard().AuthorizeRole(id, models.RolePartner, models.RoleCustomer), ErrForbidden)

	require.NoError(t, h.accounts.SetActive(ctx, id.AccountID, false))
	_, err = h.guard().Authenticate(ctx, res.Token)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Account is not active", Message(err))
}

func TestAuthenticate_EndedSessionAndExpiredToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "session@example.com", models.RoleCustomer)

	res, err := h.auth().Login(ctx, LoginRequest{Email: "session@example.com", Password: "correct horse battery"})
	require.NoError(t, err)
	id, err := h.guard().Authenticate(ctx, res.Token)
	require.NoError(t, err)

	require.NoError(t, h.auth().Logout(ctx, id))
	_, err = h.guard().Authenticate(ctx, res.Token)
	require.ErrorIs(t, err, ErrUnauthorized)

	res, err = h.auth().Login(ctx, LoginRequest{Email: "session@example.com", Password: "correct horse battery"})
	require.NoError(t, err)
	h.clock.Advance(25 * time.Hour)
	_, err = h.guard().Authenticate(ctx, res.Token)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Invalid or expired token", Message(err))
}
