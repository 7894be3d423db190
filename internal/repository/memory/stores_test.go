package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storefront-api/internal/clock"
	"storefront-api/internal/models"
	"storefront-api/internal/repository"
)

func TestProfileStore_GrantLifecycle(t *testing.T) {
	ctx := context.Background()
	c := clock.Fake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	s := NewProfileStore(c)

	require.ErrorIs(t, s.SetGrant(ctx, "acc1", models.RoleAdmin, models.Grant{Token: "t"}), repository.ErrNotFound)
	require.NoError(t, s.CreateProfile(ctx, &models.ElevatedProfile{AccountID: "acc1", Role: models.RoleAdmin}))
	require.ErrorIs(t, s.CreateProfile(ctx, &models.ElevatedProfile{AccountID: "acc1", Role: models.RoleAdmin}), repository.ErrAlreadyExists)

	exp := c.Now().Add(time.Hour)
	require.NoError(t, s.SetGrant(ctx, "acc1", models.RoleAdmin, models.Grant{Token: "t1", ExpiresAt: exp}))

	p, err := s.GetProfile(ctx, "acc1", models.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, "t1", p.GrantToken)
	require.Equal(t, exp, *p.GrantExpiresAt)

	cleared, err := s.ClearGrantIfMatch(ctx, "acc1", models.RoleAdmin, "stale")
	require.NoError(t, err)
	require.False(t, cleared)

	cleared, err = s.ClearGrantIfMatch(ctx, "acc1", models.RoleAdmin, "t1")
	require.NoError(t, err)
	require.True(t, cleared)

	p, err = s.GetProfile(ctx, "acc1", models.RoleAdmin)
	require.NoError(t, err)
	require.False(t, p.HasGrant())
	require.False(t, p.HalfState())
}

func TestAccountStore_UniqueEmail(t *testing.T) {
	ctx := context.Background()
	s := NewAccountStore(clock.Real())

	a := &models.Account{AccountID: "a1", EmailHash: "h1", Role: models.RoleCustomer, IsActive: true}
	require.NoError(t, s.CreateAccount(ctx, a))
	require.ErrorIs(t, s.CreateAccount(ctx, &models.Account{AccountID: "a2", EmailHash: "h1"}), repository.ErrAlreadyExists)

	got, err := s.GetAccountByEmailHash(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, "a1", got.AccountID)

	require.NoError(t, s.SetActive(ctx, "a1", false))
	got, err = s.GetAccountByID(ctx, "a1")
	require.NoError(t, err)
	require.False(t, got.IsActive)
}

func TestSessionStore_RevokeAll(t *testing.T) {
	ctx := context.Background()
	c := clock.Fake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	s := NewSessionStore(c)

	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, s.CreateSession(ctx, &models.Session{SessionID: id, AccountID: "a1", ExpiresAt: c.Now().Add(time.Hour)}))
	}
	ok, err := s.IsSessionActive(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.RevokeAllSessions(ctx, "a1"))
	ok, _ = s.IsSessionActive(ctx, "s2")
	require.False(t, ok)
}

func TestAttemptCounter_Window(t *testing.T) {
	ctx := context.Background()
	c := clock.Fake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	a := NewAttemptCounter(c)

	n, _ := a.Increment(ctx, "k", time.Minute)
	require.Equal(t, 1, n)
	n, _ = a.Increment(ctx, "k", time.Minute)
	require.Equal(t, 2, n)

	c.Advance(time.Minute)
	n, _ = a.Count(ctx, "k")
	require.Equal(t, 0, n)
	n, _ = a.Increment(ctx, "k", time.Minute)
	require.Equal(t, 1, n)
}
