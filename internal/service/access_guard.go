package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"storefront-api/internal/models"
	"storefront-api/internal/repository"
)

// AccessGuard resolves bearer tokens to identities and gates elevated
// operations on a live grant.
type AccessGuard struct {
	tokens   *TokenIssuer
	sessions repository.SessionStore
	accounts repository.AccountStore
	profiles repository.ProfileStore
	access   *ElevatedAccessService
	logger   *zap.Logger
}

func NewAccessGuard(
	tokens *TokenIssuer,
	sessions repository.SessionStore,
	accounts repository.AccountStore,
	profiles repository.ProfileStore,
	access *ElevatedAccessService,
	logger *zap.Logger,
) *AccessGuard {
	return &AccessGuard{
		tokens:   tokens,
		sessions: sessions,
		accounts: accounts,
		profiles: profiles,
		access:   access,
		logger:   logger,
	}
}

// Authenticate fails with ErrUnauthorized for a missing, invalid or expired
// token, an ended session, or an inactive account.
func (g *AccessGuard) Authenticate(ctx context.Context, bearer string) (*models.Identity, error) {
	if bearer == "" {
		return nil, newError(ErrUnauthorized, "Please provide a token")
	}
	claims, err := g.tokens.Parse(bearer)
	if err != nil {
		return nil, newError(ErrUnauthorized, "Invalid or expired token")
	}

	active, err := g.sessions.IsSessionActive(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if !active {
		return nil, newError(ErrUnauthorized, "Session has ended")
	}

	account, err := g.accounts.GetAccountByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrUnauthorized, "Account not found")
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !account.IsActive {
		return nil, newError(ErrUnauthorized, "Account is not active")
	}

	identity := account.Identity(claims.ID)
	return &identity, nil
}

func (g *AccessGuard) AuthorizeRole(identity *models.Identity, allowed ...models.Role) error {
	if identity == nil {
		return newError(ErrUnauthorized, "Account not found")
	}
	if !slices.Contains(allowed, identity.Role) {
		return newError(ErrForbidden, "Insufficient permissions")
	}
	return nil
}

// RequireElevatedAccess passes only when identity holds a complete, unexpired
// grant for role. Expired grants are cleared before denying. A grant for a
// role the account does not hold, or with only one of its two fields set, is
// corrupt and is cleared as well.
func (g *AccessGuard) RequireElevatedAccess(ctx context.Context, identity *models.Identity, role models.Role) error {
	if _, err := g.access.policies.Lookup(role); err != nil {
		return err
	}
	if identity == nil {
		return newError(ErrUnauthorized, "Account not found")
	}
	title := role.Title()

	if identity.Role != role {
		g.clearForeignGrant(ctx, identity, role)
		return g.deny(ctx, identity, role, "role_required", title+" role required")
	}

	profile, err := g.profiles.GetProfile(ctx, identity.AccountID, role)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return g.deny(ctx, identity, role, "no_profile", title+" profile not found")
		}
		g.access.metrics.GuardDecision(string(role), "error")
		return fmt.Errorf("load profile: %w", err)
	}

	switch {
	case profile.HalfState():
		g.logger.Error("elevated profile holds a partial grant",
			zap.String("account_id", identity.AccountID),
			zap.String("role", string(role)))
		if err := g.profiles.ClearGrant(ctx, identity.AccountID, role); err != nil {
			g.logger.Error("failed to clear partial grant", zap.Error(err))
		} else {
			g.access.record(ctx, identity, role, models.EventAccessRevoked, ReasonCorrupt)
		}
		return g.deny(ctx, identity, role, "corrupt", title+" access denied")

	case !profile.HasGrant():
		return g.deny(ctx, identity, role, "no_grant", title+" access not granted")

	case !profile.GrantValidAt(g.access.clock.Now()):
		g.access.expireGrant(ctx, profile, ReasonExpired)
		return g.deny(ctx, identity, role, "expired", title+" access key expired")
	}

	g.access.metrics.GuardDecision(string(role), "allowed")
	return nil
}

// clearForeignGrant removes a grant for role held by an account of another
// role. Such a row can only come from corruption or a manual edit.
func (g *AccessGuard) clearForeignGrant(ctx context.Context, identity *models.Identity, role models.Role) {
	profile, err := g.profiles.GetProfile(ctx, identity.AccountID, role)
	if err != nil || (profile.GrantToken == "" && profile.GrantExpiresAt == nil) {
		return
	}
	g.logger.Error("grant found for a role the account does not hold",
		zap.String("account_id", identity.AccountID),
		zap.String("account_role", string(identity.Role)),
		zap.String("grant_role", string(role)))
	if err := g.profiles.ClearGrant(ctx, identity.AccountID, role); err != nil {
		g.logger.Error("failed to clear foreign grant", zap.Error(err))
		return
	}
	g.access.record(ctx, identity, role, models.EventAccessRevoked, ReasonRoleMismatch)
}

func (g *AccessGuard) deny(ctx context.Context, identity *models.Identity, role models.Role, result, message string) error {
	g.access.metrics.GuardDecision(string(role), result)
	g.access.record(ctx, identity, role, models.EventAccessDenied, result)
	return newError(ErrElevatedAccess, message)
}
