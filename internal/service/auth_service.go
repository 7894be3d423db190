package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront-api/internal/clock"
	"storefront-api/internal/encryption"
	"storefront-api/internal/hashing"
	"storefront-api/internal/models"
	"storefront-api/internal/repository"
	"storefront-api/internal/util"
)

const minPasswordLength = 8

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type LoginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

type LoginResult struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Account   *models.Account `json:"account"`
	// HasValidAccess is set for elevated roles only.
	HasValidAccess *bool `json:"hasValidAccess,omitempty"`
}

// AccountUpdate is an administrative change to an account. Role is accepted
// only so that an attempt to change it can be rejected explicitly.
type AccountUpdate struct {
	Role       *models.Role `json:"role,omitempty"`
	IsVerified *bool        `json:"isVerified,omitempty"`
}

// AuthService handles registration, password login and sessions. It feeds
// identities to the AccessGuard and calls the revoke hook of the
// ElevatedAccessService when a session or credential ends.
type AuthService struct {
	accounts   repository.AccountStore
	sessions   repository.SessionStore
	profiles   repository.ProfileStore
	hasher     *hashing.Hasher
	encryption *encryption.EncryptionManager
	contacts   *AccountContacts
	tokens     *TokenIssuer
	access     *ElevatedAccessService
	clock      clock.Clock
	logger     *zap.Logger
}

func NewAuthService(
	accounts repository.AccountStore,
	sessions repository.SessionStore,
	profiles repository.ProfileStore,
	hasher *hashing.Hasher,
	em *encryption.EncryptionManager,
	tokens *TokenIssuer,
	access *ElevatedAccessService,
	c clock.Clock,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		accounts:   accounts,
		sessions:   sessions,
		profiles:   profiles,
		hasher:     hasher,
		encryption: em,
		contacts:   NewAccountContacts(accounts, em),
		tokens:     tokens,
		access:     access,
		clock:      c,
		logger:     logger,
	}
}

func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*models.Account, error) {
	return s.CreateAccount(ctx, req, models.RoleCustomer)
}

func (s *AuthService) RegisterPartner(ctx context.Context, req RegisterRequest) (*models.Account, error) {
	return s.CreateAccount(ctx, req, models.RolePartner)
}

// CreateAccount provisions an account with a fixed role. Elevated roles get
// their profile in the same call; if that fails the account is deactivated
// so it can never log in without one.
func (s *AuthService) CreateAccount(ctx context.Context, req RegisterRequest, role models.Role) (*models.Account, error) {
	if !role.Valid() {
		return nil, newError(ErrInvalidInput, "Invalid role")
	}
	email, ok := util.NormalizeEmail(req.Email)
	if !ok {
		return nil, newError(ErrInvalidInput, "A valid email is required")
	}
	if len(req.Password) < minPasswordLength {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}
	if util.ContainsSuspicious(req.FirstName) || util.ContainsSuspicious(req.LastName) {
		return nil, newError(ErrInvalidInput, "Name contains invalid characters")
	}
	firstName := util.SanitizeInput(req.FirstName)
	lastName := util.SanitizeInput(req.LastName)

	hash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	sealed, err := s.encryption.EncryptField(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("encrypt email: %w", err)
	}

	now := s.clock.Now()
	account := &models.Account{
		AccountID:      uuid.NewString(),
		EmailHash:      s.hasher.LookupHash(email),
		EmailEncrypted: sealed.EncryptedValue,
		EmailDEK:       sealed.EncryptedDEK,
		EmailKeyID:     sealed.KeyID,
		FirstName:      firstName,
		LastName:       lastName,
		Role:           role,
		IsActive:       true,
		Password:       credentialFrom(hash, now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, newError(ErrAccountExists, "An account with this email already exists")
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	if role.Elevated() {
		err := s.profiles.CreateProfile(ctx, &models.ElevatedProfile{
			AccountID: account.AccountID,
			Role:      role,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
			if derr := s.accounts.SetActive(context.WithoutCancel(ctx), account.AccountID, false); derr != nil {
				s.logger.Error("failed to deactivate account without profile",
					zap.String("account_id", account.AccountID), zap.Error(derr))
			}
			return nil, fmt.Errorf("create %s profile: %w", role, err)
		}
	}

	s.logger.Info("account created",
		zap.String("account_id", account.AccountID),
		zap.String("role", string(role)))

	account.Email = email
	return account, nil
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	invalid := newError(ErrUnauthorized, "Invalid email or password")

	email, ok := util.NormalizeEmail(req.Email)
	if !ok || req.Password == "" {
		return nil, invalid
	}

	account, err := s.accounts.GetAccountByEmailHash(ctx, s.hasher.LookupHash(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	stored := &hashing.HashResult{
		Hash:          account.Password.Hash,
		Salt:          account.Password.Salt,
		PepperVersion: account.Password.PepperVersion,
		Algorithm:     account.Password.Algorithm,
	}
	match, err := s.hasher.VerifyPassword(req.Password, stored)
	if err != nil {
		s.logger.Warn("password verification error", zap.String("account_id", account.AccountID), zap.Error(err))
		return nil, invalid
	}
	if !match {
		return nil, invalid
	}
	if !account.IsActive {
		return nil, newError(ErrUnauthorized, "Account is not active")
	}

	now := s.clock.Now()
	if s.hasher.NeedsRehash(stored) {
		s.rehash(ctx, account.AccountID, req.Password, now)
	}

	sessionID := uuid.NewString()
	token, expiresAt, err := s.tokens.Issue(account.AccountID, account.Role, sessionID)
	if err != nil {
		return nil, err
	}
	err = s.sessions.CreateSession(ctx, &models.Session{
		SessionID: sessionID,
		AccountID: account.AccountID,
		Role:      account.Role,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := s.accounts.UpdateLastLogin(ctx, account.AccountID, now); err != nil {
		s.logger.Warn("failed to record last login", zap.String("account_id", account.AccountID), zap.Error(err))
	}
	account.LastLoginAt = &now
	account.Email = email

	result := &LoginResult{Token: token, ExpiresAt: expiresAt, Account: account}
	if account.Role.Elevated() {
		identity := account.Identity(sessionID)
		status, err := s.access.CheckStatus(ctx, &identity, account.Role)
		if err != nil {
			return nil, err
		}
		result.HasValidAccess = &status.HasValidAccess
	}

	s.logger.Info("login succeeded",
		zap.String("account_id", account.AccountID),
		zap.String("role", string(account.Role)))
	return result, nil
}

func (s *AuthService) rehash(ctx context.Context, accountID, password string, now time.Time) {
	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		s.logger.Warn("failed to rehash password", zap.Error(err))
		return
	}
	cred := credentialFrom(hash, now)
	if err := s.accounts.UpdatePassword(ctx, accountID, cred); err != nil {
		s.logger.Warn("failed to store rehashed password", zap.String("account_id", accountID), zap.Error(err))
	}
}

// Logout ends the current session and revokes any elevated grant.
func (s *AuthService) Logout(ctx context.Context, identity *models.Identity) error {
	if err := s.access.RevokeForAccount(ctx, identity, ReasonLogout); err != nil {
		return err
	}
	if err := s.sessions.RevokeSession(ctx, identity.AccountID, identity.SessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *AuthService) Me(ctx context.Context, identity *models.Identity) (*models.Account, error) {
	return s.GetAccount(ctx, identity.AccountID)
}

// ChangePassword replaces the password of identity and revokes its elevated
// grant; other sessions are ended.
func (s *AuthService) ChangePassword(ctx context.Context, identity *models.Identity, current, next string) error {
	if len(next) < minPasswordLength {
		return newError(ErrInvalidInput, fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}
	if current == next {
		return newError(ErrInvalidInput, "New password must differ from the current one")
	}

	account, err := s.accounts.GetAccountByID(ctx, identity.AccountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	match, err := s.hasher.VerifyPassword(current, &hashing.HashResult{
		Hash:          account.Password.Hash,
		Salt:          account.Password.Salt,
		PepperVersion: account.Password.PepperVersion,
		Algorithm:     account.Password.Algorithm,
	})
	if err != nil || !match {
		return newError(ErrUnauthorized, "Current password is incorrect")
	}

	hash, err := s.hasher.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.UpdatePassword(ctx, identity.AccountID, credentialFrom(hash, s.clock.Now())); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.access.RevokeForAccount(ctx, identity, ReasonPasswordChange); err != nil {
		return err
	}
	if err := s.sessions.RevokeAllSessions(ctx, identity.AccountID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	s.logger.Info("password changed", zap.String("account_id", identity.AccountID))
	return nil
}

// Deactivate disables accountID, revokes its grant and ends all its sessions.
func (s *AuthService) Deactivate(ctx context.Context, accountID string) error {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(ErrNotFound, "User not found")
		}
		return fmt.Errorf("load account: %w", err)
	}

	if err := s.accounts.SetActive(ctx, accountID, false); err != nil {
		return fmt.Errorf("deactivate account: %w", err)
	}
	identity := account.Identity("")
	if err := s.access.RevokeForAccount(ctx, &identity, ReasonDeactivated); err != nil {
		return err
	}
	if err := s.sessions.RevokeAllSessions(ctx, accountID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	s.logger.Info("account deactivated", zap.String("account_id", accountID))
	return nil
}

func (s *AuthService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "User not found")
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	email, err := s.contacts.decryptEmail(ctx, account)
	if err != nil {
		return nil, err
	}
	account.Email = email
	return account, nil
}

// ListAccounts returns up to limit accounts without decrypting their e-mail.
func (s *AuthService) ListAccounts(ctx context.Context, limit int) ([]*models.Account, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	accounts, err := s.accounts.ListAccounts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

func (s *AuthService) UpdateAccount(ctx context.Context, accountID string, update AccountUpdate) (*models.Account, error) {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "User not found")
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if update.Role != nil && !strings.EqualFold(string(*update.Role), string(account.Role)) {
		return nil, newError(ErrRoleImmutable, "An account's role cannot be changed")
	}
	if update.IsVerified != nil && *update.IsVerified != account.IsVerified {
		if err := s.accounts.SetVerified(ctx, accountID, *update.IsVerified); err != nil {
			return nil, fmt.Errorf("update account: %w", err)
		}
	}
	return s.GetAccount(ctx, accountID)
}

// RevokeElevatedAccess is the explicit administrative revoke of accountID's grant.
func (s *AuthService) RevokeElevatedAccess(ctx context.Context, accountID string) error {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(ErrNotFound, "User not found")
		}
		return fmt.Errorf("load account: %w", err)
	}
	if !account.Role.Elevated() {
		return newError(ErrInvalidInput, "Account has no elevated role")
	}
	return s.access.Revoke(ctx, accountID, account.Role, ReasonAdministrative)
}

func credentialFrom(h *hashing.HashResult, at time.Time) models.PasswordCredential {
	return models.PasswordCredential{
		Hash:          h.Hash,
		Salt:          h.Salt,
		PepperVersion: h.PepperVersion,
		Algorithm:     h.Algorithm,
		ChangedAt:     at,
	}
}
