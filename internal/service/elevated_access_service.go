package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"storefront-api/internal/audit"
	"storefront-api/internal/clock"
	"storefront-api/internal/hashing"
	"storefront-api/internal/metrics"
	"storefront-api/internal/models"
	"storefront-api/internal/notify"
	"storefront-api/internal/repository"
)

const maxCodeAttempts = 5

// Revocation reasons recorded with access_revoked events.
const (
	ReasonNewRequest     = "new_request"
	ReasonLogout         = "logout"
	ReasonPasswordChange = "password_change"
	ReasonDeactivated    = "account_deactivated"
	ReasonAdministrative = "administrative"
	ReasonExpired        = "grant_expired"
	ReasonCorrupt        = "corrupt_grant"
	ReasonRoleMismatch   = "role_mismatch"
)

// GrantReceipt is returned by a successful verification. The grant secret
// itself never leaves the service.
type GrantReceipt struct {
	Role      models.Role `json:"role"`
	ExpiresAt time.Time   `json:"grantExpiresAt"`
}

type AccessStatus struct {
	HasValidAccess bool       `json:"hasValidAccess"`
	GrantExpiresAt *time.Time `json:"grantExpiresAt"`
}

// Throttle bounds how often codes may be requested and how many wrong codes
// may be submitted. Zero limits disable the corresponding check.
type Throttle struct {
	Counter           repository.AttemptCounter
	RequestLimit      int
	RequestWindow     time.Duration
	VerifyMaxFailures int
	VerifyLockout     time.Duration
}

// ElevatedAccessService runs the request, verify, check and revoke state
// machine for every elevated role, parameterised by a PolicyTable.
type ElevatedAccessService struct {
	pending    repository.PendingAccessStore
	profiles   repository.ProfileStore
	contacts   ContactResolver
	dispatcher notify.Dispatcher
	logger     *zap.Logger

	policies   PolicyTable
	clock      clock.Clock
	codes      CodeGenerator
	codeLength int
	recorder   audit.Recorder
	metrics    *metrics.Metrics
	throttle   *Throttle
}

type Option func(*ElevatedAccessService)

func WithPolicies(p PolicyTable) Option {
	return func(s *ElevatedAccessService) { s.policies = p }
}

func WithClock(c clock.Clock) Option {
	return func(s *ElevatedAccessService) { s.clock = c }
}

// WithCodeGenerator replaces the crypto/rand code source; length is the
// expected length of submitted codes.
func WithCodeGenerator(g CodeGenerator, length int) Option {
	return func(s *ElevatedAccessService) {
		s.codes = g
		s.codeLength = length
	}
}

func WithRecorder(r audit.Recorder) Option {
	return func(s *ElevatedAccessService) { s.recorder = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ElevatedAccessService) { s.metrics = m }
}

func WithThrottle(t Throttle) Option {
	return func(s *ElevatedAccessService) { s.throttle = &t }
}

func NewElevatedAccessService(
	pending repository.PendingAccessStore,
	profiles repository.ProfileStore,
	contacts ContactResolver,
	dispatcher notify.Dispatcher,
	logger *zap.Logger,
	opts ...Option,
) *ElevatedAccessService {
	s := &ElevatedAccessService{
		pending:    pending,
		profiles:   profiles,
		contacts:   contacts,
		dispatcher: dispatcher,
		logger:     logger,
		policies:   DefaultPolicies(),
		clock:      clock.Real(),
		codes:      DigitCodeGenerator{Length: 6},
		codeLength: 6,
		recorder:   audit.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestAccess starts a fresh elevated session for identity: any existing
// grant is cleared, a new one-time code is stored and e-mailed.
func (s *ElevatedAccessService) RequestAccess(ctx context.Context, identity *models.Identity, role models.Role) error {
	policy, err := s.policies.Lookup(role)
	if err != nil {
		return err
	}
	if err := checkIdentity(identity, role); err != nil {
		s.outcome(role, "request", "rejected")
		return err
	}
	if err := s.checkRequestRate(ctx, identity.AccountID, role); err != nil {
		s.outcome(role, "request", "throttled")
		return err
	}

	// a fresh request always starts without a grant
	profile, err := s.profiles.GetProfile(ctx, identity.AccountID, role)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.outcome(role, "request", "no_profile")
			return newError(ErrElevatedAccess, role.Title()+" profile not found")
		}
		return fmt.Errorf("load profile: %w", err)
	}
	if profile.GrantToken != "" || profile.GrantExpiresAt != nil {
		if err := s.profiles.ClearGrant(ctx, identity.AccountID, role); err != nil {
			return fmt.Errorf("clear grant: %w", err)
		}
		s.record(ctx, identity, role, models.EventAccessRevoked, ReasonNewRequest)
	}

	email, err := s.contacts.ContactEmail(ctx, identity.AccountID)
	if err != nil {
		return err
	}

	req, err := s.issueCode(ctx, identity.AccountID, role, policy.PendingTTL)
	if err != nil {
		return err
	}

	start := s.clock.Now()
	err = s.dispatcher.SendAccessCode(ctx, notify.AccessCodeMessage{
		To:        email,
		Role:      role,
		Code:      req.Code,
		ExpiresIn: policy.PendingTTL,
		IssuedAt:  req.CreatedAt,
	})
	if err != nil {
		s.metrics.ObserveDispatch(string(role), "failure", s.clock.Now().Sub(start))
		if derr := s.pending.Discard(context.WithoutCancel(ctx), role, req.Code, identity.AccountID); derr != nil {
			s.logger.Error("failed to discard undelivered access code",
				zap.String("account_id", identity.AccountID),
				zap.String("role", string(role)),
				zap.Error(derr))
		}
		s.logger.Warn("access code dispatch failed",
			zap.String("account_id", identity.AccountID),
			zap.String("role", string(role)),
			zap.Error(err))
		s.record(ctx, identity, role, models.EventAccessRequestFailed, "dispatch_failed")
		s.outcome(role, "request", "dispatch_failed")
		return newError(ErrNotificationFailed, "Failed to send "+string(role)+" access email")
	}
	s.metrics.ObserveDispatch(string(role), "success", s.clock.Now().Sub(start))

	s.logger.Info("elevated access requested",
		zap.String("account_id", identity.AccountID),
		zap.String("role", string(role)))
	s.record(ctx, identity, role, models.EventAccessRequested, "")
	s.outcome(role, "request", "success")
	return nil
}

func (s *ElevatedAccessService) issueCode(ctx context.Context, accountID string, role models.Role, ttl time.Duration) (*models.PendingRequest, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return nil, err
		}
		req := &models.PendingRequest{
			AccountID: accountID,
			Role:      role,
			Code:      code,
			CreatedAt: s.clock.Now(),
		}
		err = s.pending.Issue(ctx, req, ttl)
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, repository.ErrCodeCollision) {
			return nil, fmt.Errorf("store pending request: %w", err)
		}
		s.logger.Debug("access code collision, regenerating", zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("store pending request: %w", repository.ErrCodeCollision)
}

// VerifyAccess consumes code and, when it belongs to identity, persists a new
// grant for role.
func (s *ElevatedAccessService) VerifyAccess(ctx context.Context, identity *models.Identity, role models.Role, code string) (*GrantReceipt, error) {
	policy, err := s.policies.Lookup(role)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, newError(ErrInvalidInput, role.Title()+" access code is required")
	}
	if err := checkIdentity(identity, role); err != nil {
		s.outcome(role, "verify", "rejected")
		return nil, err
	}
	if err := s.checkVerifyLockout(ctx, identity.AccountID, role); err != nil {
		s.outcome(role, "verify", "throttled")
		return nil, err
	}

	if !validCode(code, s.codeLength) {
		return nil, s.verifyFailed(ctx, identity, role)
	}

	if _, err := s.pending.Consume(ctx, role, code, identity.AccountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.verifyFailed(ctx, identity, role)
		}
		s.outcome(role, "verify", "error")
		return nil, fmt.Errorf("consume pending request: %w", err)
	}

	secret, err := newGrantSecret()
	if err != nil {
		return nil, err
	}
	expiresAt := s.clock.Now().Add(policy.GrantDuration)
	grant := models.Grant{Token: hashing.TokenDigest(secret), ExpiresAt: expiresAt}
	if err := s.profiles.SetGrant(ctx, identity.AccountID, role, grant); err != nil {
		s.outcome(role, "verify", "error")
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrElevatedAccess, role.Title()+" profile not found")
		}
		return nil, fmt.Errorf("persist grant: %w", err)
	}

	s.resetVerifyFailures(ctx, identity.AccountID, role)
	s.logger.Info("elevated access granted",
		zap.String("account_id", identity.AccountID),
		zap.String("role", string(role)),
		zap.Time("expires_at", expiresAt))
	s.record(ctx, identity, role, models.EventAccessGranted, "")
	s.outcome(role, "verify", "success")

	return &GrantReceipt{Role: role, ExpiresAt: expiresAt}, nil
}

func (s *ElevatedAccessService) verifyFailed(ctx context.Context, identity *models.Identity, role models.Role) error {
	if t := s.throttle; t != nil && t.VerifyMaxFailures > 0 {
		if _, err := t.Counter.Increment(ctx, verifyFailureKey(role, identity.AccountID), t.VerifyLockout); err != nil {
			s.logger.Warn("failed to count verification failure", zap.Error(err))
		}
	}
	s.record(ctx, identity, role, models.EventAccessVerifyFailed, "")
	s.outcome(role, "verify", "invalid_code")
	return newError(ErrInvalidOrExpiredCode, "Invalid or expired "+string(role)+" access code")
}

// CheckStatus reports whether identity holds a live grant for role. It never
// mutates state.
func (s *ElevatedAccessService) CheckStatus(ctx context.Context, identity *models.Identity, role models.Role) (*AccessStatus, error) {
	if _, err := s.policies.Lookup(role); err != nil {
		return nil, err
	}
	if err := checkIdentity(identity, role); err != nil {
		return nil, err
	}

	profile, err := s.profiles.GetProfile(ctx, identity.AccountID, role)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &AccessStatus{}, nil
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}

	status := &AccessStatus{HasValidAccess: profile.GrantValidAt(s.clock.Now())}
	if profile.HasGrant() {
		expires := *profile.GrantExpiresAt
		status.GrantExpiresAt = &expires
	}
	return status, nil
}

// Revoke clears the grant of accountID for role.
func (s *ElevatedAccessService) Revoke(ctx context.Context, accountID string, role models.Role, reason string) error {
	if _, err := s.policies.Lookup(role); err != nil {
		return err
	}
	if err := s.profiles.ClearGrant(ctx, accountID, role); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(ErrNotFound, role.Title()+" profile not found")
		}
		return fmt.Errorf("clear grant: %w", err)
	}

	s.logger.Info("elevated access revoked",
		zap.String("account_id", accountID),
		zap.String("role", string(role)),
		zap.String("reason", reason))
	s.record(ctx, &models.Identity{AccountID: accountID, Role: role}, role, models.EventAccessRevoked, reason)
	s.outcome(role, "revoke", reason)
	return nil
}

// RevokeForAccount is the hook used by logout, password change and
// deactivation. Non-elevated identities and missing profiles are a no-op.
func (s *ElevatedAccessService) RevokeForAccount(ctx context.Context, identity *models.Identity, reason string) error {
	if identity == nil || !identity.Role.Elevated() {
		return nil
	}
	err := s.Revoke(ctx, identity.AccountID, identity.Role, reason)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// expireGrant clears a grant observed as expired, but only while it still
// carries the observed token so a grant re-issued in the meantime survives.
func (s *ElevatedAccessService) expireGrant(ctx context.Context, profile *models.ElevatedProfile, reason string) {
	cleared, err := s.profiles.ClearGrantIfMatch(ctx, profile.AccountID, profile.Role, profile.GrantToken)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("failed to clear stale grant",
			zap.String("account_id", profile.AccountID),
			zap.String("role", string(profile.Role)),
			zap.Error(err))
		return
	}
	if !cleared {
		return
	}
	s.logger.Info("stale grant cleared",
		zap.String("account_id", profile.AccountID),
		zap.String("role", string(profile.Role)),
		zap.String("reason", reason))
	s.record(ctx, &models.Identity{AccountID: profile.AccountID, Role: profile.Role}, profile.Role, models.EventAccessExpired, reason)
}

func (s *ElevatedAccessService) checkRequestRate(ctx context.Context, accountID string, role models.Role) error {
	t := s.throttle
	if t == nil || t.RequestLimit <= 0 {
		return nil
	}
	n, err := t.Counter.Increment(ctx, requestKey(role, accountID), t.RequestWindow)
	if err != nil {
		return fmt.Errorf("count access requests: %w", err)
	}
	if n > t.RequestLimit {
		return newError(ErrTooManyRequests, "Too many "+string(role)+" access requests, try again later")
	}
	return nil
}

func (s *ElevatedAccessService) checkVerifyLockout(ctx context.Context, accountID string, role models.Role) error {
	t := s.throttle
	if t == nil || t.VerifyMaxFailures <= 0 {
		return nil
	}
	n, err := t.Counter.Count(ctx, verifyFailureKey(role, accountID))
	if err != nil {
		return fmt.Errorf("count verification failures: %w", err)
	}
	if n >= t.VerifyMaxFailures {
		return newError(ErrTooManyRequests, "Too many failed attempts, request a new code later")
	}
	return nil
}

func (s *ElevatedAccessService) resetVerifyFailures(ctx context.Context, accountID string, role models.Role) {
	t := s.throttle
	if t == nil || t.VerifyMaxFailures <= 0 {
		return
	}
	if err := t.Counter.Reset(ctx, verifyFailureKey(role, accountID)); err != nil {
		s.logger.Warn("failed to reset verification failures", zap.Error(err))
	}
}

func (s *ElevatedAccessService) record(ctx context.Context, identity *models.Identity, role models.Role, typ models.AccessEventType, reason string) {
	err := s.recorder.Record(context.WithoutCancel(ctx), models.AccessEvent{
		AccountID:  identity.AccountID,
		Role:       role,
		Type:       typ,
		Reason:     reason,
		SessionID:  identity.SessionID,
		OccurredAt: s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to record access event", zap.String("event_type", string(typ)), zap.Error(err))
	}
}

func (s *ElevatedAccessService) outcome(role models.Role, operation, outcome string) {
	s.metrics.Operation(string(role), operation, outcome)
}

func checkIdentity(identity *models.Identity, role models.Role) error {
	if identity == nil {
		return newError(ErrUnauthorized, "Unauthorized")
	}
	if !identity.Active {
		return newError(ErrUnauthorized, "Account is not active")
	}
	if identity.Role != role {
		return newError(ErrForbidden, "You are not authorized for "+string(role)+" access")
	}
	return nil
}

func requestKey(role models.Role, accountID string) string {
	return "access_request:" + string(role) + ":" + accountID
}

func verifyFailureKey(role models.Role, accountID string) string {
	return "access_verify_fail:" + string(role) + ":" + accountID
}

