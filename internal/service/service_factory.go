package service

import (
	"fmt"

	"go.uber.org/zap"

	"storefront-api/internal/audit"
	"storefront-api/internal/clock"
	"storefront-api/internal/config"
	"storefront-api/internal/encryption"
	"storefront-api/internal/hashing"
	"storefront-api/internal/metrics"
	"storefront-api/internal/notify"
	"storefront-api/internal/repository"
)

// Stores groups the storage backends the services run on.
type Stores struct {
	Accounts repository.AccountStore
	Sessions repository.SessionStore
	Profiles repository.ProfileStore
	Pending  repository.PendingAccessStore
	Attempts repository.AttemptCounter
}

type Dependencies struct {
	Stores     Stores
	Hasher     *hashing.Hasher
	Encryption *encryption.EncryptionManager
	Dispatcher notify.Dispatcher
	Recorder   audit.Recorder
	Metrics    *metrics.Metrics
	Clock      clock.Clock
	Logger     *zap.Logger
	// CodeGenerator overrides the crypto/rand code source when set.
	CodeGenerator CodeGenerator
}

// ServiceFactory creates the services once and hands out the shared instances.
type ServiceFactory struct {
	tokens *TokenIssuer
	access *ElevatedAccessService
	auth   *AuthService
	guard  *AccessGuard
}

func NewServiceFactory(cfg *config.Config, deps Dependencies) (*ServiceFactory, error) {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Recorder == nil {
		deps.Recorder = audit.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	tokens, err := NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.SessionTTL, deps.Clock)
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	ea := cfg.ElevatedAccess
	codes := deps.CodeGenerator
	if codes == nil {
		codes = DigitCodeGenerator{Length: ea.CodeLength}
	}
	opts := []Option{
		WithPolicies(PoliciesFromConfig(ea)),
		WithClock(deps.Clock),
		WithCodeGenerator(codes, ea.CodeLength),
		WithRecorder(deps.Recorder),
		WithMetrics(deps.Metrics),
	}
	if deps.Stores.Attempts != nil {
		opts = append(opts, WithThrottle(Throttle{
			Counter:           deps.Stores.Attempts,
			RequestLimit:      ea.RequestLimit,
			RequestWindow:     ea.RequestWindow,
			VerifyMaxFailures: ea.VerifyMaxFailures,
			VerifyLockout:     ea.VerifyLockout,
		}))
	}

	s := deps.Stores
	access := NewElevatedAccessService(
		s.Pending,
		s.Profiles,
		NewAccountContacts(s.Accounts, deps.Encryption),
		deps.Dispatcher,
		deps.Logger.Named("elevated_access"),
		opts...,
	)
	auth := NewAuthService(s.Accounts, s.Sessions, s.Profiles, deps.Hasher, deps.Encryption,
		tokens, access, deps.Clock, deps.Logger.Named("auth"))
	guard := NewAccessGuard(tokens, s.Sessions, s.Accounts, s.Profiles, access, deps.Logger.Named("guard"))

	return &ServiceFactory{tokens: tokens, access: access, auth: auth, guard: guard}, nil
}

func (f *ServiceFactory) Tokens() *TokenIssuer { return f.tokens }

func (f *ServiceFactory) ElevatedAccess() *ElevatedAccessService { return f.access }

func (f *ServiceFactory) Auth() *AuthService { return f.auth }

func (f *ServiceFactory) Guard() *AccessGuard { return f.guard }
