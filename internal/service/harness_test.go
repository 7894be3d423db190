package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront-api/internal/audit"
	"storefront-api/internal/bucketing"
	"storefront-api/internal/clock"
	"storefront-api/internal/config"
	"storefront-api/internal/encryption"
	"storefront-api/internal/hashing"
	"storefront-api/internal/models"
	"storefront-api/internal/notify"
	"storefront-api/internal/repository/memory"
)

const (
	testCode   = "482913"
	secondCode = "551207"
)

// sequenceCodes hands out codes in order, then numbered fallbacks.
type sequenceCodes struct {
	mu    sync.Mutex
	codes []string
	next  int
}

func (g *sequenceCodes) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.next
	g.next++
	if i < len(g.codes) {
		return g.codes[i], nil
	}
	return fmt.Sprintf("9%05d", i), nil
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []notify.AccessCodeMessage
	fail bool
}

func (d *fakeDispatcher) SendAccessCode(_ context.Context, msg notify.AccessCodeMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("smtp: connection refused")
	}
	d.sent = append(d.sent, msg)
	return nil
}

func (d *fakeDispatcher) last() notify.AccessCodeMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[len(d.sent)-1]
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type harness struct {
	clock    *clock.FakeClock
	accounts *memory.AccountStore
	sessions *memory.SessionStore
	profiles *memory.ProfileStore
	pending  *memory.PendingStore
	attempts *memory.AttemptCounter
	mailer   *fakeDispatcher
	events   *audit.MemorySink
	factory  *ServiceFactory
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Auth: config.AuthConfig{
			JWTSecret:  "test-secret-that-is-long-enough",
			JWTIssuer:  "storefront-api",
			SessionTTL: 24 * time.Hour,
		},
		ElevatedAccess: config.ElevatedAccessConfig{
			Admin:             config.RolePolicyConfig{PendingTTL: 30 * time.Minute, GrantDuration: 12 * time.Hour},
			Partner:           config.RolePolicyConfig{PendingTTL: 30 * time.Minute, GrantDuration: 720 * time.Hour},
			CodeLength:        6,
			RequestLimit:      5,
			RequestWindow:     15 * time.Minute,
			VerifyMaxFailures: 5,
			VerifyLockout:     15 * time.Minute,
		},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  64,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           map[int]string{1: "test-pepper"},
		},
		Bucketing: config.BucketingConfig{AccountBuckets: 8, EventBuckets: 8},
	}
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, testConfig())
}

func newHarnessWith(t *testing.T, cfg *config.Config) *harness {
	t.Helper()

	fc := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	h := &harness{
		clock:    fc,
		accounts: memory.NewAccountStore(fc),
		sessions: memory.NewSessionStore(fc),
		profiles: memory.NewProfileStore(fc),
		pending:  memory.NewPendingStore(fc),
		attempts: memory.NewAttemptCounter(fc),
		mailer:   &fakeDispatcher{},
		events:   audit.NewMemorySink(),
	}

	hasher, err := hashing.NewHasher(cfg.Hashing)
	require.NoError(t, err)
	em, err := encryption.NewEncryptionManager(cfg.KMS, nil)
	require.NoError(t, err)

	h.factory, err = NewServiceFactory(cfg, Dependencies{
		Stores: Stores{
			Accounts: h.accounts,
			Sessions: h.sessions,
			Profiles: h.profiles,
			Pending:  h.pending,
			Attempts: h.attempts,
		},
		Hasher:        hasher,
		Encryption:    em,
		Dispatcher:    h.mailer,
		Recorder:      audit.NewFanout(bucketing.NewBucketingManager(cfg.Bucketing), h.events),
		Clock:         fc,
		Logger:        zap.NewNop(),
		CodeGenerator: &sequenceCodes{codes: []string{testCode, secondCode}},
	})
	require.NoError(t, err)
	return h
}

func (h *harness) access() *ElevatedAccessService { return h.factory.ElevatedAccess() }
func (h *harness) auth() *AuthService { return h.factory.Auth() }
func (h *harness) guard() *AccessGuard { return h.factory.Guard() }

// register creates an account of role and returns its identity.
func (h *harness) register(t *testing.T, email string, role models.Role) *models.Identity {
	t.Helper()
	account, err := h.auth().CreateAccount(context.Background(), RegisterRequest{
		Email:     email,
		Password:  "correct horse battery",
		FirstName: "Test",
		LastName:  "User",
	}, role)
	require.NoError(t, err)
	identity := account.Identity("session-" + account.AccountID)
	return &identity
}

func (h *harness) eventTypes(accountID string) []models.AccessEventType {
	var out []models.AccessEventType
	for _, e := range h.events.Events() {
		if e.AccountID == accountID {
			out = append(out, e.Type)
		}
	}
	return out
}
