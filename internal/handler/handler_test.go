package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront-api/internal/audit"
	"storefront-api/internal/bucketing"
	"storefront-api/internal/clock"
	"storefront-api/internal/config"
	"storefront-api/internal/encryption"
	"storefront-api/internal/hashing"
	"storefront-api/internal/metrics"
	"storefront-api/internal/models"
	"storefront-api/internal/notify"
	"storefront-api/internal/repository/memory"
	"storefront-api/internal/service"
)

const testPassword = "correct horse battery"

type inbox struct {
	mu   sync.Mutex
	msgs []notify.AccessCodeMessage
	fail bool
}

func (i *inbox) SendAccessCode(_ context.Context, msg notify.AccessCodeMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.fail {
		return errors.New("mail relay down")
	}
	i.msgs = append(i.msgs, msg)
	return nil
}

func (i *inbox) lastCode() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.msgs[len(i.msgs)-1].Code
}

type testServer struct {
	router   chi.Router
	services *service.ServiceFactory
	clock    *clock.FakeClock
	inbox    *inbox
	events   *audit.MemorySink
	metrics  *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		Auth: config.AuthConfig{JWTSecret: "handler-test-secret-0123456789", JWTIssuer: "storefront-api", SessionTTL: 24 * time.Hour},
		ElevatedAccess: config.ElevatedAccessConfig{
			Admin:             config.RolePolicyConfig{PendingTTL: 30 * time.Minute, GrantDuration: 12 * time.Hour},
			Partner:           config.RolePolicyConfig{PendingTTL: 30 * time.Minute, GrantDuration: 720 * time.Hour},
			CodeLength:        6,
			RequestLimit:      10,
			RequestWindow:     time.Minute,
			VerifyMaxFailures: 5,
			VerifyLockout:     time.Minute,
		},
		Hashing:   config.HashingConfig{Argon2MemoryCost: 64, Argon2TimeCost: 1, Argon2Parallelism: 1, Peppers: map[int]string{1: "pepper"}},
		Bucketing: config.BucketingConfig{AccountBuckets: 4, EventBuckets: 4},
	}

	fc := clock.Fake(time.Now().UTC())
	hasher, err := hashing.NewHasher(cfg.Hashing)
	require.NoError(t, err)
	em, err := encryption.NewEncryptionManager(cfg.KMS, nil)
	require.NoError(t, err)

	ts := &testServer{clock: fc, inbox: &inbox{}, events: audit.NewMemorySink(), metrics: metrics.New()}
	ts.services, err = service.NewServiceFactory(cfg, service.Dependencies{
		Stores: service.Stores{
			Accounts: memory.NewAccountStore(fc),
			Sessions: memory.NewSessionStore(fc),
			Profiles: memory.NewProfileStore(fc),
			Pending:  memory.NewPendingStore(fc),
			Attempts: memory.NewAttemptCounter(fc),
		},
		Hasher:     hasher,
		Encryption: em,
		Dispatcher: ts.inbox,
		Recorder:   audit.NewFanout(bucketing.NewBucketingManager(cfg.Bucketing), ts.events),
		Metrics:    ts.metrics,
		Clock:      fc,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	ts.router = NewRouter(RouterConfig{
		Services: ts.services,
		Events:   ts.events,
		Metrics:  ts.metrics,
		Logger:   zap.NewNop(),
	})
	return ts
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Title   string          `json:"title"`
	Status  int             `json:"status"`
	Data    json.RawMessage `json:"data"`
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

// login provisions an account of role and returns its session token.
func (ts *testServer) login(t *testing.T, email string, role models.Role) string {
	t.Helper()
	_, err := ts.services.Auth().CreateAccount(context.Background(), service.RegisterRequest{Email: email, Password: testPassword}, role)
	require.NoError(t, err)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res.Token
}

func TestElevatedAccessFlow(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "admin@example.com", models.RoleAdmin)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/admin/access-status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"hasValidAccess":false,"grantExpiresAt":null}`, string(env.Data))

	rec, env = ts.do(t, http.MethodGet, "/api/v1/admin/accounts", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Elevated Access Required", env.Title)
	assert.Equal(t, http.StatusForbidden, env.Status)
	assert.False(t, env.Success)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/admin/request-access", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Admin access email sent successfully", env.Message)
	assert.NotContains(t, rec.Body.String(), ts.inbox.lastCode())

	code := ts.inbox.lastCode()
	rec, env = ts.do(t, http.MethodPost, "/api/v1/admin/verify-access", token, map[string]string{"code": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt struct {
		GrantExpiresAt time.Time `json:"grantExpiresAt"`
		Token          string    `json:"grantToken"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.True(t, receipt.GrantExpiresAt.After(ts.clock.Now()))
	assert.Empty(t, receipt.Token)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/admin/verify-access", token, map[string]string{"code": code})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired admin access code", env.Message)

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/admin/accounts", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestElevatedAccess_GrantExpiresBeforeSession(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "ops@example.com", models.RoleAdmin)

	ts.do(t, http.MethodPost, "/api/v1/admin/request-access", token, nil)
	rec, _ := ts.do(t, http.MethodPost, "/api/v1/admin/verify-access", token, map[string]string{"code": ts.inbox.lastCode()})
	require.Equal(t, http.StatusOK, rec.Code)

	ts.clock.Advance(12 * time.Hour)
	rec, env := ts.do(t, http.MethodGet, "/api/v1/admin/accounts", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Admin access key expired", env.Message)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/admin/access-status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"hasValidAccess":false,"grantExpiresAt":null}`, string(env.Data))
}

func TestLegacyRoutesAndKeys(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "vendor@example.com", models.RolePartner)

	rec, _ := ts.do(t, http.MethodPost, "/api/v1/partner/request-partner-access", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/partner/verify-partner-access", token, map[string]string{"partnerKey": ts.inbox.lastCode()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env := ts.do(t, http.MethodGet, "/api/v1/partner/check-partner-status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Partner status retrieved", env.Message)

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/partner/dashboard", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/admin/request-admin-access", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Insufficient permissions", env.Message)
}

func TestRoleChecks(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "buyer@example.com", models.RoleCustomer)

	rec, _ := ts.do(t, http.MethodPost, "/api/v1/customer/request-access", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/admin/request-access", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", env.Title)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/admin/request-access", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Please provide a token", env.Message)
}

func TestDispatchFailureIsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "nomail@example.com", models.RoleAdmin)
	ts.inbox.fail = true

	rec, env := ts.do(t, http.MethodPost, "/api/v1/admin/request-access", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Failed to send admin access email", env.Message)
}

func TestLogoutRevokesGrant(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "bye@example.com", models.RoleAdmin)

	ts.do(t, http.MethodPost, "/api/v1/admin/request-access", token, nil)
	rec, _ := ts.do(t, http.MethodPost, "/api/v1/admin/verify-access", token, map[string]string{"adminKey": ts.inbox.lastCode()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "bye@example.com", "password": testPassword})
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		HasValidAccess *bool `json:"hasValidAccess"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.NotNil(t, res.HasValidAccess)
	assert.False(t, *res.HasValidAccess)
}

func TestAdminSurface(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, "root@example.com", models.RoleAdmin)
	ts.login(t, "shop@example.com", models.RolePartner)

	ts.do(t, http.MethodPost, "/api/v1/admin/request-access", admin, nil)
	rec, _ := ts.do(t, http.MethodPost, "/api/v1/admin/verify-access", admin, map[string]string{"code": ts.inbox.lastCode()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/admin/accounts?limit=10", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var accounts []models.Account
	require.NoError(t, json.Unmarshal(env.Data, &accounts))
	require.Len(t, accounts, 2)

	var partnerID string
	for _, a := range accounts {
		if a.Role == models.RolePartner {
			partnerID = a.AccountID
		}
	}
	require.NotEmpty(t, partnerID)

	rec, env = ts.do(t, http.MethodPut, "/api/v1/admin/accounts/"+partnerID, admin, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "An account's role cannot be changed", env.Message)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/admin/accounts/"+partnerID+"/revoke-access", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/admin/accounts/"+partnerID+"/access-events", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.AccessEvent
	require.NoError(t, json.Unmarshal(env.Data, &events))
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventAccessRevoked, events[0].Type)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/admin/accounts/"+partnerID+"/deactivate", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/admin/accounts/does-not-exist", admin, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "new@example.com", "password": testPassword})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)
	assert.NotContains(t, rec.Body.String(), "password")

	rec, env = ts.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "new@example.com", "password": testPassword})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Conflict", env.Title)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/auth/register-as-partner", "", map[string]string{"email": "p@example.com", "password": testPassword})
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString("{not json"))
	out := httptest.NewRecorder()
	ts.router.ServeHTTP(out, req)
	require.Equal(t, http.StatusBadRequest, out.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec, _ = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/health"`)

	rec, env := ts.do(t, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
}

func TestGetStatusCode(t *testing.T) {
	cases := map[error]int{
		service.ErrUnauthorized:         http.StatusUnauthorized,
		service.ErrForbidden:            http.StatusForbidden,
		service.ErrElevatedAccess:       http.StatusForbidden,
		service.ErrInvalidOrExpiredCode: http.StatusUnauthorized,
		service.ErrNotificationFailed:   http.StatusBadRequest,
		service.ErrTooManyRequests:      http.StatusTooManyRequests,
		service.ErrRoleImmutable:        http.StatusBadRequest,
		errors.New("boom"):              http.StatusInternalServerError,
	}
	for err, want := range cases {
		got, _ := getStatusCode(err)
		assert.Equal(t, want, got, err.Error())
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireHTTPS(t *testing.T) {
	h := RequireHTTPS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
