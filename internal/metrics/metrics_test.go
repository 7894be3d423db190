package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestInstrument_UsesRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/accounts/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}

	body := scrape(t, m)
	require.Contains(t, body, `http_requests_total{method="GET",route="/accounts/{id}",status="418"} 2`)
	require.Contains(t, body, "http_in_flight_requests 0")
}

func TestOperationCounters(t *testing.T) {
	m := New()
	m.Operation("admin", "verify", "success")
	m.Operation("admin", "verify", "success")
	m.GuardDecision("partner", "expired")
	m.ObserveDispatch("admin", "success", 0)

	body := scrape(t, m)
	require.Contains(t, body, `elevated_access_operations_total{operation="verify",outcome="success",role="admin"} 2`)
	require.Contains(t, body, `elevated_access_guard_decisions_total{result="expired",role="partner"} 1`)
	require.Contains(t, body, `elevated_access_code_dispatch_seconds_count{outcome="success",role="admin"} 1`)

	var nilMetrics *Metrics
	require.NotPanics(t, func() { nilMetrics.Operation("admin", "verify", "success") })
}
