package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"storefront-api/internal/audit"
	"storefront-api/internal/config"
	"storefront-api/internal/metrics"
	"storefront-api/internal/service"
)

const maxBodyBytes = 1 << 20

// HealthChecker reports backend health for /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type RouterConfig struct {
	Services    *service.ServiceFactory
	Events      audit.EventSearcher
	Metrics     *metrics.Metrics
	Health      HealthChecker
	Logger      *zap.Logger
	CORSOrigins []string
	RateLimit   config.RateLimitConfig
	// RequireTLS rejects plain HTTP requests with 426.
	RequireTLS bool
}

// NewRouter creates the chi router with all middleware and routes.
func NewRouter(rc RouterConfig) chi.Router {
	logger := rc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	events := rc.Events
	if events == nil {
		events = audit.NewMemorySink()
	}

	router := chi.NewRouter()

	if rc.RequireTLS {
		router.Use(RequireHTTPS)
	}
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	if rc.Metrics != nil {
		router.Use(rc.Metrics.Instrument)
	}
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(SecurityHeaders)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rc.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if rc.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := rc.Health.HealthCheck(ctx); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":  "unhealthy",
					"service": "storefront-api",
				})
				return
			}
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "storefront-api"})
	})
	if rc.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", rc.Metrics.Handler())
	}

	mw := NewMiddleware(rc.Services.Guard(), logger)
	router.Route("/api/v1", func(r chi.Router) {
		if rc.RateLimit.RequestsPerSecond > 0 {
			r.Use(RateLimit(rc.RateLimit.RequestsPerSecond, rc.RateLimit.Burst))
		}
		r.Use(MaxBodyBytes(maxBodyBytes))

		NewAuthHandler(rc.Services.Auth(), logger).RegisterRoutes(r, mw)
		NewElevatedAccessHandler(rc.Services.ElevatedAccess(), logger).RegisterRoutes(r, mw)
		NewAdminHandler(rc.Services.Auth(), events, logger).RegisterRoutes(r, mw)
		NewPartnerHandler(rc.Services.Auth(), rc.Services.ElevatedAccess(), logger).RegisterRoutes(r, mw)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithStatus(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), "Endpoint not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithStatus(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed), "Method not allowed")
	})

	return router
}
