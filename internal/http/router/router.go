package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/straye-as/lead-engine/internal/auth"
	"github.com/straye-as/lead-engine/internal/config"
	"github.com/straye-as/lead-engine/internal/database"
	"github.com/straye-as/lead-engine/internal/http/handler"
	"github.com/straye-as/lead-engine/internal/http/middleware"
	"github.com/straye-as/lead-engine/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// healthTimeout bounds the database ping of the health endpoints
const healthTimeout = 3 * time.Second

type Router struct {
	cfg            *config.Config
	logger         *zap.Logger
	db             *gorm.DB
	metrics        *metrics.Metrics
	gatherer       prometheus.Gatherer
	authMiddleware *auth.Middleware
	tenantScope    *middleware.TenantScope
	rateLimiter    *middleware.RateLimiter
	leadHandler    *handler.LeadHandler
	eventsHandler  *handler.EventsHandler
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	authMiddleware *auth.Middleware,
	tenantScope *middleware.TenantScope,
	rateLimiter *middleware.RateLimiter,
	leadHandler *handler.LeadHandler,
	eventsHandler *handler.EventsHandler,
) *Router {
	return &Router{
		cfg:            cfg,
		logger:         logger,
		db:             db,
		metrics:        m,
		gatherer:       gatherer,
		authMiddleware: authMiddleware,
		tenantScope:    tenantScope,
		rateLimiter:    rateLimiter,
		leadHandler:    leadHandler,
		eventsHandler:  eventsHandler,
	}
}

func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(rt.logger))
	r.Use(middleware.Logging(rt.logger, rt.metrics))
	r.Use(middleware.SecurityHeaders(rt.cfg.App.Environment))
	r.Use(middleware.CORS(&rt.cfg.CORS, rt.cfg.App.Environment, rt.logger))
	r.Use(rt.rateLimiter.LimitByIP)

	// Liveness probe
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Readiness probe with pool statistics
	r.Get("/health/ready", rt.ready)

	r.Handle("/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rt.authMiddleware.Authenticate)
			r.Use(rt.tenantScope.Require)
			r.Use(rt.rateLimiter.Limit)

			// Website form intake, called with the tenant's API key
			r.Post("/public/leads", rt.leadHandler.SubmitForm)

			r.Route("/leads", func(r chi.Router) {
				r.Get("/", rt.leadHandler.List)
				r.Post("/", rt.leadHandler.Create)
				r.With(rt.authMiddleware.RequireAdmin).Post("/import", rt.leadHandler.Import)
				r.Get("/{id}", rt.leadHandler.GetByID)
				r.Patch("/{id}", rt.leadHandler.Update)
				r.Put("/{id}/status", rt.leadHandler.UpdateStatus)
				r.Post("/{id}/proposal", rt.leadHandler.SendProposal)
				r.With(rt.authMiddleware.RequireAdmin).Delete("/{id}", rt.leadHandler.Delete)
			})

			r.Get("/agents/{id}/leads", rt.leadHandler.ListByAgent)

			r.Get("/events", rt.eventsHandler.Stream)
		})
	})

	return r
}

func (rt *Router) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	stats, err := database.HealthCheckWithStats(ctx, rt.db)
	if err != nil {
		rt.logger.Error("database health check failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "unhealthy",
			"checks": map[string]interface{}{
				"database": map[string]interface{}{"status": "unhealthy", "error": err.Error()},
			},
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"checks": map[string]interface{}{
			"database": map[string]interface{}{
				"status":           "healthy",
				"open_connections": stats.OpenConnections,
				"in_use":           stats.InUse,
				"idle":             stats.Idle,
				"wait_count":       stats.WaitCount,
				"wait_duration_ms": stats.WaitDuration.Milliseconds(),
			},
		},
	})
}
