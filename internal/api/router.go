// Package api provides the HTTP API for streetcrop.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/roadcondition/streetcrop/internal/api/handler"
	"github.com/roadcondition/streetcrop/internal/api/middleware"
	"github.com/roadcondition/streetcrop/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Cropper     handler.Cropper
	DefaultZoom int
	Registry    *resilience.Registry
	Checks      map[string]handler.CheckFunc

	// Auth guards crops and status when set. Nil leaves them open.
	Auth middleware.TokenValidator
	// CropRequestsPerMinute overrides middleware.CropRateLimit when positive.
	CropRequestsPerMinute int
	RequireTLS            bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "streetcrop-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
		Checks:    cfg.Checks,
	})

	authenticate := func(next http.Handler) http.Handler { return next }
	if cfg.Auth != nil {
		authenticate = middleware.Auth(cfg.Auth)
	}

	cropLimit := middleware.CropRateLimit
	if cfg.CropRequestsPerMinute > 0 {
		cropLimit = middleware.RateLimitConfig{
			RequestLimit: cfg.CropRequestsPerMinute,
			WindowLength: time.Minute,
		}
	}

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(middleware.StandardRateLimit))
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(authenticate).Get("/status", opsHandler.SystemStatus)
		})

		if cfg.Cropper != nil {
			cropHandler := handler.NewCropHandler(cfg.Cropper, cfg.DefaultZoom)
			r.Group(func(r chi.Router) {
				r.Use(authenticate)
				r.Use(middleware.RateLimitByClient(cropLimit))
				r.Get("/crops", cropHandler.GetCrop)
				r.Head("/crops", cropHandler.GetCrop)
			})
		}
	})

	return r
}
