// Package main provides the entrypoint for the streetcrop API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadcondition/streetcrop/internal/api"
	"github.com/roadcondition/streetcrop/internal/api/handler"
	"github.com/roadcondition/streetcrop/internal/api/middleware"
	"github.com/roadcondition/streetcrop/internal/auth"
	"github.com/roadcondition/streetcrop/internal/bootstrap"
	"github.com/roadcondition/streetcrop/internal/config"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "streetcrop-api"

	cfg, err := config.Load(serviceName)
	if err != nil {
		config.NewLogger(serviceName, Version, zerolog.InfoLevel).Fatal().Err(err).Msg("invalid configuration")
	}
	log := cfg.Logger(serviceName, Version)

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting streetcrop API")

	ctx := context.Background()

	tp, err := bootstrap.Telemetry(ctx, cfg, Version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	eng, err := bootstrap.NewEngine(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize crop engine")
		os.Exit(1)
	}
	defer eng.Close()

	if cfg.Provider.APIKey == "" {
		log.Warn().Msg("no provider API key configured - crops need the " + handler.ProviderKeyHeader + " header")
	}

	routerCfg := api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Cropper:     eng.Service,
		DefaultZoom: cfg.Engine.DefaultZoom,
		Registry:    eng.Registry,
		Checks: map[string]handler.CheckFunc{
			"cache": eng.CheckCache,
		},
		CropRequestsPerMinute: cfg.Server.RateLimit,
		RequireTLS:            cfg.Env == "production",
	}
	if cfg.Auth.Enabled {
		routerCfg.Auth = auth.NewJWTService(auth.JWTConfig{
			SigningKey: cfg.Auth.SigningKey,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		})
		log.Info().Msg("bearer token authentication enabled")
	} else {
		log.Warn().Msg("authentication disabled - crop endpoint is open")
	}

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// In-flight crops may be stitching; allow them to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
