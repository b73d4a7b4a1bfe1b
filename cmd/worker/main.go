// Package main provides the entrypoint for the streetcrop prefetch worker.
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

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/roadcondition/streetcrop/internal/api/handler"
	"github.com/roadcondition/streetcrop/internal/api/middleware"
	"github.com/roadcondition/streetcrop/internal/api/response"
	"github.com/roadcondition/streetcrop/internal/bootstrap"
	"github.com/roadcondition/streetcrop/internal/config"
	"github.com/roadcondition/streetcrop/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "streetcrop-worker"

	cfg, err := config.Load(serviceName)
	if err != nil {
		config.NewLogger(serviceName, Version, zerolog.InfoLevel).Fatal().Err(err).Msg("invalid configuration")
	}
	log := cfg.Logger(serviceName, Version)
	log.Info().Str("build_time", BuildTime).Msg("starting streetcrop worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := bootstrap.Telemetry(ctx, cfg, Version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	eng, err := bootstrap.NewEngine(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize crop engine")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	defer eng.Close()

	job := worker.NewPrefetchJob(worker.PrefetchJobConfig{
		Config: worker.PrefetchConfig{
			Concurrency:   cfg.Worker.Concurrency,
			SpacingMeters: cfg.Worker.SpacingMeters,
			Zoom:          cfg.Engine.DefaultZoom,
			Profile:       cfg.Routing.Profile,
		},
		Cropper: eng.Service,
		Router:  eng.Router,
		Logger:  log.With().Str("component", "prefetch").Logger(),
	})

	// Health endpoints for the container platform.
	ops := handler.NewOpsHandler(handler.OpsConfig{
		Version:   Version,
		BuildTime: BuildTime,
		Registry:  eng.Registry,
		Checks:    map[string]handler.CheckFunc{"cache": eng.CheckCache},
	})
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Get("/health", ops.HealthCheck)
	r.Get("/ready", ops.ReadinessCheck)
	r.Get("/status", ops.SystemStatus)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, job.MetricsSnapshot())
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	if cfg.Worker.ProjectID != "" && cfg.Worker.SubscriptionID != "" {
		subscriber, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.Worker.ProjectID,
			SubscriptionName: cfg.Worker.SubscriptionID,
			PrefetchJob:      job,
			Registry:         eng.Registry,
			JobTimeout:       cfg.Worker.JobTimeout,
			Logger:           log,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to create pubsub handler")
			os.Exit(1)
		}
		defer func() {
			if err := subscriber.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		go func() {
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub receive stopped")
				cancel()
			}
		}()
	} else {
		log.Warn().Msg("worker.project_id or worker.subscription_id not set - not consuming jobs")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
