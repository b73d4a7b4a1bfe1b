// Package bootstrap wires the crop engine and its dependencies from
// configuration for the streetcrop commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/roadcondition/streetcrop/internal/cachestore"
	"github.com/roadcondition/streetcrop/internal/config"
	"github.com/roadcondition/streetcrop/internal/engine"
	"github.com/roadcondition/streetcrop/internal/provider/resilience"
	"github.com/roadcondition/streetcrop/internal/routing"
	"github.com/roadcondition/streetcrop/internal/routing/openrouteservice"
	"github.com/roadcondition/streetcrop/internal/streetview/google"
	"github.com/roadcondition/streetcrop/internal/telemetry"
)

// readinessKey is never written, so a healthy store answers ErrNotFound.
const readinessKey = "ready/probe"

// Engine bundles a configured crop engine with the handles it depends on.
type Engine struct {
	Service  *engine.Service
	Store    cachestore.Store
	Registry *resilience.Registry
	// Router is nil unless routing.api_key is set.
	Router routing.Provider

	closeStore func()
}

// NewEngine opens the cache backend and builds the provider client and
// engine. Metrics instruments are created against the global meter, so
// telemetry should be initialized first.
func NewEngine(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Engine, error) {
	store, closeStore, err := cachestore.Open(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("opening %s cache: %w", cfg.Cache.Backend, err)
	}
	log.Info().Str("backend", cfg.Cache.Backend).Msg("cache store opened")

	providerMetrics, err := telemetry.NewProviderMetrics()
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("creating provider metrics: %w", err)
	}
	engineMetrics, err := telemetry.NewEngineMetrics()
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("creating engine metrics: %w", err)
	}

	registry := resilience.NewRegistry()
	provider := google.NewClient(google.ClientConfig{
		APIKey:            cfg.Provider.APIKey,
		MetadataURL:       cfg.Provider.MetadataURL,
		PhotoMetaURL:      cfg.Provider.PhotoMetaURL,
		TileURL:           cfg.Provider.TileURL,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Registry:          registry,
		Metrics:           providerMetrics,
		Logger:            log.With().Str("component", "streetview").Logger(),
	})

	svc := engine.NewService(engine.ServiceConfig{
		Provider:        provider,
		Store:           store,
		TileConcurrency: cfg.Engine.TileConcurrency,
		Metrics:         engineMetrics,
		Logger:          log.With().Str("component", "engine").Logger(),
	})

	e := &Engine{
		Service:    svc,
		Store:      store,
		Registry:   registry,
		closeStore: closeStore,
	}
	if cfg.Routing.APIKey != "" {
		e.Router = openrouteservice.NewClient(openrouteservice.ClientConfig{
			APIKey:   cfg.Routing.APIKey,
			BaseURL:  cfg.Routing.BaseURL,
			Timeout:  cfg.Routing.Timeout,
			Registry: registry,
			Logger:   log.With().Str("component", "routing").Logger(),
		})
		log.Info().Str("provider", openrouteservice.ProviderName).Msg("routing enabled")
	}
	return e, nil
}

// CheckCache reports whether the cache backend answers lookups.
func (e *Engine) CheckCache(ctx context.Context) error {
	_, err := e.Store.Get(ctx, readinessKey)
	if err == nil || errors.Is(err, cachestore.ErrNotFound) {
		return nil
	}
	return err
}

// Close releases the cache backend.
func (e *Engine) Close() {
	e.closeStore()
}

// Telemetry initializes OpenTelemetry from configuration.
func Telemetry(ctx context.Context, cfg *config.Config, version string) (*telemetry.Provider, error) {
	return telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
}
