package bootstrap_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadcondition/streetcrop/internal/bootstrap"
	"github.com/roadcondition/streetcrop/internal/cachestore"
	"github.com/roadcondition/streetcrop/internal/config"
)

func TestNewEngine_FileCache(t *testing.T) {
	cfg := &config.Config{
		Cache:  cachestore.Config{Backend: cachestore.BackendFile, Dir: t.TempDir()},
		Engine: config.EngineConfig{TileConcurrency: 2, DefaultZoom: 3},
	}

	e, err := bootstrap.NewEngine(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	assert.NotNil(t, e.Service)
	assert.NotNil(t, e.Registry)
	assert.NoError(t, e.CheckCache(context.Background()))
	assert.Equal(t, []string{"google-streetview", "google-streetview-photometa", "google-streetview-tiles"}, e.Registry.GetProviderNames())
	assert.Nil(t, e.Router)
}

func TestNewEngine_RoutingEnabled(t *testing.T) {
	cfg := &config.Config{
		Cache:   cachestore.Config{Backend: cachestore.BackendMemory},
		Engine:  config.EngineConfig{TileConcurrency: 1, DefaultZoom: 3},
		Routing: config.RoutingConfig{APIKey: "ors-key", Timeout: time.Second},
	}

	e, err := bootstrap.NewEngine(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	require.NotNil(t, e.Router)
	assert.Equal(t, "openrouteservice", e.Router.Name())
	assert.Equal(t, []string{"google-streetview", "google-streetview-photometa", "google-streetview-tiles", "openrouteservice"}, e.Registry.GetProviderNames())
}

func TestNewEngine_UnknownBackend(t *testing.T) {
	cfg := &config.Config{Cache: cachestore.Config{Backend: "s3"}}

	_, err := bootstrap.NewEngine(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "s3")
}

func TestTelemetry_Disabled(t *testing.T) {
	cfg := &config.Config{Telemetry: config.TelemetryConfig{ServiceName: "streetcrop-test"}}

	tp, err := bootstrap.Telemetry(context.Background(), cfg, "test")
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}
