package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadcondition/streetcrop/internal/telemetry"
)

func TestNewEngineMetrics(t *testing.T) {
	m, err := telemetry.NewEngineMetrics()
	require.NoError(t, err)
	require.NotNil(t, m)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordCacheLookup(ctx, "crop", true)
		m.RecordZoomDegradation(ctx, 3)
		m.RecordTileFetch(ctx, 3, nil)
		m.RecordOffsetFallback(ctx)
		m.RecordCrop(ctx, 250*time.Millisecond, false, assert.AnError)
	})
}

func TestEngineMetrics_NilIsNoop(t *testing.T) {
	var m *telemetry.EngineMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordCacheLookup(ctx, "tile", false)
		m.RecordZoomDegradation(ctx, 2)
		m.RecordTileFetch(ctx, 2, assert.AnError)
		m.RecordOffsetFallback(ctx)
		m.RecordCrop(ctx, time.Second, true, nil)
	})
}

func TestProviderMetrics(t *testing.T) {
	m, err := telemetry.NewProviderMetrics()
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.RecordRequest("google", "metadata", 40*time.Millisecond, nil)
		m.RecordRequest("google", "tile", 10*time.Millisecond, assert.AnError)
	})

	var nilMetrics *telemetry.ProviderMetrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordRequest("google", "photometa", time.Millisecond, nil)
	})
}

func TestProvider_Shutdown_Disabled(t *testing.T) {
	provider, err := telemetry.Init(context.Background(), telemetry.Config{ServiceName: "streetcrop"})
	require.NoError(t, err)
	assert.NoError(t, provider.Shutdown(context.Background()))
}
