package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadcondition/streetcrop/internal/provider/resilience"
)

func register(registry *resilience.Registry, name string, cb *resilience.CircuitBreakerConfig) *resilience.Client {
	cfg := resilience.DefaultClientConfig(name)
	cfg.Registry = registry
	if cb != nil {
		cfg.CircuitBreaker = cb
	}
	return resilience.NewClient(cfg)
}

func TestRegistry_NewClientRegisters(t *testing.T) {
	registry := resilience.NewRegistry()
	register(registry, "google-streetview", nil)

	health := registry.GetHealth("google-streetview")
	require.NotNil(t, health)
	assert.Equal(t, "google-streetview", health.Name)
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
	assert.Equal(t, resilience.LevelOK, health.Level())
	assert.Nil(t, health.LastSuccessAt)

	assert.Nil(t, registry.GetHealth("openrouteservice"))
}

func TestRegistry_RecordOutcomes(t *testing.T) {
	registry := resilience.NewRegistry()
	register(registry, "google-streetview", nil)

	registry.RecordSuccess("google-streetview")
	registry.RecordFailure("google-streetview", errors.New("tile 3,1 timed out"))
	// Unknown providers are ignored.
	registry.RecordSuccess("openrouteservice")
	registry.RecordFailure("openrouteservice", nil)

	health := registry.GetHealth("google-streetview")
	require.NotNil(t, health.LastSuccessAt)
	require.NotNil(t, health.LastFailureAt)
	assert.WithinDuration(t, time.Now(), *health.LastFailureAt, time.Second)
	assert.Equal(t, "tile 3,1 timed out", health.LastError)
	assert.Nil(t, registry.GetHealth("openrouteservice"))
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	registry := resilience.NewRegistry()
	register(registry, "google-streetview", nil)
	registry.RecordFailure("google-streetview", errors.New("boom"))

	register(registry, "google-streetview", nil)

	assert.Empty(t, registry.GetHealth("google-streetview").LastError)
	assert.Equal(t, []string{"google-streetview"}, registry.GetProviderNames())
}

func TestRegistry_SortedByName(t *testing.T) {
	registry := resilience.NewRegistry()
	for _, name := range []string{"openrouteservice", "google-streetview", "google-photometa"} {
		register(registry, name, nil)
	}

	var names []string
	for _, h := range registry.GetAllHealth() {
		names = append(names, h.Name)
	}
	want := []string{"google-photometa", "google-streetview", "openrouteservice"}
	assert.Equal(t, want, names)
	assert.Equal(t, want, registry.GetProviderNames())
}

func TestRegistry_Overall(t *testing.T) {
	registry := resilience.NewRegistry()
	assert.Equal(t, resilience.LevelOK, registry.Overall(), "no providers")

	register(registry, "openrouteservice", nil)
	assert.Equal(t, resilience.LevelOK, registry.Overall())

	broken := register(registry, "google-streetview", tripAfter(1))
	_, err := get(t, context.Background(), broken, "http://127.0.0.1:1/unreachable")
	require.Error(t, err)

	assert.Equal(t, resilience.LevelFail, registry.Overall())
	assert.Equal(t, resilience.LevelFail, registry.GetHealth("google-streetview").Level())
	assert.Equal(t, resilience.LevelOK, registry.GetHealth("openrouteservice").Level())
}

func TestRegistry_OptionalProviderDegrades(t *testing.T) {
	registry := resilience.NewRegistry()
	register(registry, "google-streetview", nil)

	cfg := resilience.DefaultClientConfig("google-streetview-photometa")
	cfg.Registry = registry
	cfg.Optional = true
	cfg.CircuitBreaker = tripAfter(1)
	photometa := resilience.NewClient(cfg)

	_, err := get(t, context.Background(), photometa, "http://127.0.0.1:1/unreachable")
	require.Error(t, err)

	health := registry.GetHealth("google-streetview-photometa")
	require.NotNil(t, health)
	assert.True(t, health.Optional)
	assert.Equal(t, gobreaker.StateOpen, health.CircuitState)
	assert.Equal(t, resilience.LevelDegraded, health.Level())
	assert.Equal(t, resilience.LevelDegraded, registry.Overall())
}

func TestProviderHealth_Level(t *testing.T) {
	tests := map[gobreaker.State]string{
		gobreaker.StateClosed:   resilience.LevelOK,
		gobreaker.StateHalfOpen: resilience.LevelDegraded,
		gobreaker.StateOpen:     resilience.LevelFail,
	}

	for state, want := range tests {
		h := &resilience.ProviderHealth{CircuitState: state}
		assert.Equal(t, want, h.Level(), state.String())
	}

	optional := &resilience.ProviderHealth{CircuitState: gobreaker.StateOpen, Optional: true}
	assert.Equal(t, resilience.LevelDegraded, optional.Level())
}
