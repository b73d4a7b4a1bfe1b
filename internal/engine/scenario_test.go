package engine_test

import (
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadcondition/streetcrop/internal/cachestore"
	"github.com/roadcondition/streetcrop/internal/engine"
	"github.com/roadcondition/streetcrop/internal/panorama"
	"github.com/roadcondition/streetcrop/internal/provider/resilience"
	"github.com/roadcondition/streetcrop/internal/streetview"
	"github.com/roadcondition/streetcrop/internal/streetview/google"
	"github.com/roadcondition/streetcrop/pkg/geo"
)

type scenarioHits struct {
	metadata, photometa, tiles atomic.Int32
}

// newScenarioServer fakes the three Street View endpoints with the
// photo-metadata endpoint broken.
func newScenarioServer(t *testing.T) (*httptest.Server, *scenarioHits) {
	t.Helper()
	tileImg := image.NewRGBA(image.Rect(0, 0, streetview.TileSize, streetview.TileSize))
	for i := range tileImg.Pix {
		tileImg.Pix[i] = byte(i % 251)
	}
	tile, err := panorama.EncodeJPEG(tileImg)
	require.NoError(t, err)

	hits := &scenarioHits{}
	mux := http.NewServeMux()
	mux.HandleFunc("/metadata", func(w http.ResponseWriter, _ *http.Request) {
		hits.metadata.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","pano_id":"scenario-pano","copyright":"© Google","date":"2024-03","location":{"lat":36.1832,"lng":137.3705}}`))
	})
	mux.HandleFunc("/photometa", func(w http.ResponseWriter, _ *http.Request) {
		hits.photometa.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/tile", func(w http.ResponseWriter, _ *http.Request) {
		hits.tiles.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(tile)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, hits
}

// TestScenario_OffsetEndpointDown drives the Google client against a fake
// provider whose photo-metadata endpoint is broken.
func TestScenario_OffsetEndpointDown(t *testing.T) {
	server, hits := newScenarioServer(t)

	client := google.NewClient(google.ClientConfig{
		APIKey:       "test",
		MetadataURL:  server.URL + "/metadata",
		PhotoMetaURL: server.URL + "/photometa",
		TileURL:      server.URL + "/tile",
		HTTPClient:   server.Client(),
		Logger:       zerolog.Nop(),
	})

	dir := t.TempDir()
	store, err := cachestore.NewFileStore(dir)
	require.NoError(t, err)

	svc := engine.NewService(engine.ServiceConfig{
		Provider:        client,
		Store:           store,
		TileConcurrency: 8,
		Logger:          zerolog.Nop(),
	})

	result, err := svc.Crop(context.Background(), engine.Request{
		Current:      scenarioCurrent,
		Next:         scenarioNext,
		OutputWidth:  1280,
		OutputHeight: 960,
		Zoom:         3,
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.Image)
	w, h := decodeSize(t, result.Image)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 960, h)
	assert.Zero(t, result.HeadingOffset)
	assert.InDelta(t, result.RealWorldHeading, result.PanoramaHeading, 1e-12)
	assert.Equal(t, int32(32), hits.tiles.Load())
	assert.Equal(t, int32(1), hits.photometa.Load())

	// Every tier landed on disk under its deterministic name.
	for _, name := range []string{
		"panorama/scenario-pano_z3_x7_y3.jpg",
		"panorama/scenario-pano_full_z3.jpg",
		engine.CropCacheKey(scenarioCurrent, result.RealWorldHeading, 1280, 960),
	} {
		_, statErr := os.Stat(filepath.Join(dir, filepath.FromSlash(name)))
		assert.NoError(t, statErr, name)
	}

	// A fresh engine over the same directory serves from disk alone.
	again := engine.NewService(engine.ServiceConfig{Provider: client, Store: store, Logger: zerolog.Nop()})
	cached, err := again.Crop(context.Background(), engine.Request{Current: scenarioCurrent, Next: scenarioNext})
	require.NoError(t, err)
	assert.True(t, cached.CacheHit)
	assert.Equal(t, int32(1), hits.metadata.Load())
	assert.Equal(t, result.Image, cached.Image)
}

// TestScenario_OffsetEndpointDownWithDefaultClient repeats crops through the
// production client stack, breakers included, while photometa keeps failing.
func TestScenario_OffsetEndpointDownWithDefaultClient(t *testing.T) {
	server, hits := newScenarioServer(t)

	registry := resilience.NewRegistry()
	client := google.NewClient(google.ClientConfig{
		APIKey:       "test",
		MetadataURL:  server.URL + "/metadata",
		PhotoMetaURL: server.URL + "/photometa",
		TileURL:      server.URL + "/tile",
		Registry:     registry,
		Logger:       zerolog.Nop(),
	})
	svc := engine.NewService(engine.ServiceConfig{
		Provider: client,
		Store:    cachestore.NewMemoryStore(),
		Logger:   zerolog.Nop(),
	})

	const crops = 12
	for i := 0; i < crops; i++ {
		next := geo.Point{Lat: scenarioCurrent.Lat + 0.001, Lng: scenarioCurrent.Lng + float64(i)*0.0003}
		result, err := svc.Crop(context.Background(), engine.Request{
			Current:      scenarioCurrent,
			Next:         next,
			OutputWidth:  320,
			OutputHeight: 240,
			Zoom:         1,
		})
		require.NoError(t, err, "crop %d", i)
		assert.False(t, result.CacheHit, "crop %d", i)
		assert.Zero(t, result.HeadingOffset, "crop %d", i)
	}

	assert.Equal(t, int32(crops), hits.metadata.Load())
	assert.Equal(t, int32(2), hits.tiles.Load(), "panorama is stitched once")
	assert.Equal(t, gobreaker.StateClosed, registry.GetHealth(google.ProviderName).CircuitState)
	assert.Equal(t, gobreaker.StateOpen, registry.GetHealth(google.PhotoMetaProviderName).CircuitState)
	assert.Equal(t, resilience.LevelDegraded, registry.Overall())
}
