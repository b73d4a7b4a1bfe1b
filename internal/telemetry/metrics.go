package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/roadcondition/streetcrop/internal/telemetry"

// ProviderMetrics holds metrics for street imagery provider calls.
// A nil *ProviderMetrics records nothing.
type ProviderMetrics struct {
	requestDuration metric.Float64Histogram
	requestTotal    metric.Int64Counter
}

// NewProviderMetrics creates metrics for monitoring external provider calls.
func NewProviderMetrics() (*ProviderMetrics, error) {
	meter := otel.Meter(meterName)

	requestDuration, err := meter.Float64Histogram(
		"provider.request.duration",
		metric.WithDescription("Duration of provider requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requestTotal, err := meter.Int64Counter(
		"provider.request.total",
		metric.WithDescription("Total number of provider requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &ProviderMetrics{
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
	}, nil
}

// RecordRequest records metrics for a provider request.
func (m *ProviderMetrics) RecordRequest(provider, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider.name", provider),
		attribute.String("provider.operation", operation),
	}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	// Cancelled requests are still counted.
	ctx := context.Background()
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// EngineMetrics holds crop pipeline metrics. A nil *EngineMetrics records nothing.
type EngineMetrics struct {
	cacheLookups     metric.Int64Counter
	zoomDegradations metric.Int64Counter
	tileFetches      metric.Int64Counter
	offsetFallbacks  metric.Int64Counter
	cropDuration     metric.Float64Histogram
}

// NewEngineMetrics creates the crop pipeline instruments.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter(meterName)

	cacheLookups, err := meter.Int64Counter(
		"streetcrop.cache.lookups",
		metric.WithDescription("Cache lookups by tier and outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	zoomDegradations, err := meter.Int64Counter(
		"streetcrop.zoom.degradations",
		metric.WithDescription("Zoom levels abandoned after a tile failure"),
		metric.WithUnit("{level}"),
	)
	if err != nil {
		return nil, err
	}

	tileFetches, err := meter.Int64Counter(
		"streetcrop.tile.fetches",
		metric.WithDescription("Tiles downloaded from the provider"),
		metric.WithUnit("{tile}"),
	)
	if err != nil {
		return nil, err
	}

	offsetFallbacks, err := meter.Int64Counter(
		"streetcrop.heading_offset.fallbacks",
		metric.WithDescription("Heading offset resolutions that fell back to zero"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, err
	}

	cropDuration, err := meter.Float64Histogram(
		"streetcrop.crop.duration",
		metric.WithDescription("End-to-end crop duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		cacheLookups:     cacheLookups,
		zoomDegradations: zoomDegradations,
		tileFetches:      tileFetches,
		offsetFallbacks:  offsetFallbacks,
		cropDuration:     cropDuration,
	}, nil
}

// RecordCacheLookup counts a lookup against one cache tier ("tile", "panorama", "crop").
func (m *EngineMetrics) RecordCacheLookup(ctx context.Context, tier string, hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.tier", tier),
		attribute.Bool("cache.hit", hit),
	))
}

// RecordZoomDegradation counts an abandoned zoom level.
func (m *EngineMetrics) RecordZoomDegradation(ctx context.Context, zoom int) {
	if m == nil {
		return
	}
	m.zoomDegradations.Add(ctx, 1, metric.WithAttributes(attribute.Int("zoom", zoom)))
}

// RecordTileFetch counts a tile download attempt.
func (m *EngineMetrics) RecordTileFetch(ctx context.Context, zoom int, err error) {
	if m == nil {
		return
	}
	m.tileFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("zoom", zoom),
		attribute.Bool("error", err != nil),
	))
}

// RecordOffsetFallback counts a heading offset that defaulted to zero.
func (m *EngineMetrics) RecordOffsetFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.offsetFallbacks.Add(ctx, 1)
}

// RecordCrop records the duration of a crop request.
func (m *EngineMetrics) RecordCrop(ctx context.Context, duration time.Duration, cacheHit bool, err error) {
	if m == nil {
		return
	}
	m.cropDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Bool("cache.hit", cacheHit),
		attribute.Bool("error", err != nil),
	))
}
