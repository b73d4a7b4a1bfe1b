package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roadcondition/streetcrop/internal/cachestore"
	"github.com/roadcondition/streetcrop/internal/flight"
	"github.com/roadcondition/streetcrop/internal/panorama"
	"github.com/roadcondition/streetcrop/internal/streetview"
	"github.com/roadcondition/streetcrop/internal/telemetry"
	"github.com/roadcondition/streetcrop/pkg/geo"
)

const tracerName = "github.com/roadcondition/streetcrop/internal/engine"

// ServiceConfig holds dependencies for Service.
type ServiceConfig struct {
	Provider streetview.Provider
	Store    cachestore.Store

	// TileConcurrency bounds parallel tile downloads per panorama.
	TileConcurrency int

	Metrics *telemetry.EngineMetrics
	Logger  zerolog.Logger
}

// Service is the crop engine. It is safe for concurrent use.
type Service struct {
	provider streetview.Provider
	store    cachestore.Store
	stitcher *panorama.Stitcher
	metrics  *telemetry.EngineMetrics
	logger   zerolog.Logger
	tracer   trace.Tracer

	offsetMu    sync.RWMutex
	offsets     map[streetview.PanoramaID]float64
	offsetGroup flight.Group[float64]

	cropGroup flight.Group[*Result]
}

// NewService creates a crop engine.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		provider: cfg.Provider,
		store:    cfg.Store,
		stitcher: panorama.NewStitcher(panorama.StitcherConfig{
			Fetcher:         cfg.Provider,
			Store:           cfg.Store,
			TileConcurrency: cfg.TileConcurrency,
			Metrics:         cfg.Metrics,
			Logger:          cfg.Logger,
		}),
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		tracer:  otel.Tracer(tracerName),
		offsets: make(map[streetview.PanoramaID]float64),
	}
}

// Crop renders the view at req.Current facing req.Next.
func (s *Service) Crop(ctx context.Context, req Request) (result *Result, err error) {
	start := time.Now()
	req.applyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	realWorld := geo.Bearing(req.Current, req.Next)
	key := CropCacheKey(req.Current, realWorld, req.OutputWidth, req.OutputHeight)

	ctx, span := s.tracer.Start(ctx, "engine.Crop", trace.WithAttributes(
		attribute.String("cache.key", key),
		attribute.Float64("heading.real_world", realWorld),
		attribute.Int("zoom.requested", req.Zoom),
	))
	defer func() {
		hit := result != nil && result.CacheHit
		s.metrics.RecordCrop(ctx, time.Since(start), hit, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "crop failed")
		}
		span.End()
	}()

	if data, getErr := s.store.Get(ctx, key); getErr == nil {
		s.metrics.RecordCacheLookup(ctx, "crop", true)
		s.logger.Debug().Str("key", key).Msg("crop cache hit")
		return &Result{
			Image:            data,
			RealWorldHeading: realWorld,
			Width:            req.OutputWidth,
			Height:           req.OutputHeight,
			CacheHit:         true,
		}, nil
	} else if !errors.Is(getErr, cachestore.ErrNotFound) {
		s.logger.Error().Err(getErr).Str("key", key).Msg("crop cache read failed")
	}
	s.metrics.RecordCacheLookup(ctx, "crop", false)

	rendered, _, err := s.cropGroup.Do(ctx, key, func(ctx context.Context) (*Result, error) {
		return s.render(ctx, req, realWorld, key)
	})
	if err != nil {
		return nil, err
	}

	// Callers sharing a render must not share a mutable Result.
	shared := *rendered
	return &shared, nil
}

func (s *Service) render(ctx context.Context, req Request, realWorld float64, key string) (*Result, error) {
	meta, err := s.provider.LookupPanorama(ctx, req.Current, req.APIKey)
	if err != nil {
		return nil, fmt.Errorf("resolving panorama: %w", err)
	}

	offset, err := s.headingOffset(ctx, meta.PanoramaID)
	if err != nil {
		return nil, err
	}
	panoHeading := geo.NormalizeHeading(realWorld - offset)

	pano, err := s.stitcher.Build(ctx, meta.PanoramaID, req.Zoom)
	if err != nil {
		return nil, fmt.Errorf("building panorama: %w", err)
	}

	img, err := panorama.Reproject(pano.Image, panorama.Camera{
		Heading: panoHeading,
		Pitch:   DefaultPitch,
		FOV:     panorama.DefaultFOV,
		Width:   req.OutputWidth,
		Height:  req.OutputHeight,
	})
	if err != nil {
		return nil, fmt.Errorf("reprojecting panorama: %w", err)
	}

	data, err := panorama.EncodeJPEG(img)
	if err != nil {
		return nil, err
	}

	if err := s.store.PutIfAbsent(ctx, key, data); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("crop cache write failed")
	}

	s.logger.Info().
		Str("pano_id", string(meta.PanoramaID)).
		Float64("real_world_heading", realWorld).
		Float64("heading_offset", offset).
		Float64("panorama_heading", panoHeading).
		Int("zoom", pano.Zoom).
		Msg("crop rendered")

	return &Result{
		Image:            data,
		PanoramaID:       meta.PanoramaID,
		RealWorldHeading: realWorld,
		HeadingOffset:    offset,
		PanoramaHeading:  panoHeading,
		Zoom:             pano.Zoom,
		Width:            req.OutputWidth,
		Height:           req.OutputHeight,
	}, nil
}

// headingOffset returns the memoized offset for a panorama. Provider
// failures yield 0 and are not memoized, so a later request can still
// resolve the real value. Only the caller's own cancellation is an error.
func (s *Service) headingOffset(ctx context.Context, id streetview.PanoramaID) (float64, error) {
	s.offsetMu.RLock()
	offset, ok := s.offsets[id]
	s.offsetMu.RUnlock()
	if ok {
		return offset, nil
	}

	offset, _, err := s.offsetGroup.Do(ctx, string(id), func(ctx context.Context) (float64, error) {
		offset, err := s.provider.HeadingOffset(ctx, id)
		if err != nil {
			return 0, err
		}
		s.offsetMu.Lock()
		s.offsets[id] = offset
		s.offsetMu.Unlock()
		return offset, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		s.metrics.RecordOffsetFallback(ctx)
		s.logger.Warn().
			Err(err).
			Str("pano_id", string(id)).
			Msg("heading offset unavailable, assuming 0")
		return 0, nil
	}
	return offset, nil
}
