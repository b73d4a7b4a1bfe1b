package panorama

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/roadcondition/streetcrop/internal/cachestore"
	"github.com/roadcondition/streetcrop/internal/flight"
	"github.com/roadcondition/streetcrop/internal/streetview"
	"github.com/roadcondition/streetcrop/internal/telemetry"
)

const tracerName = "github.com/roadcondition/streetcrop/internal/panorama"

// DefaultTileConcurrency is the number of tiles fetched in parallel.
const DefaultTileConcurrency = 4

// TileFetcher downloads raw tile bytes.
type TileFetcher interface {
	FetchTile(ctx context.Context, tile streetview.TileCoordinate) ([]byte, error)
}

// StitcherConfig holds dependencies for Stitcher.
type StitcherConfig struct {
	Fetcher TileFetcher
	Store   cachestore.Store

	// TileConcurrency bounds parallel tile fetches. 1 fetches strictly in order.
	TileConcurrency int

	Metrics *telemetry.EngineMetrics
	Logger  zerolog.Logger
}

// Stitcher builds panoramas, degrading zoom when a level cannot be completed.
type Stitcher struct {
	fetcher     TileFetcher
	store       cachestore.Store
	concurrency int
	metrics     *telemetry.EngineMetrics
	logger      zerolog.Logger
	tracer      trace.Tracer
	group       flight.Group[*Panorama]
}

// NewStitcher creates a Stitcher.
func NewStitcher(cfg StitcherConfig) *Stitcher {
	concurrency := cfg.TileConcurrency
	if concurrency <= 0 {
		concurrency = DefaultTileConcurrency
	}
	return &Stitcher{
		fetcher:     cfg.Fetcher,
		store:       cfg.Store,
		concurrency: concurrency,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		tracer:      otel.Tracer(tracerName),
	}
}

// Build returns the panorama at the highest zoom in zoom..1 that is cached or
// can be fully downloaded. Concurrent calls for the same panorama and zoom
// share one build, which outlives any caller that gives up on it.
func (s *Stitcher) Build(ctx context.Context, id streetview.PanoramaID, zoom int) (*Panorama, error) {
	if zoom < MinZoom || zoom > MaxZoom {
		return nil, fmt.Errorf("zoom %d out of range [%d, %d]", zoom, MinZoom, MaxZoom)
	}

	key := string(id) + "@" + strconv.Itoa(zoom)
	pano, shared, err := s.group.Do(ctx, key, func(ctx context.Context) (*Panorama, error) {
		return s.build(ctx, id, zoom)
	})
	if shared {
		s.logger.Debug().Str("pano_id", string(id)).Int("zoom", zoom).Msg("joined in-flight panorama build")
	}
	if err != nil {
		return nil, err
	}
	return pano, nil
}

func (s *Stitcher) build(ctx context.Context, id streetview.PanoramaID, zoom int) (*Panorama, error) {
	ctx, span := s.tracer.Start(ctx, "panorama.Build", trace.WithAttributes(
		attribute.String("pano_id", string(id)),
		attribute.Int("zoom.requested", zoom),
	))
	defer span.End()

	var lastErr error
	for z := zoom; z >= MinZoom; z-- {
		if pano, ok := s.cached(ctx, id, z); ok {
			span.SetAttributes(attribute.Int("zoom.used", z), attribute.Bool("cache.hit", true))
			return pano, nil
		}

		pano, err := s.fetchLevel(ctx, id, z)
		if err == nil {
			span.SetAttributes(attribute.Int("zoom.used", z), attribute.Bool("cache.hit", false))
			return pano, nil
		}

		lastErr = err
		s.metrics.RecordZoomDegradation(ctx, z)
		s.logger.Warn().
			Err(err).
			Str("pano_id", string(id)).
			Int("zoom", z).
			Msg("zoom level abandoned")
	}

	err := &streetview.Error{
		Provider: "stitcher",
		Code:     "ALL_ZOOMS_FAILED",
		Message:  fmt.Sprintf("no complete tile grid for panorama %s at zoom %d..%d (last: %v)", id, zoom, MinZoom, lastErr),
		Err:      streetview.ErrPanoramaUnavailable,
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "panorama unavailable")
	return nil, err
}

// cached returns a previously stitched panorama. Undecodable entries count as misses.
func (s *Stitcher) cached(ctx context.Context, id streetview.PanoramaID, zoom int) (*Panorama, bool) {
	data, err := s.store.Get(ctx, CacheKey(id, zoom))
	if err != nil {
		if !errors.Is(err, cachestore.ErrNotFound) {
			s.logger.Error().Err(err).Str("key", CacheKey(id, zoom)).Msg("panorama cache read failed")
		}
		s.metrics.RecordCacheLookup(ctx, "panorama", false)
		return nil, false
	}

	img, err := DecodeJPEG(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", CacheKey(id, zoom)).Msg("ignoring corrupt cached panorama")
		s.metrics.RecordCacheLookup(ctx, "panorama", false)
		return nil, false
	}

	s.metrics.RecordCacheLookup(ctx, "panorama", true)
	s.logger.Debug().Str("pano_id", string(id)).Int("zoom", zoom).Msg("panorama cache hit")
	return &Panorama{
		PanoramaID: id,
		Zoom:       zoom,
		Width:      img.Bounds().Dx(),
		Height:     img.Bounds().Dy(),
		Image:      img,
	}, true
}

// fetchLevel downloads every tile at one zoom and composites them.
func (s *Stitcher) fetchLevel(ctx context.Context, id streetview.PanoramaID, zoom int) (*Panorama, error) {
	tiles := Tiles(id, zoom)
	attempt := newZoomAttempt(zoom, len(tiles))
	decoded := make([]*image.RGBA, len(tiles))

	s.logger.Info().
		Str("pano_id", string(id)).
		Int("zoom", zoom).
		Int("tiles", len(tiles)).
		Msg("fetching panorama tiles")

	attempt.start()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, tile := range tiles {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A sibling may have failed while this tile waited for a slot.
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := s.tile(gctx, tile)
			if err != nil {
				if attempt.fail(err) {
					s.logger.Debug().Err(err).Str("key", tile.CacheKey()).Msg("tile failed")
				}
				return err
			}
			decoded[i] = img
			attempt.tileDone()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if state, done, err := attempt.snapshot(); state != stateSucceeded {
		if err == nil {
			err = fmt.Errorf("zoom %d incomplete: %d of %d tiles", zoom, done, len(tiles))
		}
		return nil, err
	}

	width, height := Dimensions(zoom)
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, tile := range tiles {
		img := decoded[i]
		origin := image.Pt(tile.X*streetview.TileSize, tile.Y*streetview.TileSize)
		xdraw.Draw(canvas, image.Rectangle{Min: origin, Max: origin.Add(img.Bounds().Size())}, img, img.Bounds().Min, xdraw.Src)
	}

	encoded, err := EncodeJPEG(canvas)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutIfAbsent(ctx, CacheKey(id, zoom), encoded); err != nil {
		s.logger.Error().Err(err).Str("key", CacheKey(id, zoom)).Msg("panorama cache write failed")
	}

	s.logger.Info().
		Str("pano_id", string(id)).
		Int("zoom", zoom).
		Int("width", width).
		Int("height", height).
		Msg("panorama stitched")

	return &Panorama{
		PanoramaID: id,
		Zoom:       zoom,
		Width:      width,
		Height:     height,
		Image:      canvas,
	}, nil
}

// tile returns one decoded tile from the cache or the provider. Bytes are only
// cached once they decode.
func (s *Stitcher) tile(ctx context.Context, tile streetview.TileCoordinate) (*image.RGBA, error) {
	key := tile.CacheKey()

	if data, err := s.store.Get(ctx, key); err == nil {
		if img, decErr := DecodeJPEG(data); decErr == nil {
			s.metrics.RecordCacheLookup(ctx, "tile", true)
			return img, nil
		}
		s.logger.Warn().Str("key", key).Msg("ignoring corrupt cached tile")
	} else if !errors.Is(err, cachestore.ErrNotFound) {
		s.logger.Error().Err(err).Str("key", key).Msg("tile cache read failed")
	}
	s.metrics.RecordCacheLookup(ctx, "tile", false)

	data, err := s.fetcher.FetchTile(ctx, tile)
	s.metrics.RecordTileFetch(ctx, tile.Zoom, err)
	if err != nil {
		return nil, err
	}

	img, err := DecodeJPEG(data)
	if err != nil {
		return nil, &streetview.Error{
			Provider: "stitcher",
			Code:     "UNDECODABLE_TILE",
			Message:  "tile " + key + " is not a valid jpeg",
			Err:      fmt.Errorf("%w: %w", streetview.ErrTileUnavailable, err),
		}
	}

	if err := s.store.PutIfAbsent(ctx, key, data); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("tile cache write failed")
	}

	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("tile fetched")
	return img, nil
}
