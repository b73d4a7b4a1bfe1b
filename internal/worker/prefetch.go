package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadcondition/streetcrop/internal/engine"
	"github.com/roadcondition/streetcrop/internal/routing"
	"github.com/roadcondition/streetcrop/internal/streetview"
	"github.com/roadcondition/streetcrop/pkg/geo"
	"github.com/roadcondition/streetcrop/pkg/polyline"
)

// Cropper renders a crop. *engine.Service satisfies it.
type Cropper interface {
	Crop(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// PrefetchJob renders every viewpoint of a route through the engine,
// filling its caches.
type PrefetchJob struct {
	config  PrefetchConfig
	cropper Cropper
	router  routing.Provider
	logger  zerolog.Logger

	metrics *PrefetchMetrics
}

// PrefetchMetrics tracks prefetch job statistics across runs.
type PrefetchMetrics struct {
	mu sync.RWMutex

	TotalRuns            int64
	SuccessfulViewpoints int64
	FailedViewpoints     int64
	CacheHits            int64
	CacheMisses          int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

// PrefetchJobConfig holds configuration for creating a PrefetchJob.
type PrefetchJobConfig struct {
	Config  PrefetchConfig
	Cropper Cropper
	// Router resolves origin/destination requests (optional).
	Router routing.Provider
	Logger zerolog.Logger
}

// NewPrefetchJob creates a new prefetch job.
func NewPrefetchJob(cfg PrefetchJobConfig) *PrefetchJob {
	return &PrefetchJob{
		config:  cfg.Config.withDefaults(),
		cropper: cfg.Cropper,
		router:  cfg.Router,
		logger:  cfg.Logger,
		metrics: &PrefetchMetrics{},
	}
}

// Config returns the effective configuration.
func (j *PrefetchJob) Config() PrefetchConfig {
	return j.config
}

// PrefetchResult contains the result of one run.
type PrefetchResult struct {
	Route           string
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
	TotalViewpoints int
	Successful      int
	Failed          int
	// Skipped counts viewpoints never attempted because the run was cancelled.
	Skipped     int
	CacheHits   int
	CacheMisses int
	Errors      []PrefetchError
}

// PrefetchError records one failed viewpoint.
type PrefetchError struct {
	Viewpoint polyline.Viewpoint
	Code      string
	Error     string
	// Terminal is set for failures a retry cannot fix, such as no coverage.
	Terminal bool
}

// Retryable counts failures that might succeed on a later attempt.
func (r *PrefetchResult) Retryable() int {
	n := 0
	for _, e := range r.Errors {
		if !e.Terminal {
			n++
		}
	}
	return n
}

// Run renders every viewpoint of req. A failed viewpoint is recorded and
// does not stop its siblings.
func (j *PrefetchJob) Run(ctx context.Context, req PrefetchRequest) (*PrefetchResult, error) {
	if req.needsRoute() {
		points, err := j.resolveRoute(ctx, req)
		if err != nil {
			return nil, err
		}
		req.Points = points
	}

	views, err := req.Viewpoints(j.config.SpacingMeters)
	if err != nil {
		return nil, err
	}
	return j.RunViewpoints(ctx, req, views), nil
}

func (j *PrefetchJob) resolveRoute(ctx context.Context, req PrefetchRequest) ([]geo.Point, error) {
	if j.router == nil {
		return nil, ErrNoRouter
	}
	name := req.Profile
	if name == "" {
		name = j.config.Profile
	}
	profile, err := routing.ParseProfile(name)
	if err != nil {
		return nil, err
	}

	route, err := j.router.Route(ctx, routing.RouteRequest{
		Origin:      *req.Origin,
		Destination: *req.Destination,
		Profile:     profile,
	})
	if err != nil {
		return nil, fmt.Errorf("resolving route %q: %w", req.Name, err)
	}

	j.logger.Debug().
		Str("route", req.Name).
		Str("provider", j.router.Name()).
		Int("points", len(route.Points)).
		Float64("distance_m", route.DistanceMeters).
		Msg("resolved route")
	return route.Points, nil
}

// RunViewpoints renders an explicit viewpoint list with the output settings
// of req.
func (j *PrefetchJob) RunViewpoints(ctx context.Context, req PrefetchRequest, views []polyline.Viewpoint) *PrefetchResult {
	startTime := time.Now()
	result := &PrefetchResult{
		Route:           req.Name,
		StartTime:       startTime,
		TotalViewpoints: len(views),
	}

	logger := j.logger.With().Str("route", req.Name).Logger()
	logger.Info().
		Int("viewpoints", result.TotalViewpoints).
		Int("concurrency", j.config.Concurrency).
		Msg("starting prefetch job")

	viewsChan := make(chan polyline.Viewpoint, len(views))
	resultsChan := make(chan viewpointResult, len(views))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.prefetchWorker(ctx, req, viewsChan, resultsChan)
		}()
	}

	for _, v := range views {
		viewsChan <- v
	}
	close(viewsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for vr := range resultsChan {
		if vr.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, newPrefetchError(vr.view, vr.err))
			continue
		}
		result.Successful++
		if vr.cacheHit {
			result.CacheHits++
		} else {
			result.CacheMisses++
		}
	}

	result.Skipped = result.TotalViewpoints - result.Successful - result.Failed
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Int("cache_hits", result.CacheHits).
		Int("cache_misses", result.CacheMisses).
		Msg("prefetch job completed")

	return result
}

type viewpointResult struct {
	view     polyline.Viewpoint
	cacheHit bool
	err      error
}

func newPrefetchError(v polyline.Viewpoint, err error) PrefetchError {
	pe := PrefetchError{Viewpoint: v, Error: err.Error()}

	var svErr *streetview.Error
	if errors.As(err, &svErr) {
		pe.Code = svErr.Code
	}
	pe.Terminal = noCoverage(err, pe.Code)
	if errors.Is(err, engine.ErrInvalidRequest) {
		pe.Code = "INVALID_REQUEST"
		pe.Terminal = true
	}
	return pe
}

// noCoverage reports failures that depend on the location rather than on
// provider availability. Transport failures are also wrapped as
// ErrUnavailable, so they are told apart by code.
func noCoverage(err error, code string) bool {
	switch {
	case errors.Is(err, streetview.ErrUserContributed):
		return true
	case errors.Is(err, streetview.ErrUnavailable):
		return code != "" && code != "REQUEST_FAILED" && code != "INVALID_RESPONSE" &&
			!strings.HasPrefix(code, "HTTP_")
	}
	return false
}

func (j *PrefetchJob) prefetchWorker(ctx context.Context, req PrefetchRequest, views <-chan polyline.Viewpoint, results chan<- viewpointResult) {
	for v := range views {
		if ctx.Err() != nil {
			return
		}
		results <- j.prefetchViewpoint(ctx, req, v)
	}
}

func (j *PrefetchJob) prefetchViewpoint(ctx context.Context, req PrefetchRequest, v polyline.Viewpoint) viewpointResult {
	viewCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	out, err := j.cropper.Crop(viewCtx, engine.Request{
		Current:      v.From,
		Next:         v.To,
		OutputWidth:  firstPositive(req.Width, j.config.Width),
		OutputHeight: firstPositive(req.Height, j.config.Height),
		Zoom:         firstPositive(req.Zoom, j.config.Zoom),
	})
	if err != nil {
		j.logger.Warn().
			Err(err).
			Str("from", v.From.String()).
			Str("to", v.To.String()).
			Msg("viewpoint prefetch failed")
		return viewpointResult{view: v, err: err}
	}

	return viewpointResult{view: v, cacheHit: out.CacheHit}
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func (j *PrefetchJob) updateMetrics(result *PrefetchResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRuns++
	j.metrics.SuccessfulViewpoints += int64(result.Successful)
	j.metrics.FailedViewpoints += int64(result.Failed)
	j.metrics.CacheHits += int64(result.CacheHits)
	j.metrics.CacheMisses += int64(result.CacheMisses)
	j.metrics.LastRunAt = result.EndTime
	j.metrics.LastRunDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *PrefetchJob) GetMetrics() PrefetchMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return PrefetchMetrics{
		TotalRuns:            j.metrics.TotalRuns,
		SuccessfulViewpoints: j.metrics.SuccessfulViewpoints,
		FailedViewpoints:     j.metrics.FailedViewpoints,
		CacheHits:            j.metrics.CacheHits,
		CacheMisses:          j.metrics.CacheMisses,
		LastRunAt:            j.metrics.LastRunAt,
		LastRunDuration:      j.metrics.LastRunDuration,
		TotalDuration:        j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns the current metrics as a map.
func (j *PrefetchJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_runs":            m.TotalRuns,
		"successful_viewpoints": m.SuccessfulViewpoints,
		"failed_viewpoints":     m.FailedViewpoints,
		"cache_hits":            m.CacheHits,
		"cache_misses":          m.CacheMisses,
		"last_run_at":           m.LastRunAt,
		"last_run_duration":     m.LastRunDuration.String(),
		"total_duration":        m.TotalDuration.String(),
	}
}
