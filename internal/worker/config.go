// Package worker prefetches panorama crops along routes so that later
// requests for the same viewpoints are served from cache.
package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/roadcondition/streetcrop/pkg/geo"
	"github.com/roadcondition/streetcrop/pkg/polyline"
)

var (
	// ErrEmptyRoute is returned when a request yields no usable viewpoint.
	ErrEmptyRoute = errors.New("route has no viewpoints")
	// ErrNoRouter is returned for origin/destination requests when no
	// routing provider is configured.
	ErrNoRouter = errors.New("no routing provider configured")
)

// PrefetchConfig holds configuration for the prefetch job.
type PrefetchConfig struct {
	// Concurrency is the number of viewpoints rendered at once.
	// Default: 3
	Concurrency int

	// SpacingMeters is the distance between consecutive viewpoints.
	// Default: 25
	SpacingMeters float64

	// Timeout bounds each viewpoint.
	// Default: 2 minutes
	Timeout time.Duration

	// Output size and zoom applied when a request leaves them unset.
	// Zero defers to the engine defaults.
	Width  int
	Height int
	Zoom   int

	// Profile is the routing profile for requests that name none.
	Profile string
}

// DefaultPrefetchConfig returns the default prefetch configuration.
func DefaultPrefetchConfig() PrefetchConfig {
	return PrefetchConfig{
		Concurrency:   3,
		SpacingMeters: 25,
		Timeout:       2 * time.Minute,
	}
}

func (c PrefetchConfig) withDefaults() PrefetchConfig {
	d := DefaultPrefetchConfig()
	if c.Concurrency < 1 {
		c.Concurrency = d.Concurrency
	}
	if c.SpacingMeters <= 0 {
		c.SpacingMeters = d.SpacingMeters
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// PrefetchRequest names a route to warm. Polyline wins over Points. When
// neither is set, the route between Origin and Destination is resolved
// through the routing provider.
type PrefetchRequest struct {
	Name     string      `json:"name,omitempty"`
	Polyline string      `json:"polyline,omitempty"`
	Points   []geo.Point `json:"points,omitempty"`

	Origin      *geo.Point `json:"origin,omitempty"`
	Destination *geo.Point `json:"destination,omitempty"`
	// Profile is an OpenRouteService profile such as driving-car.
	Profile string `json:"profile,omitempty"`

	// SpacingMeters overrides PrefetchConfig.SpacingMeters when positive.
	SpacingMeters float64 `json:"spacing_meters,omitempty"`

	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
	Zoom   int `json:"zoom,omitempty"`
}

func (r PrefetchRequest) needsRoute() bool {
	return r.Polyline == "" && len(r.Points) == 0 && r.Origin != nil && r.Destination != nil
}

// Viewpoints expands the request into camera positions along the route.
func (r PrefetchRequest) Viewpoints(defaultSpacing float64) ([]polyline.Viewpoint, error) {
	points := r.Points
	if r.Polyline != "" {
		decoded, err := polyline.Decode(r.Polyline)
		if err != nil {
			return nil, fmt.Errorf("decoding route %q: %w", r.Name, err)
		}
		points = decoded
	}

	for i, p := range points {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("route %q point %d: %w", r.Name, i, err)
		}
	}

	spacing := defaultSpacing
	if r.SpacingMeters > 0 {
		spacing = r.SpacingMeters
	}

	views := polyline.Viewpoints(points, spacing)
	if len(views) == 0 {
		return nil, ErrEmptyRoute
	}
	return views, nil
}
