// Package engine produces rectilinear street-level crops facing a direction
// of travel, caching every intermediate product.
package engine

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"

	"github.com/roadcondition/streetcrop/internal/panorama"
	"github.com/roadcondition/streetcrop/internal/streetview"
	"github.com/roadcondition/streetcrop/pkg/geo"
)

// Defaults applied to zero-valued Request fields.
const (
	DefaultWidth  = 1280
	DefaultHeight = 960
	DefaultZoom   = 3
	DefaultPitch  = 0.0
)

// ErrInvalidRequest indicates the request cannot be served as given.
var ErrInvalidRequest = errors.New("invalid crop request")

// Request asks for the view at Current looking towards Next.
type Request struct {
	Current geo.Point
	Next    geo.Point

	// APIKey overrides the configured metadata key when set.
	APIKey string

	OutputWidth  int
	OutputHeight int
	Zoom         int
}

func (r *Request) applyDefaults() {
	if r.OutputWidth == 0 {
		r.OutputWidth = DefaultWidth
	}
	if r.OutputHeight == 0 {
		r.OutputHeight = DefaultHeight
	}
	if r.Zoom == 0 {
		r.Zoom = DefaultZoom
	}
}

// Validate checks a request after defaults have been applied.
func (r Request) Validate() error {
	if err := r.Current.Validate(); err != nil {
		return fmt.Errorf("%w: current: %w", ErrInvalidRequest, err)
	}
	if err := r.Next.Validate(); err != nil {
		return fmt.Errorf("%w: next: %w", ErrInvalidRequest, err)
	}
	if r.Zoom < panorama.MinZoom || r.Zoom > panorama.MaxZoom {
		return fmt.Errorf("%w: zoom %d out of range [%d, %d]", ErrInvalidRequest, r.Zoom, panorama.MinZoom, panorama.MaxZoom)
	}
	if r.OutputWidth <= 0 || r.OutputHeight <= 0 ||
		r.OutputWidth > panorama.MaxOutputDimension || r.OutputHeight > panorama.MaxOutputDimension {
		return fmt.Errorf("%w: output %dx%d must be within 1..%d", ErrInvalidRequest, r.OutputWidth, r.OutputHeight, panorama.MaxOutputDimension)
	}
	return nil
}

// Result is a rendered crop.
type Result struct {
	// Image is the JPEG-encoded crop.
	Image []byte

	// PanoramaID, HeadingOffset, PanoramaHeading and Zoom are zero on a crop cache hit.
	PanoramaID       streetview.PanoramaID
	RealWorldHeading float64
	HeadingOffset    float64
	PanoramaHeading  float64
	Zoom             int
	Width            int
	Height           int
	CacheHit         bool
}

// Base64 returns the image in standard base64 encoding.
func (r *Result) Base64() string {
	return base64.StdEncoding.EncodeToString(r.Image)
}

// CropCacheKey returns the store key of a final crop. Coordinates keep their
// shortest decimal form and the heading is rounded half up.
func CropCacheKey(current geo.Point, heading float64, width, height int) string {
	return fmt.Sprintf("highres_%s_%s_h%d_%dx%d.jpg",
		geo.FormatCoordinate(current.Lat),
		geo.FormatCoordinate(current.Lng),
		int(math.Floor(heading+0.5)),
		width, height,
	)
}
