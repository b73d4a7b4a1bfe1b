// Package streetview defines the street-level imagery domain: panorama
// identity, metadata, tile coordinates and the provider contract.
package streetview

import (
	"context"
	"errors"
	"fmt"

	"github.com/roadcondition/streetcrop/pkg/geo"
)

// TileSize is the edge length in pixels of every provider tile.
const TileSize = 512

// Sentinel errors for street imagery operations.
var (
	// ErrUnavailable indicates no panorama covers the requested location.
	ErrUnavailable = errors.New("street view unavailable")
	// ErrUserContributed indicates the panorama is not first-party imagery.
	ErrUserContributed = errors.New("panorama is user-contributed")
	// ErrTileUnavailable indicates a single tile could not be fetched or decoded.
	ErrTileUnavailable = errors.New("tile unavailable")
	// ErrPanoramaUnavailable indicates every zoom level failed to produce a complete grid.
	ErrPanoramaUnavailable = errors.New("panorama unavailable at any zoom level")
	// ErrSchemaDrift indicates the photo-metadata response no longer has the expected shape.
	ErrSchemaDrift = errors.New("photo metadata schema drift")
	// ErrHeadingOffset indicates the photo-metadata endpoint could not be reached.
	ErrHeadingOffset = errors.New("heading offset unavailable")
)

// PanoramaID is the provider's opaque panorama identifier.
type PanoramaID string

// Metadata describes the panorama nearest to a queried location.
type Metadata struct {
	PanoramaID PanoramaID
	Location   geo.Point
	Date       string
	Copyright  string
	Status     string
}

// Provider is the street imagery backend used by the engine.
type Provider interface {
	// LookupPanorama resolves the panorama covering a point.
	// apiKey overrides the configured key when non-empty.
	LookupPanorama(ctx context.Context, point geo.Point, apiKey string) (*Metadata, error)
	// HeadingOffset returns the panorama's intrinsic heading in degrees.
	HeadingOffset(ctx context.Context, id PanoramaID) (float64, error)
	// FetchTile downloads the raw JPEG bytes of a single tile.
	FetchTile(ctx context.Context, tile TileCoordinate) ([]byte, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
}

// TileCoordinate addresses one tile of a panorama at a zoom level.
type TileCoordinate struct {
	PanoramaID PanoramaID
	Zoom       int
	X          int
	Y          int
}

// CacheKey returns the deterministic store key for the tile.
func (t TileCoordinate) CacheKey() string {
	return fmt.Sprintf("panorama/%s_z%d_x%d_y%d.jpg", t.PanoramaID, t.Zoom, t.X, t.Y)
}

// GridSize returns the tile grid at zoom z: 2^z columns by 2^(z-1) rows.
func GridSize(zoom int) (cols, rows int) {
	if zoom < 1 {
		return 0, 0
	}
	return 1 << zoom, 1 << (zoom - 1)
}

// Error provides detailed error information from the imagery provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Provider status or transport code
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether the error ends the request rather than degrading it.
func (e *Error) IsTerminal() bool {
	return errors.Is(e.Err, ErrUnavailable) ||
		errors.Is(e.Err, ErrUserContributed) ||
		errors.Is(e.Err, ErrPanoramaUnavailable)
}
