// Package panorama assembles equirectangular panoramas from provider tiles
// and reprojects them into rectilinear camera views.
package panorama

import (
	"fmt"
	"image"

	"github.com/roadcondition/streetcrop/internal/streetview"
)

// Zoom bounds accepted by the stitcher.
const (
	MinZoom = 1
	MaxZoom = 5
)

// Panorama is a complete stitched equirectangular image.
type Panorama struct {
	PanoramaID streetview.PanoramaID
	Zoom       int
	Width      int
	Height     int
	Image      *image.RGBA
}

// Dimensions returns the stitched size at a zoom level: 512·2^z by 512·2^(z-1).
func Dimensions(zoom int) (width, height int) {
	cols, rows := streetview.GridSize(zoom)
	return cols * streetview.TileSize, rows * streetview.TileSize
}

// Tiles enumerates the grid at a zoom level in row-major order.
func Tiles(id streetview.PanoramaID, zoom int) []streetview.TileCoordinate {
	cols, rows := streetview.GridSize(zoom)
	tiles := make([]streetview.TileCoordinate, 0, cols*rows)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			tiles = append(tiles, streetview.TileCoordinate{PanoramaID: id, Zoom: zoom, X: x, Y: y})
		}
	}
	return tiles
}

// CacheKey returns the store key of a stitched panorama.
func CacheKey(id streetview.PanoramaID, zoom int) string {
	return fmt.Sprintf("panorama/%s_full_z%d.jpg", id, zoom)
}
