package google

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/roadcondition/streetcrop/internal/streetview"
)

// FetchTile downloads one 512x512 JPEG tile.
func (c *Client) FetchTile(ctx context.Context, tile streetview.TileCoordinate) (data []byte, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordRequest(ProviderName, "tile", time.Since(start), err) }()

	q := url.Values{}
	q.Set("cb_client", "maps_sv.tactile")
	q.Set("panoid", string(tile.PanoramaID))
	q.Set("x", strconv.Itoa(tile.X))
	q.Set("y", strconv.Itoa(tile.Y))
	q.Set("zoom", strconv.Itoa(tile.Zoom))
	q.Set("nbt", "1")
	q.Set("fover", "2")

	status, body, err := c.get(ctx, c.tileHTTP, c.tileURL+"?"+q.Encode(), browserHeader())
	if err != nil {
		return nil, &streetview.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to fetch tile " + tile.CacheKey(),
			Err:      fmt.Errorf("%w: %w", streetview.ErrTileUnavailable, err),
		}
	}
	if status != http.StatusOK {
		return nil, &streetview.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", status),
			Message:  fmt.Sprintf("tile %s returned status %d", tile.CacheKey(), status),
			Err:      streetview.ErrTileUnavailable,
		}
	}
	if len(body) == 0 {
		return nil, &streetview.Error{
			Provider: ProviderName,
			Code:     "EMPTY_TILE",
			Message:  "tile " + tile.CacheKey() + " is empty",
			Err:      streetview.ErrTileUnavailable,
		}
	}

	return body, nil
}
