package google

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/roadcondition/streetcrop/internal/streetview"
	"github.com/roadcondition/streetcrop/pkg/geo"
)

const statusOK = "OK"

// metadataResponse is the Street View metadata payload.
type metadataResponse struct {
	Status    string `json:"status"`
	PanoID    string `json:"pano_id"`
	Date      string `json:"date"`
	Copyright string `json:"copyright"`
	Location  struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	ErrorMessage string `json:"error_message"`
}

// LookupPanorama resolves the outdoor panorama nearest to point and checks
// that it is first-party imagery. apiKey overrides the configured key when set.
func (c *Client) LookupPanorama(ctx context.Context, point geo.Point, apiKey string) (meta *streetview.Metadata, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordRequest(ProviderName, "metadata", time.Since(start), err) }()

	key := c.apiKey
	if apiKey != "" {
		key = apiKey
	}

	q := url.Values{}
	q.Set("location", point.String())
	q.Set("key", key)
	q.Set("source", "outdoor")

	c.logger.Debug().
		Float64("lat", point.Lat).
		Float64("lng", point.Lng).
		Msg("requesting street view metadata")

	status, body, err := c.get(ctx, c.metadataHTTP, c.metadataURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &streetview.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach street view metadata",
			Err:      fmt.Errorf("%w: %w", streetview.ErrUnavailable, err),
		}
	}

	if status != http.StatusOK {
		return nil, &streetview.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", status),
			Message:  fmt.Sprintf("street view metadata returned status %d", status),
			Err:      streetview.ErrUnavailable,
		}
	}

	var resp metadataResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &streetview.Error{
			Provider: ProviderName,
			Code:     "INVALID_RESPONSE",
			Message:  "could not decode street view metadata",
			Err:      fmt.Errorf("%w: %w", streetview.ErrUnavailable, err),
		}
	}

	if resp.Status != statusOK || resp.PanoID == "" {
		code := resp.Status
		if code == "" {
			code = "NO_PANORAMA"
		}
		msg := "street view is not available at this location"
		if resp.ErrorMessage != "" {
			msg = resp.ErrorMessage
		}
		return nil, &streetview.Error{
			Provider: ProviderName,
			Code:     code,
			Message:  msg,
			Err:      streetview.ErrUnavailable,
		}
	}

	if !isFirstParty(resp.Copyright) {
		c.logger.Info().
			Str("pano_id", resp.PanoID).
			Str("copyright", resp.Copyright).
			Msg("rejecting user-contributed panorama")
		return nil, &streetview.Error{
			Provider: ProviderName,
			Code:     "USER_CONTRIBUTED",
			Message:  "panorama by " + resp.Copyright + " is not Google imagery",
			Err:      streetview.ErrUserContributed,
		}
	}

	c.logger.Debug().
		Str("pano_id", resp.PanoID).
		Str("date", resp.Date).
		Msg("resolved panorama")

	return &streetview.Metadata{
		PanoramaID: streetview.PanoramaID(resp.PanoID),
		Location:   geo.Point{Lat: resp.Location.Lat, Lng: resp.Location.Lng},
		Date:       resp.Date,
		Copyright:  resp.Copyright,
		Status:     resp.Status,
	}, nil
}

// isFirstParty reports whether a copyright attribution is acceptable.
// An empty attribution is accepted.
func isFirstParty(copyright string) bool {
	return copyright == "" || strings.Contains(copyright, "Google")
}
