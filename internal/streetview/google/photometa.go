package google

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/roadcondition/streetcrop/internal/streetview"
	"github.com/roadcondition/streetcrop/pkg/geo"
)

const (
	// photoMetaQuery is the versioned protobuf-in-URL request understood by the
	// photometa endpoint. %s receives the panorama id.
	photoMetaQuery = "authuser=0&hl=ja&gl=jp&pb=!1m4!1smaps_sv.tactile!11m2!2m1!1b1!2m2!1sja!2sjp!3m3!1m2!1e2!2s%s" +
		"!4m57!1e1!1e2!1e3!1e4!1e5!1e6!1e8!1e12!2m1!1e1!4m1!1i48!5m1!1e1!5m1!1e2!6m1!1e1!6m1!1e2" +
		"!9m36!1m3!1e2!2b1!3e2!1m3!1e2!2b0!3e3!1m3!1e3!2b1!3e2!1m3!1e3!2b0!3e3!1m3!1e8!2b0!3e3" +
		"!1m3!1e1!2b0!3e3!1m3!1e4!2b0!3e3!1m3!1e10!2b1!3e2!1m3!1e10!2b0!3e3"
)

// xssiPrefix guards the JSON body against script inclusion.
var xssiPrefix = []byte(")]}'")

// Positions inside the photometa array tree.
var (
	headingPath = []int{1, 0, 5, 0, 1, 2, 0}
	panoIDPath  = []int{1, 0, 1, 1}
)

// HeadingOffset returns the compass heading the panorama's horizontal centre faces.
func (c *Client) HeadingOffset(ctx context.Context, id streetview.PanoramaID) (offset float64, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordRequest(ProviderName, "photometa", time.Since(start), err) }()

	rawURL := c.photoMetaURL + "?" + fmt.Sprintf(photoMetaQuery, id)
	status, body, err := c.get(ctx, c.photoHTTP, rawURL, browserHeader())
	if err != nil {
		return 0, &streetview.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach photo metadata",
			Err:      fmt.Errorf("%w: %w", streetview.ErrHeadingOffset, err),
		}
	}
	if status != http.StatusOK {
		return 0, &streetview.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", status),
			Message:  fmt.Sprintf("photo metadata returned status %d", status),
			Err:      streetview.ErrHeadingOffset,
		}
	}

	offset, err = parseHeadingOffset(body, id)
	if err != nil {
		return 0, &streetview.Error{
			Provider: ProviderName,
			Code:     "SCHEMA_DRIFT",
			Message:  "unexpected photo metadata layout",
			Err:      err,
		}
	}

	c.logger.Debug().
		Str("pano_id", string(id)).
		Float64("heading_offset", offset).
		Msg("resolved heading offset")

	return offset, nil
}

// parseHeadingOffset extracts the panorama heading from a photometa body.
// Every failure wraps streetview.ErrSchemaDrift.
func parseHeadingOffset(body []byte, id streetview.PanoramaID) (float64, error) {
	body = bytes.TrimSpace(body)
	if bytes.HasPrefix(body, xssiPrefix) {
		body = body[len(xssiPrefix):]
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, fmt.Errorf("%w: %w", streetview.ErrSchemaDrift, err)
	}

	if echoed, ok := walk(data, panoIDPath); ok {
		if s, isString := echoed.(string); isString && s != "" && s != string(id) {
			return 0, fmt.Errorf("%w: response is for panorama %q, requested %q", streetview.ErrSchemaDrift, s, id)
		}
	}

	v, ok := walk(data, headingPath)
	if !ok {
		return 0, fmt.Errorf("%w: no value at heading path %v", streetview.ErrSchemaDrift, headingPath)
	}

	heading, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: heading is %T, not a number", streetview.ErrSchemaDrift, v)
	}
	if math.IsNaN(heading) || math.IsInf(heading, 0) {
		return 0, fmt.Errorf("%w: heading is not finite", streetview.ErrSchemaDrift)
	}

	return geo.NormalizeHeading(heading), nil
}

// walk follows array indices through nested JSON arrays.
func walk(v any, path []int) (any, bool) {
	for _, i := range path {
		arr, ok := v.([]any)
		if !ok || i < 0 || i >= len(arr) {
			return nil, false
		}
		v = arr[i]
	}
	return v, true
}
