package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/roadcondition/streetcrop/internal/api/models"
	"github.com/roadcondition/streetcrop/internal/api/response"
	"github.com/roadcondition/streetcrop/internal/engine"
	"github.com/roadcondition/streetcrop/internal/provider/resilience"
	"github.com/roadcondition/streetcrop/internal/streetview"
	"github.com/roadcondition/streetcrop/pkg/geo"
)

// ProviderKeyHeader lets a caller bill metadata lookups to its own key.
const ProviderKeyHeader = "X-Streetview-Key"

// circuitRetryAfter is the Retry-After hint, in seconds, while a provider
// circuit is open.
const circuitRetryAfter = 60

// Cropper renders crops. *engine.Service satisfies it.
type Cropper interface {
	Crop(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// CropHandler serves perspective crops.
type CropHandler struct {
	cropper     Cropper
	defaultZoom int
}

// NewCropHandler creates a CropHandler. defaultZoom applies when the query
// omits zoom; zero defers to the engine default.
func NewCropHandler(cropper Cropper, defaultZoom int) *CropHandler {
	return &CropHandler{cropper: cropper, defaultZoom: defaultZoom}
}

// GetCrop handles GET /v1/crops?from=lat,lng&to=lat,lng[&width&height&zoom&format].
//
// The crop is returned as image/jpeg unless format=json or the Accept header
// prefers application/json, in which case the image is base64 in a JSON body.
func (h *CropHandler) GetCrop(w http.ResponseWriter, r *http.Request) {
	req, fieldErrs := h.parseRequest(r)
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid crop parameters", fieldErrs)
		return
	}

	result, err := h.cropper.Crop(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	cache := "MISS"
	if result.CacheHit {
		cache = "HIT"
	}

	if wantsJSON(r) {
		w.Header().Set("X-Cache", cache)
		response.JSON(w, r, http.StatusOK, models.CropResponse{
			PanoramaID:       string(result.PanoramaID),
			RealWorldHeading: result.RealWorldHeading,
			HeadingOffset:    result.HeadingOffset,
			PanoramaHeading:  result.PanoramaHeading,
			Zoom:             result.Zoom,
			Width:            result.Width,
			Height:           result.Height,
			CacheHit:         result.CacheHit,
			ContentType:      "image/jpeg",
			Image:            result.Base64(),
		})
		return
	}

	headers := map[string]string{
		"X-Cache":              cache,
		"X-Heading-Real-World": formatHeading(result.RealWorldHeading),
	}
	if !result.CacheHit {
		headers["X-Panorama-Id"] = string(result.PanoramaID)
		headers["X-Heading-Offset"] = formatHeading(result.HeadingOffset)
		headers["X-Heading-Panorama"] = formatHeading(result.PanoramaHeading)
		headers["X-Zoom"] = strconv.Itoa(result.Zoom)
	}
	response.Image(w, r, "image/jpeg", result.Image, headers)
}

func (h *CropHandler) parseRequest(r *http.Request) (engine.Request, []models.FieldError) {
	q := r.URL.Query()
	var errs []models.FieldError

	req := engine.Request{
		APIKey: r.Header.Get(ProviderKeyHeader),
		Zoom:   h.defaultZoom,
	}

	var err error
	if req.Current, err = parsePoint(q.Get("from")); err != nil {
		errs = append(errs, models.FieldError{Field: "from", Message: err.Error(), Code: "INVALID_POINT"})
	}
	if req.Next, err = parsePoint(q.Get("to")); err != nil {
		errs = append(errs, models.FieldError{Field: "to", Message: err.Error(), Code: "INVALID_POINT"})
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"width", &req.OutputWidth},
		{"height", &req.OutputHeight},
		{"zoom", &req.Zoom},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, convErr := strconv.Atoi(raw)
		if convErr != nil || v <= 0 {
			errs = append(errs, models.FieldError{Field: p.name, Message: "must be a positive integer", Code: "INVALID_INTEGER"})
			continue
		}
		*p.dst = v
	}

	switch q.Get("format") {
	case "", "jpeg", "json":
	default:
		errs = append(errs, models.FieldError{Field: "format", Message: "must be jpeg or json", Code: "INVALID_FORMAT"})
	}

	return req, errs
}

// writeError maps engine failures onto problems. Circuit state is checked
// before the sentinel classes because transport errors are wrapped as
// ErrUnavailable.
func (h *CropHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := zerolog.Ctx(r.Context())

	var svErr *streetview.Error
	code := ""
	if errors.As(err, &svErr) {
		code = svErr.Code
	}

	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		log.Debug().Msg("client went away during crop")
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrRateLimited):
		log.Warn().Err(err).Msg("street view provider unavailable")
		response.ServiceUnavailable(w, r, "street imagery provider is temporarily unavailable", circuitRetryAfter)
	case errors.Is(err, streetview.ErrUserContributed):
		response.Unprocessable(w, r, "the panorama at this location is user-contributed", code)
	case errors.Is(err, streetview.ErrUnavailable):
		response.NotFound(w, r, "no street-level imagery at this location", code)
	case errors.Is(err, streetview.ErrPanoramaUnavailable), errors.Is(err, context.DeadlineExceeded):
		log.Warn().Err(err).Msg("panorama could not be assembled")
		response.ServiceUnavailable(w, r, "panorama tiles could not be retrieved at any zoom level", 0)
	default:
		log.Error().Err(err).Msg("crop failed")
		response.InternalError(w, r, "crop failed")
	}
}

func parsePoint(raw string) (geo.Point, error) {
	if raw == "" {
		return geo.Point{}, errors.New("required, as lat,lng")
	}
	latStr, lngStr, ok := strings.Cut(raw, ",")
	if !ok {
		return geo.Point{}, errors.New("must be lat,lng")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("latitude %q is not a number", latStr)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("longitude %q is not a number", lngStr)
	}
	p := geo.Point{Lat: lat, Lng: lng}
	if err := p.Validate(); err != nil {
		return geo.Point{}, err
	}
	return p, nil
}

func wantsJSON(r *http.Request) bool {
	switch r.URL.Query().Get("format") {
	case "json":
		return true
	case "jpeg":
		return false
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "image/")
}

func formatHeading(h float64) string {
	return strconv.FormatFloat(h, 'f', 4, 64)
}
