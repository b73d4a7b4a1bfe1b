package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
)

// Response headers set by the crop handler.
const (
	cacheHeader      = "X-Cache"
	zoomHeader       = "X-Zoom"
	panoramaIDHeader = "X-Panorama-Id"
)

// routePattern returns the matched chi route pattern, falling back to the
// raw path outside a chi router. Call it after the handler has run.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// cropLabels reads the low-cardinality crop outcome from a finished
// response: which cache tier answered and the zoom actually stitched.
// Non-crop responses yield nothing.
func cropLabels(h http.Header) []attribute.KeyValue {
	cache := h.Get(cacheHeader)
	if cache == "" {
		return nil
	}
	labels := []attribute.KeyValue{attribute.String("crop.cache", cache)}
	if zoom := h.Get(zoomHeader); zoom != "" {
		labels = append(labels, attribute.String("crop.zoom", zoom))
	}
	return labels
}
