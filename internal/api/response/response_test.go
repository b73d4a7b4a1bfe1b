package response_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/roadcondition/streetcrop/internal/api/middleware"
	"github.com/roadcondition/streetcrop/internal/api/models"
	"github.com/roadcondition/streetcrop/internal/api/response"
)

// requestWithContext returns a request whose context went through the
// RequestID middleware, plus a fresh recorder.
func requestWithContext(t *testing.T, method, path string) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(method, path, http.NoBody)

	var processedReq *http.Request
	handler := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		processedReq = r
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	return processedReq, httptest.NewRecorder()
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("expected problem content type, got %q", ct)
	}
	var p models.Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	return p
}

func TestJSON_IncludesRequestID(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/test")

	response.JSON(rec, req, http.StatusOK, map[string]string{"message": "hello"})

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if id := rec.Header().Get("X-Request-Id"); len(id) < 10 {
		t.Errorf("expected X-Request-Id header to be set, got %q", id)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}
}

func TestJSON_WithoutRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()

	response.JSON(rec, req, http.StatusOK, map[string]string{"message": "hello"})

	if id := rec.Header().Get("X-Request-Id"); id != "" {
		t.Errorf("expected no X-Request-Id header when not in context, got %q", id)
	}
}

func TestJSON_NilData(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/test")

	response.JSON(rec, req, http.StatusOK, nil)

	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got %q", rec.Body.String())
	}
}

func TestImage_WritesBody(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/v1/crops")
	body := []byte{0xff, 0xd8, 0xff, 0xd9}

	response.Image(rec, req, "image/jpeg", body, map[string]string{"X-Panorama-Id": "pano"})

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", ct)
	}
	if cl := rec.Header().Get("Content-Length"); cl != "4" {
		t.Errorf("expected Content-Length 4, got %q", cl)
	}
	if h := rec.Header().Get("X-Panorama-Id"); h != "pano" {
		t.Errorf("expected X-Panorama-Id pano, got %q", h)
	}
	if rec.Body.Len() != 4 {
		t.Errorf("expected 4 body bytes, got %d", rec.Body.Len())
	}
}

func TestImage_HeadOmitsBody(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodHead, "/v1/crops")

	response.Image(rec, req, "image/jpeg", []byte{1, 2, 3}, nil)

	if cl := rec.Header().Get("Content-Length"); cl != "3" {
		t.Errorf("expected Content-Length 3, got %q", cl)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body for HEAD, got %d bytes", rec.Body.Len())
	}
}

func TestTooManyRequests_IncludesRateLimitHeaders(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/test")

	info := &response.RateLimitInfo{
		Limit:      100,
		Remaining:  0,
		ResetAt:    1704067200,
		RetryAfter: 60,
	}
	response.TooManyRequestsWithInfo(rec, req, "rate limit exceeded", info)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rec.Code)
	}
	if h := rec.Header().Get("X-RateLimit-Limit"); h != "100" {
		t.Errorf("expected X-RateLimit-Limit 100, got %q", h)
	}
	if h := rec.Header().Get("X-RateLimit-Remaining"); h != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", h)
	}
	if h := rec.Header().Get("X-RateLimit-Reset"); h != "1704067200" {
		t.Errorf("expected X-RateLimit-Reset 1704067200, got %q", h)
	}
	if h := rec.Header().Get("Retry-After"); h != "60" {
		t.Errorf("expected Retry-After 60, got %q", h)
	}
}

func TestTooManyRequests_WithoutRateLimitInfo(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/test")

	response.TooManyRequests(rec, req, "slow down")

	if h := rec.Header().Get("X-RateLimit-Limit"); h != "" {
		t.Errorf("expected no rate limit headers, got %q", h)
	}
}

func TestProblemResponses(t *testing.T) {
	tests := []struct {
		name     string
		write    func(w http.ResponseWriter, r *http.Request)
		status   int
		probType string
		code     string
	}{
		{
			name:     "bad request",
			write:    func(w http.ResponseWriter, r *http.Request) { response.BadRequest(w, r, "invalid", nil) },
			status:   http.StatusBadRequest,
			probType: models.ProblemTypeValidation,
		},
		{
			name:     "unauthorized",
			write:    func(w http.ResponseWriter, r *http.Request) { response.Unauthorized(w, r, "no token") },
			status:   http.StatusUnauthorized,
			probType: models.ProblemTypeUnauthorized,
		},
		{
			name:     "not found",
			write:    func(w http.ResponseWriter, r *http.Request) { response.NotFound(w, r, "no panorama", "ZERO_RESULTS") },
			status:   http.StatusNotFound,
			probType: models.ProblemTypeNotFound,
			code:     "ZERO_RESULTS",
		},
		{
			name:     "unprocessable",
			write:    func(w http.ResponseWriter, r *http.Request) { response.Unprocessable(w, r, "user imagery", "USER_CONTRIBUTED") },
			status:   http.StatusUnprocessableEntity,
			probType: models.ProblemTypeUnprocessable,
			code:     "USER_CONTRIBUTED",
		},
		{
			name:     "internal",
			write:    func(w http.ResponseWriter, r *http.Request) { response.InternalError(w, r, "boom") },
			status:   http.StatusInternalServerError,
			probType: models.ProblemTypeInternal,
		},
		{
			name:     "unavailable",
			write:    func(w http.ResponseWriter, r *http.Request) { response.ServiceUnavailable(w, r, "provider down", 0) },
			status:   http.StatusServiceUnavailable,
			probType: models.ProblemTypeUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := requestWithContext(t, http.MethodGet, "/v1/crops")

			tt.write(rec, req)

			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
			p := decodeProblem(t, rec)
			if p.Type != tt.probType {
				t.Errorf("expected type %q, got %q", tt.probType, p.Type)
			}
			if p.Instance != "/v1/crops" {
				t.Errorf("expected instance /v1/crops, got %q", p.Instance)
			}
			if p.TraceID == "" || p.TraceID != rec.Header().Get("X-Request-Id") {
				t.Errorf("expected traceId to match X-Request-Id, got %q", p.TraceID)
			}
			if p.Code != tt.code {
				t.Errorf("expected code %q, got %q", tt.code, p.Code)
			}
		})
	}
}

func TestServiceUnavailable_RetryAfter(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/v1/crops")

	response.ServiceUnavailable(rec, req, "circuit open", 30)

	if h := rec.Header().Get("Retry-After"); h != "30" {
		t.Errorf("expected Retry-After 30, got %q", h)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("X-Request-Id", "client-request-123")

	var processedReq *http.Request
	handler := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		processedReq = r
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if id := middleware.GetRequestID(processedReq.Context()); id != "client-request-123" {
		t.Errorf("expected client request ID to be preserved, got %q", id)
	}

	rec := httptest.NewRecorder()
	response.JSON(rec, processedReq, http.StatusOK, map[string]string{"status": "ok"})

	if id := rec.Header().Get("X-Request-Id"); id != "client-request-123" {
		t.Errorf("expected response X-Request-Id to match client's, got %q", id)
	}
}

func TestGetRequestID_EmptyContext(t *testing.T) {
	if id := middleware.GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty request ID for background context, got %q", id)
	}
}
