package worker

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadcondition/streetcrop/internal/engine"
	"github.com/roadcondition/streetcrop/internal/provider/resilience"
	"github.com/roadcondition/streetcrop/internal/routing"
	"github.com/roadcondition/streetcrop/internal/streetview"
)

type stubCropper struct {
	err   error
	calls int
}

func (s *stubCropper) Crop(context.Context, engine.Request) (*engine.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &engine.Result{Image: []byte{1}}, nil
}

func newTestHandler(cropper Cropper, registry *resilience.Registry) *PubSubHandler {
	job := NewPrefetchJob(PrefetchJobConfig{
		Config:  PrefetchConfig{Concurrency: 1, SpacingMeters: 1000},
		Cropper: cropper,
		Logger:  zerolog.Nop(),
	})
	return newHandler(PubSubConfig{PrefetchJob: job, Registry: registry, Logger: zerolog.Nop()})
}

func TestProcess_Prefetch(t *testing.T) {
	cropper := &stubCropper{}
	h := newTestHandler(cropper, nil)

	err := h.process(context.Background(), []byte(`{
		"job_type": "prefetch",
		"name": "depot-loop",
		"points": [{"lat": 52.0, "lng": 4.0}, {"lat": 52.001, "lng": 4.0}]
	}`))

	require.NoError(t, err)
	assert.Equal(t, 1, cropper.calls)
}

func TestProcess_PoisonMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"job_type":`},
		{"unknown job type", `{"job_type":"provider_refresh"}`},
		{"malformed polyline", `{"job_type":"prefetch","polyline":"_p~iF"}`},
		{"empty route", `{"job_type":"prefetch","points":[{"lat":1,"lng":1}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&stubCropper{}, nil)
			err := h.process(context.Background(), []byte(tt.body))
			assert.ErrorIs(t, err, errPoisonMessage)
		})
	}
}

func TestProcess_RetryableFailuresAskForRedelivery(t *testing.T) {
	cropper := &stubCropper{err: &streetview.Error{Code: "HTTP_503", Message: "busy", Err: streetview.ErrUnavailable}}
	h := newTestHandler(cropper, nil)

	err := h.process(context.Background(), []byte(`{"job_type":"prefetch","points":[{"lat":52,"lng":4},{"lat":52.001,"lng":4}]}`))

	require.Error(t, err)
	assert.False(t, errors.Is(err, errPoisonMessage))
}

func TestProcess_NoCoverageIsAcknowledged(t *testing.T) {
	cropper := &stubCropper{err: &streetview.Error{Code: "ZERO_RESULTS", Message: "none", Err: streetview.ErrUnavailable}}
	h := newTestHandler(cropper, nil)

	err := h.process(context.Background(), []byte(`{"job_type":"prefetch","points":[{"lat":52,"lng":4},{"lat":52.001,"lng":4}]}`))

	assert.NoError(t, err)
}

func TestProcess_HealthCheck(t *testing.T) {
	registry := resilience.NewRegistry()
	h := newTestHandler(&stubCropper{}, registry)

	require.NoError(t, h.process(context.Background(), []byte(`{"job_type":"health_check"}`)))

	cb := resilience.DefaultCircuitBreakerConfig("google-metadata")
	cb.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 1 }
	cfg := resilience.DefaultClientConfig("google-metadata")
	cfg.CircuitBreaker = &cb
	cfg.Registry = registry
	client := resilience.NewClient(cfg)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://127.0.0.1:1/unreachable", http.NoBody)
	require.NoError(t, err)
	_, err = client.Do(req) //nolint:bodyclose // request fails
	require.Error(t, err)

	err = h.process(context.Background(), []byte(`{"job_type":"health_check"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FAIL")
}

type failingRouter struct{ err error }

func (r failingRouter) Route(context.Context, routing.RouteRequest) (*routing.Route, error) {
	return nil, r.err
}

func (failingRouter) Name() string { return "failing" }

func TestProcess_RouteFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		poison bool
	}{
		{"provider down", &routing.Error{Code: "SERVER_502", Err: routing.ErrProviderUnavailable}, false},
		{"rate limited", &routing.Error{Code: "RATE_LIMIT", Err: routing.ErrRateLimitExceeded}, false},
		{"no route", &routing.Error{Code: "NO_ROUTE", Err: routing.ErrNoRouteFound}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewPrefetchJob(PrefetchJobConfig{
				Cropper: &stubCropper{},
				Router:  failingRouter{err: tt.err},
				Logger:  zerolog.Nop(),
			})
			h := newHandler(PubSubConfig{PrefetchJob: job, Logger: zerolog.Nop()})

			err := h.process(context.Background(), []byte(`{
				"job_type": "prefetch",
				"origin": {"lat": 52, "lng": 4},
				"destination": {"lat": 52.01, "lng": 4}
			}`))

			require.Error(t, err)
			assert.Equal(t, tt.poison, errors.Is(err, errPoisonMessage))
		})
	}
}
