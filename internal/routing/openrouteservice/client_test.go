package openrouteservice

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/roadcondition/streetcrop/internal/routing"
	"github.com/roadcondition/streetcrop/pkg/geo"
	"github.com/roadcondition/streetcrop/pkg/polyline"
)

var (
	testOrigin      = geo.Point{Lat: 36.183217, Lng: 137.370532}
	testDestination = geo.Point{Lat: 36.183582, Lng: 137.37108}
)

func newTestClient(server *httptest.Server) *Client {
	return NewClient(ClientConfig{
		APIKey:     "mock123",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Logger:     zerolog.Nop(),
	})
}

func TestClient_Route_Success(t *testing.T) {
	geometry := polyline.Encode([]geo.Point{
		testOrigin,
		{Lat: 36.18340, Lng: 137.37080},
		testDestination,
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "mock123" {
			t.Errorf("expected Authorization header 'mock123', got '%s'", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/v2/directions/driving-hgv" {
			t.Errorf("expected path /v2/directions/driving-hgv, got %s", r.URL.Path)
		}

		var body directionsRequest
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		// ORS takes [lng, lat].
		if body.Coordinates[0][0] != testOrigin.Lng || body.Coordinates[0][1] != testOrigin.Lat {
			t.Errorf("origin sent as %v", body.Coordinates[0])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"routes":[{"summary":{"distance":65.4,"duration":9.8},"geometry":"` + geometry + `"}]}`))
	}))
	defer server.Close()

	route, err := newTestClient(server).Route(context.Background(), routing.RouteRequest{
		Origin:      testOrigin,
		Destination: testDestination,
		Profile:     routing.ProfileHGV,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(route.Points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(route.Points))
	}
	if route.DistanceMeters != 65.4 {
		t.Errorf("expected distance 65.4, got %v", route.DistanceMeters)
	}
	if d := geo.Distance(route.Points[2], testDestination); d > 1 {
		t.Errorf("last point %.2fm from destination", d)
	}
}

func TestClient_Route_DefaultProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/driving-car") {
			t.Errorf("expected driving-car profile, got %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"routes":[{"summary":{},"geometry":"_p~iF~ps|U_ulLnnqC"}]}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server).Route(context.Background(), routing.RouteRequest{
		Origin: testOrigin, Destination: testDestination,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_Route_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		wantCode string
	}{
		{"no route code", http.StatusBadRequest, `{"error":{"code":2009,"message":"Route could not be found"}}`, routing.ErrNoRouteFound, "NO_ROUTE"},
		{"point not routable", http.StatusNotFound, `{"error":{"code":2010,"message":"Could not find routable point"}}`, routing.ErrNoRouteFound, "NO_ROUTE"},
		{"bad request", http.StatusBadRequest, `{"error":{"code":2003,"message":"Parameter invalid"}}`, routing.ErrInvalidCoordinates, "BAD_REQUEST"},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"code":403,"message":"Rate limit exceeded"}}`, routing.ErrRateLimitExceeded, "RATE_LIMIT"},
		{"forbidden", http.StatusForbidden, `not json`, routing.ErrProviderUnavailable, "FORBIDDEN"},
		{"server error", http.StatusBadGateway, ``, routing.ErrProviderUnavailable, "SERVER_502"},
		{"empty routes", http.StatusOK, `{"routes":[]}`, routing.ErrNoRouteFound, "NO_ROUTE"},
		{"bad geometry", http.StatusOK, `{"routes":[{"geometry":"_p~iF"}]}`, polyline.ErrMalformed, "INVALID_GEOMETRY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server).Route(context.Background(), routing.RouteRequest{
				Origin: testOrigin, Destination: testDestination,
			})

			var routingErr *routing.Error
			if !errors.As(err, &routingErr) {
				t.Fatalf("expected *routing.Error, got %T: %v", err, err)
			}
			if routingErr.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, routingErr.Code)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestClient_Route_InvalidCoordinates(t *testing.T) {
	client := NewClient(ClientConfig{APIKey: "k", Logger: zerolog.Nop()})

	tests := []struct {
		name     string
		req      routing.RouteRequest
		wantCode string
	}{
		{"origin", routing.RouteRequest{Origin: geo.Point{Lat: 91}, Destination: testDestination}, "INVALID_ORIGIN"},
		{"destination", routing.RouteRequest{Origin: testOrigin, Destination: geo.Point{Lng: 181}}, "INVALID_DESTINATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Route(context.Background(), tt.req)
			var routingErr *routing.Error
			if !errors.As(err, &routingErr) || routingErr.Code != tt.wantCode {
				t.Fatalf("expected %s, got %v", tt.wantCode, err)
			}
			if !errors.Is(err, routing.ErrInvalidCoordinates) {
				t.Errorf("expected ErrInvalidCoordinates, got %v", err)
			}
		})
	}
}

func TestClient_Route_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	client := newTestClient(server)
	server.Close()

	_, err := client.Route(context.Background(), routing.RouteRequest{Origin: testOrigin, Destination: testDestination})

	var routingErr *routing.Error
	if !errors.As(err, &routingErr) || !routingErr.IsRetryable() {
		t.Fatalf("expected retryable routing error, got %v", err)
	}
}

func TestClient_Name(t *testing.T) {
	client := NewClient(ClientConfig{APIKey: "k", Logger: zerolog.Nop()})
	if client.Name() != ProviderName {
		t.Errorf("expected %s, got %s", ProviderName, client.Name())
	}
}

func TestParseProfile(t *testing.T) {
	for in, want := range map[string]routing.Profile{
		"":                routing.ProfileCar,
		"driving-hgv":     routing.ProfileHGV,
		"cycling-regular": routing.ProfileBike,
	} {
		got, err := routing.ParseProfile(in)
		if err != nil || got != want {
			t.Errorf("ParseProfile(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	if _, err := routing.ParseProfile("foot-hiking"); !errors.Is(err, routing.ErrInvalidProfile) {
		t.Errorf("expected ErrInvalidProfile, got %v", err)
	}
}

func TestError_IsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      *routing.Error
		expected bool
	}{
		{"provider unavailable is retryable", &routing.Error{Err: routing.ErrProviderUnavailable}, true},
		{"rate limit is retryable", &routing.Error{Err: routing.ErrRateLimitExceeded}, true},
		{"no route found is not retryable", &routing.Error{Err: routing.ErrNoRouteFound}, false},
		{"invalid coordinates is not retryable", &routing.Error{Err: routing.ErrInvalidCoordinates}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.IsRetryable() != tt.expected {
				t.Errorf("IsRetryable() = %v, expected %v", tt.err.IsRetryable(), tt.expected)
			}
		})
	}
}
