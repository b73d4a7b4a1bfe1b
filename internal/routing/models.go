// Package routing resolves the road route between two points, which the
// prefetch worker walks to place viewpoints.
package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/roadcondition/streetcrop/pkg/geo"
)

// Sentinel errors for routing operations.
var (
	// ErrProviderUnavailable indicates the routing provider is down or the circuit breaker is open.
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	// ErrNoRouteFound indicates no valid route exists between the given points.
	ErrNoRouteFound = errors.New("no route found between the given points")
	// ErrRateLimitExceeded indicates the API quota has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidCoordinates indicates the provided coordinates are invalid or out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrInvalidProfile indicates an unknown routing profile.
	ErrInvalidProfile = errors.New("invalid routing profile")
)

// Provider resolves routes.
type Provider interface {
	Route(ctx context.Context, req RouteRequest) (*Route, error)
	Name() string
}

// Profile is a routing profile (vehicle type).
type Profile string

const (
	ProfileCar  Profile = "driving-car"
	ProfileHGV  Profile = "driving-hgv"
	ProfileBike Profile = "cycling-regular"
)

// ParseProfile validates a profile name. Empty selects ProfileCar.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(s); p {
	case "":
		return ProfileCar, nil
	case ProfileCar, ProfileHGV, ProfileBike:
		return p, nil
	default:
		return "", fmt.Errorf("%w %q", ErrInvalidProfile, s)
	}
}

// RouteRequest asks for the route between two points.
type RouteRequest struct {
	Origin      geo.Point
	Destination geo.Point
	Profile     Profile
}

// Route is the single best route for a request.
type Route struct {
	Points          []geo.Point
	DistanceMeters  float64
	DurationSeconds float64
}

// Error provides detailed error information from the routing provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code from the provider
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

// IsRetryable returns true if the error is transient and the request can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}
