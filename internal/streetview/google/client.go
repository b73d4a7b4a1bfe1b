// Package google provides a client for Google Street View metadata, photo
// metadata and panorama tiles.
package google

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadcondition/streetcrop/internal/provider/resilience"
	"github.com/roadcondition/streetcrop/internal/streetview"
	"github.com/roadcondition/streetcrop/internal/telemetry"
)

const (
	// ProviderName identifies this imagery provider and its metadata client.
	ProviderName = "google-streetview"

	// PhotoMetaProviderName identifies the photo metadata client. It trips
	// independently so an offset outage cannot block metadata lookups.
	PhotoMetaProviderName = ProviderName + "-photometa"

	// TileProviderName identifies the tile client.
	TileProviderName = ProviderName + "-tiles"

	// DefaultMetadataURL is the Street View Static API metadata endpoint.
	DefaultMetadataURL = "https://maps.googleapis.com/maps/api/streetview/metadata"

	// DefaultPhotoMetaURL is the Maps photo metadata endpoint carrying the panorama heading.
	DefaultPhotoMetaURL = "https://www.google.com/maps/photometa/v1"

	// DefaultTileURL is the panorama tile endpoint.
	DefaultTileURL = "https://streetviewpixels-pa.googleapis.com/v1/tile"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 15 * time.Second

	// browserUserAgent is sent to the photometa and tile endpoints, which
	// reject unknown clients.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	// maxBodySize bounds provider responses; a tile is well under 1 MiB.
	maxBodySize = 8 << 20
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the Street View client.
type ClientConfig struct {
	// APIKey is the Street View Static API key, used for metadata lookups.
	APIKey string

	// MetadataURL overrides DefaultMetadataURL (optional).
	MetadataURL string

	// PhotoMetaURL overrides DefaultPhotoMetaURL (optional).
	PhotoMetaURL string

	// TileURL overrides DefaultTileURL (optional).
	TileURL string

	// HTTPClient is the HTTP client to use for every endpoint (optional).
	// If nil, each endpoint gets its own resilient client and breaker.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to 15s).
	Timeout time.Duration

	// RequestsPerSecond caps outgoing requests of each default client (optional).
	RequestsPerSecond float64

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Metrics records request durations (optional).
	Metrics *telemetry.ProviderMetrics

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a Google Street View client. It implements streetview.Provider.
type Client struct {
	apiKey       string
	metadataURL  string
	photoMetaURL string
	tileURL      string
	metadataHTTP HTTPDoer
	photoHTTP    HTTPDoer
	tileHTTP     HTTPDoer
	metrics      *telemetry.ProviderMetrics
	logger       zerolog.Logger
}

var _ streetview.Provider = (*Client)(nil)

// NewClient creates a new Street View client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	metadataHTTP, photoHTTP, tileHTTP := cfg.HTTPClient, cfg.HTTPClient, cfg.HTTPClient
	if cfg.HTTPClient == nil {
		metadataHTTP = newResilientClient(cfg, ProviderName, timeout, false)
		photoHTTP = newResilientClient(cfg, PhotoMetaProviderName, timeout, true)
		tileHTTP = newResilientClient(cfg, TileProviderName, timeout, false)
	}

	return &Client{
		apiKey:       cfg.APIKey,
		metadataURL:  orDefault(cfg.MetadataURL, DefaultMetadataURL),
		photoMetaURL: orDefault(cfg.PhotoMetaURL, DefaultPhotoMetaURL),
		tileURL:      orDefault(cfg.TileURL, DefaultTileURL),
		metadataHTTP: metadataHTTP,
		photoHTTP:    photoHTTP,
		tileHTTP:     tileHTTP,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

func newResilientClient(cfg ClientConfig, name string, timeout time.Duration, optional bool) *resilience.Client {
	clientCfg := resilience.DefaultClientConfig(name)
	clientCfg.Timeout = timeout
	clientCfg.RequestsPerSecond = cfg.RequestsPerSecond
	clientCfg.Burst = int(cfg.RequestsPerSecond) + 1
	clientCfg.Registry = cfg.Registry
	clientCfg.Optional = optional
	clientCfg.Logger = cfg.Logger
	return resilience.NewClient(clientCfg)
}

// get performs a GET and returns the status code and the bounded body.
func (c *Client) get(ctx context.Context, doer HTTPDoer, rawURL string, header http.Header) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := doer.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response body: %w", err)
	}

	return resp.StatusCode, body, nil
}

func browserHeader() http.Header {
	h := http.Header{}
	h.Set("User-Agent", browserUserAgent)
	return h
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
