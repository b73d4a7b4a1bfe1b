// Package config loads service configuration from defaults, an optional
// config.yaml and STREETCROP_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/roadcondition/streetcrop/internal/cachestore"
	"github.com/roadcondition/streetcrop/internal/panorama"
	"github.com/roadcondition/streetcrop/internal/routing"
)

// EnvPrefix namespaces environment overrides: STREETCROP_CACHE_DIR -> cache.dir.
const EnvPrefix = "STREETCROP"

// Config holds all application configuration.
type Config struct {
	Env       string            `mapstructure:"env"`
	Log       LogConfig         `mapstructure:"log"`
	Server    ServerConfig      `mapstructure:"server"`
	Provider  ProviderConfig    `mapstructure:"provider"`
	Routing   RoutingConfig     `mapstructure:"routing"`
	Engine    EngineConfig      `mapstructure:"engine"`
	Cache     cachestore.Config `mapstructure:"cache"`
	Auth      AuthConfig        `mapstructure:"auth"`
	Worker    WorkerConfig      `mapstructure:"worker"`
	Telemetry TelemetryConfig   `mapstructure:"telemetry"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RateLimit    int           `mapstructure:"rate_limit"`
}

// ProviderConfig configures the Street View client.
type ProviderConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	MetadataURL       string        `mapstructure:"metadata_url"`
	PhotoMetaURL      string        `mapstructure:"photometa_url"`
	TileURL           string        `mapstructure:"tile_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// RoutingConfig configures the OpenRouteService client that resolves
// origin/destination prefetch jobs. An empty APIKey disables routing.
type RoutingConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Profile string        `mapstructure:"profile"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EngineConfig struct {
	TileConcurrency int `mapstructure:"tile_concurrency"`
	DefaultZoom     int `mapstructure:"default_zoom"`
}

type AuthConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	SigningKey string `mapstructure:"signing_key"`
	Issuer     string `mapstructure:"issuer"`
	Audience   string `mapstructure:"audience"`
}

// WorkerConfig configures the prefetch worker.
type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	SpacingMeters  float64       `mapstructure:"spacing_meters"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
	ProjectID      string        `mapstructure:"project_id"`
	SubscriptionID string        `mapstructure:"subscription_id"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// New returns a viper instance with defaults, the optional config file and
// environment bindings applied. Callers may bind flags before Unmarshal.
func New(service string) *viper.Viper {
	v := viper.New()

	v.SetDefault("env", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.rate_limit", 60)

	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.metadata_url", "")
	v.SetDefault("provider.photometa_url", "")
	v.SetDefault("provider.tile_url", "")
	v.SetDefault("provider.timeout", 15*time.Second)
	v.SetDefault("provider.requests_per_second", 0)

	v.SetDefault("routing.api_key", "")
	v.SetDefault("routing.base_url", "")
	v.SetDefault("routing.profile", string(routing.ProfileCar))
	v.SetDefault("routing.timeout", 10*time.Second)

	v.SetDefault("engine.tile_concurrency", panorama.DefaultTileConcurrency)
	v.SetDefault("engine.default_zoom", 3)

	v.SetDefault("cache.backend", cachestore.BackendFile)
	v.SetDefault("cache.dir", "./cache")
	v.SetDefault("cache.badger_dir", "./cache/badger")
	v.SetDefault("cache.valkey_addr", "localhost:6379")
	v.SetDefault("cache.valkey_prefix", "streetcrop:")
	v.SetDefault("cache.postgres.host", "localhost")
	v.SetDefault("cache.postgres.port", 5432)
	v.SetDefault("cache.postgres.user", "streetcrop")
	v.SetDefault("cache.postgres.password", "")
	v.SetDefault("cache.postgres.name", "streetcrop")
	v.SetDefault("cache.postgres.ssl_mode", "disable")
	v.SetDefault("cache.postgres.url", "")
	v.SetDefault("cache.postgres.max_open_conns", 10)
	v.SetDefault("cache.postgres.max_idle_conns", 2)
	v.SetDefault("cache.postgres.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.issuer", "streetcrop")
	v.SetDefault("auth.audience", "streetcrop-api")

	v.SetDefault("worker.concurrency", 3)
	v.SetDefault("worker.spacing_meters", 25.0)
	v.SetDefault("worker.job_timeout", 10*time.Minute)
	v.SetDefault("worker.project_id", "")
	v.SetDefault("worker.subscription_id", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() //nolint:errcheck // missing file is fine

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads configuration for a service.
func Load(service string) (*Config, error) {
	return FromViper(New(service))
}

// FromViper decodes and validates a prepared viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level %q is not a valid level", c.Log.Level))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server.rate_limit must not be negative")
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, "provider.timeout must be positive")
	}
	if c.Provider.RequestsPerSecond < 0 {
		errs = append(errs, "provider.requests_per_second must not be negative")
	}
	if _, err := routing.ParseProfile(c.Routing.Profile); err != nil {
		errs = append(errs, fmt.Sprintf("routing.profile: %v", err))
	}
	if c.Routing.Timeout <= 0 {
		errs = append(errs, "routing.timeout must be positive")
	}
	if c.Engine.TileConcurrency < 1 {
		errs = append(errs, "engine.tile_concurrency must be at least 1")
	}
	if c.Engine.DefaultZoom < panorama.MinZoom || c.Engine.DefaultZoom > panorama.MaxZoom {
		errs = append(errs, fmt.Sprintf("engine.default_zoom must be %d-%d, got %d", panorama.MinZoom, panorama.MaxZoom, c.Engine.DefaultZoom))
	}

	switch c.Cache.Backend {
	case cachestore.BackendFile:
		if c.Cache.Dir == "" {
			errs = append(errs, "cache.dir is required for the file backend")
		}
	case cachestore.BackendMemory, cachestore.BackendBadger:
	case cachestore.BackendValkey:
		if c.Cache.ValkeyAddr == "" {
			errs = append(errs, "cache.valkey_addr is required for the valkey backend")
		}
	case cachestore.BackendPostgres:
		if c.Cache.Postgres.URL == "" && c.Cache.Postgres.Host == "" {
			errs = append(errs, "cache.postgres.host or cache.postgres.url is required for the postgres backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.backend %q is not one of file, memory, badger, valkey, postgres", c.Cache.Backend))
	}

	if c.Auth.Enabled && len(c.Auth.SigningKey) < 32 {
		errs = append(errs, "auth.signing_key must be at least 32 bytes when auth is enabled")
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, "worker.concurrency must be at least 1")
	}
	if c.Worker.SpacingMeters <= 0 {
		errs = append(errs, "worker.spacing_meters must be positive")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, "telemetry.sample_ratio must be within [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Logger builds the root zerolog logger for a service.
func (c *Config) Logger(service, version string) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return NewLogger(service, version, level)
}
