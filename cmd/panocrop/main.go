// Command panocrop renders one perspective crop to a JPEG file, warms the
// cache along a route, or mints API access tokens.
//
//	panocrop --from 36.183217,137.370532 --to 36.183582,137.37108 --out crop.jpg
//	panocrop --route '_p~iF~ps|U_ulLnnqC' --spacing 25
//	panocrop --origin 52.37,4.89 --destination 52.09,5.12 --ors-key KEY
//	panocrop token --client fleet-eu-1 --ttl 720h
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roadcondition/streetcrop/internal/auth"
	"github.com/roadcondition/streetcrop/internal/bootstrap"
	"github.com/roadcondition/streetcrop/internal/config"
	"github.com/roadcondition/streetcrop/internal/engine"
	"github.com/roadcondition/streetcrop/internal/worker"
	"github.com/roadcondition/streetcrop/pkg/geo"
)

// Version is set at compile time via ldflags.
var Version = "dev"

const serviceName = "panocrop"

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "panocrop:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "token" {
		return runToken(args[1:], stdout, stderr)
	}
	return runCrop(ctx, args, stdout, stderr)
}

// cropFlags registers the crop flags and binds the ones that mirror
// configuration keys, so flags beat STREETCROP_* variables and config.yaml.
func cropFlags(v *viper.Viper, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("panocrop", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.String("from", "", "camera position as lat,lng")
	fs.String("to", "", "next position along the route as lat,lng")
	fs.String("route", "", "encoded polyline to prefetch instead of a single crop")
	fs.String("origin", "", "route start as lat,lng, resolved through OpenRouteService")
	fs.String("destination", "", "route end as lat,lng")
	fs.String("profile", "", "routing profile: driving-car, driving-hgv, cycling-regular")
	fs.String("ors-key", "", "OpenRouteService API key")
	fs.Float64("spacing", 0, "viewpoint spacing in meters for route prefetch (default worker.spacing_meters)")
	fs.Int("width", 0, "output width in pixels (default 640)")
	fs.Int("height", 0, "output height in pixels (default 480)")
	fs.Int("zoom", 0, "panorama zoom level 1-5")
	fs.StringP("out", "o", "crop.jpg", "output JPEG path, - for stdout")
	fs.String("key", "", "Street View API key")
	fs.String("cache-backend", "", "cache backend: file, memory, badger, valkey, postgres")
	fs.String("cache-dir", "", "file cache directory")
	fs.String("log-level", "", "log level")

	for flag, key := range map[string]string{
		"key":           "provider.api_key",
		"zoom":          "engine.default_zoom",
		"spacing":       "worker.spacing_meters",
		"profile":       "routing.profile",
		"ors-key":       "routing.api_key",
		"cache-backend": "cache.backend",
		"cache-dir":     "cache.dir",
		"log-level":     "log.level",
	} {
		_ = v.BindPFlag(key, fs.Lookup(flag)) //nolint:errcheck // flag names are static
	}
	return fs
}

func runCrop(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	v := config.New(serviceName)
	v.SetDefault("log.level", "warn")
	fs := cropFlags(v, stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	route, _ := fs.GetString("route")
	fromRaw, _ := fs.GetString("from")
	toRaw, _ := fs.GetString("to")
	originRaw, _ := fs.GetString("origin")
	destinationRaw, _ := fs.GetString("destination")
	routed := originRaw != "" && destinationRaw != ""
	if route == "" && !routed && (fromRaw == "" || toRaw == "") {
		fmt.Fprintln(stderr, "panocrop: --from and --to, --route, or --origin and --destination are required")
		fs.PrintDefaults()
		return errUsage
	}

	var req worker.PrefetchRequest
	if routed && route == "" {
		origin, err := parsePoint(originRaw)
		if err != nil {
			return fmt.Errorf("--origin: %w", err)
		}
		destination, err := parsePoint(destinationRaw)
		if err != nil {
			return fmt.Errorf("--destination: %w", err)
		}
		req.Origin, req.Destination = &origin, &destination
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: stderr}).
		Level(levelOf(cfg.Log.Level)).
		With().Timestamp().Logger()

	eng, err := bootstrap.NewEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	width, _ := fs.GetInt("width")
	height, _ := fs.GetInt("height")

	if route != "" || routed {
		job := worker.NewPrefetchJob(worker.PrefetchJobConfig{
			Config: worker.PrefetchConfig{
				Concurrency:   cfg.Worker.Concurrency,
				SpacingMeters: cfg.Worker.SpacingMeters,
				Profile:       cfg.Routing.Profile,
			},
			Cropper: eng.Service,
			Router:  eng.Router,
			Logger:  log,
		})
		req.Name = "cli"
		req.Polyline = route
		req.Width, req.Height = width, height
		req.Zoom = cfg.Engine.DefaultZoom
		result, err := job.Run(ctx, req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d of %d viewpoints failed", result.Failed, result.TotalViewpoints)
		}
		return nil
	}

	from, err := parsePoint(fromRaw)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parsePoint(toRaw)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	result, err := eng.Service.Crop(ctx, engine.Request{
		Current:      from,
		Next:         to,
		OutputWidth:  width,
		OutputHeight: height,
		Zoom:         cfg.Engine.DefaultZoom,
	})
	if err != nil {
		return err
	}

	out, _ := fs.GetString("out")
	if out == "-" {
		_, err = stdout.Write(result.Image)
		return err
	}
	if err := os.WriteFile(out, result.Image, 0o644); err != nil { //nolint:gosec // output image is not secret
		return fmt.Errorf("writing %s: %w", out, err)
	}

	fmt.Fprintf(stderr, "wrote %s (%dx%d, panorama %s, heading %.1f, zoom %d, cache hit %t)\n",
		out, result.Width, result.Height, result.PanoramaID, result.PanoramaHeading, result.Zoom, result.CacheHit)
	return nil
}

func runToken(args []string, stdout, stderr io.Writer) error {
	v := config.New(serviceName)
	fs := pflag.NewFlagSet("panocrop token", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.String("client", "", "client ID the token is issued to")
	fs.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	fs.String("signing-key", "", "HMAC signing key (default auth.signing_key)")
	_ = v.BindPFlag("auth.signing_key", fs.Lookup("signing-key")) //nolint:errcheck // static flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	clientID, _ := fs.GetString("client")
	ttl, _ := fs.GetDuration("ttl")
	key := v.GetString("auth.signing_key")
	if clientID == "" || key == "" {
		fmt.Fprintln(stderr, "panocrop token: --client and a signing key are required")
		fs.PrintDefaults()
		return errUsage
	}

	svc := auth.NewJWTService(auth.JWTConfig{
		SigningKey: key,
		Issuer:     v.GetString("auth.issuer"),
		Audience:   v.GetString("auth.audience"),
	})
	token, expiresAt, err := svc.GenerateAccessToken(clientID, ttl)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, token)
	fmt.Fprintf(stderr, "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}

func parsePoint(raw string) (geo.Point, error) {
	latStr, lngStr, ok := strings.Cut(raw, ",")
	if !ok {
		return geo.Point{}, fmt.Errorf("%q is not lat,lng", raw)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("longitude: %w", err)
	}
	p := geo.Point{Lat: lat, Lng: lng}
	return p, p.Validate()
}

func levelOf(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.WarnLevel
	}
	return level
}
