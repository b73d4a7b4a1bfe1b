package config

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger returns a JSON logger on stdout tagged with service and version.
func NewLogger(service, version string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}
