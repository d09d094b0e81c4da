// Package logging configures the global zerolog logger used across the engine.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger for the given service name and environment.
// Development gets a pretty console writer; anything else gets JSON on stderr,
// matching the teacher's pkg/utils/logger.go behavior.
func Init(service, environment, level string) {
	switch strings.ToLower(level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		if environment == "development" {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	}

	if environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		})
	} else {
		log.Logger = zerolog.New(os.Stderr).
			With().
			Timestamp().
			Str("service", service).
			Logger()
	}

	log.Info().
		Str("level", zerolog.GlobalLevel().String()).
		Str("environment", environment).
		Str("service", service).
		Msg("logger initialized")
}
