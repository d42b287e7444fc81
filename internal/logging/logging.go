// Package logging sets up the broker's zerolog logger, grounded on
// api/internal/logger/logger.go's Initialize/component-logger shape.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global base logger; component loggers below derive from it.
var Log zerolog.Logger

// Initialize configures the global logger from --log and -v. format is
// "text" or "json"; verbosity maps 0->info, 1->debug, 2+->trace, matching
// original_source/src/logging.rs's verbosity scale.
func Initialize(format string, verbosity int) {
	level := zerolog.InfoLevel
	switch {
	case verbosity >= 2:
		level = zerolog.TraceLevel
	case verbosity == 1:
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "scalesocket").Logger()
	Log.Info().Str("level", level.String()).Str("format", format).Msg("logger initialized")
}

// Room returns a logger scoped to one room's supervisor.
func Room(room string) *zerolog.Logger {
	l := Log.With().Str("component", "room").Str("room", room).Logger()
	return &l
}

// Reactor returns a logger scoped to the event reactor.
func Reactor() *zerolog.Logger {
	l := Log.With().Str("component", "reactor").Logger()
	return &l
}

// Bridge returns a logger scoped to one connection's bridge.
func Bridge(room string, conn uint32) *zerolog.Logger {
	l := Log.With().Str("component", "bridge").Str("room", room).Uint32("conn", conn).Logger()
	return &l
}

// HTTP returns a logger scoped to the HTTP layer.
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}
