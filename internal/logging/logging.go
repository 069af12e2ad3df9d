// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init replaces log.Logger. JSON output is meant for deployments; the console
// writer is for local runs.
func Init(level string, json bool) {
	InitWriter(os.Stdout, level, json)
}

func InitWriter(out io.Writer, level string, json bool) {
	if !json {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	setGlobalLevel(level)
}

func setGlobalLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Warn().Err(err).Str("logLevelSpecified", level).Msg("Invalid log level, defaulting to info")
		return
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Debug().Str("level", lvl.String()).Msg("Log level set")
}
