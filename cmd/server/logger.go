package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/fracture-records/internal/config"
)

// newLogger writes JSON in production and a console format elsewhere.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if !cfg.IsProduction() {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("env", cfg.Env).Logger()
}
