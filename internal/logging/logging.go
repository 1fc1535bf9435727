// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup points log.Logger at w. format is "console" (human readable, RFC3339
// timestamps) or "json". An empty level means info.
func Setup(level, format string, w io.Writer) error {
	lvl := zerolog.InfoLevel
	if strings.TrimSpace(level) != "" {
		var err error
		lvl, err = zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return fmt.Errorf("log level %q: %w", level, err)
		}
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer
	switch strings.ToLower(format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
		zerolog.TimeFieldFormat = time.RFC3339
		out = w
	default:
		return fmt.Errorf("log format %q: use console or json", format)
	}
	logger := zerolog.New(out).With().Timestamp()
	if lvl <= zerolog.DebugLevel {
		logger = logger.Caller()
	}
	log.Logger = logger.Logger()
	return nil
}
