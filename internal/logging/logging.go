// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv overrides the default log level when no flag is given.
const LevelEnv = "ODATACHECK_LOG_LEVEL"

// Options controls logger construction.
type Options struct {
	// Level is one of trace, debug, info, warn, error. Empty means info,
	// or the value of ODATACHECK_LOG_LEVEL when set.
	Level string
	// JSON switches from the console writer to line-delimited JSON.
	JSON bool
	// Verbose forces debug level.
	Verbose bool
	Out     io.Writer
}

// New builds a logger without touching the global one.
func New(opts Options) (zerolog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if opts.Verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// Setup builds a logger and installs it as the global logger.
func Setup(opts Options) (zerolog.Logger, error) {
	logger, err := New(opts)
	if err != nil {
		return logger, err
	}
	log.Logger = logger
	return logger, nil
}

// ParseLevel resolves a level name, falling back to ODATACHECK_LOG_LEVEL
// and then info.
func ParseLevel(raw string) (zerolog.Level, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv(LevelEnv))
	}
	if raw == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", raw, err)
	}
	return level, nil
}
