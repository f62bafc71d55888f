// Package logging builds the process-wide zerolog.Logger from ambient
// configuration (level, console vs. JSON output).
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Options configures logger construction. Zero value is a sane default:
// info level, JSON to stderr.
type Options struct {
	Level   string // "debug", "info", "warn", "error"; default "info"
	Console bool   // human-readable console writer instead of JSON
	Out     io.Writer
}

// New builds a zerolog.Logger per opts.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
