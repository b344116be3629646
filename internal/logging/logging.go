// Package logging builds the zerolog logger shared by every component.
//
// Console output is short and readable; file output stays JSON so it can be
// grepped or shipped.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "15:04:05.000"

// Options configures New.
type Options struct {
	Level   string    // zerolog level name; empty means info
	Console bool      // Human-readable output
	File    string    // JSON log file; overrides Out when set
	Out     io.Writer // Defaults to stderr
}

// New returns a logger and a close function for any file it opened.
func New(opts Options) (zerolog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	closeFn := func() error { return nil }

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		closeFn = f.Close
	} else if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat}
	}

	zerolog.ErrorFieldName = "err"
	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return log, closeFn, nil
}

// ParseLevel is zerolog.ParseLevel with an info default for "".
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q: %w", s, err)
	}
	return level, nil
}
