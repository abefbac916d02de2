// ABOUTME: Global zerolog setup for the client and bridge
// ABOUTME: Writes to a log file, and also to stdout when the TUI is off
package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures Setup
type Options struct {
	Level  string
	Format string
	File   string

	// Stdout additionally logs to standard output. TUI mode logs only to
	// the file so output does not corrupt the screen.
	Stdout bool
}

// Setup configures the global logger and returns the open log file.
// Standard library log output is routed through zerolog as well.
func Setup(opts Options) (io.Closer, error) {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var writers []io.Writer
	var file *os.File

	if opts.File != "" {
		file, err = os.OpenFile(opts.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		writers = append(writers, format(file, opts.Format, true))
	}
	if opts.Stdout || file == nil {
		writers = append(writers, format(os.Stdout, opts.Format, false))
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	log.Logger = logger

	stdlog.SetFlags(0)
	stdlog.SetOutput(logger.With().Str("component", "stdlog").Logger())

	if file == nil {
		return nopCloser{}, nil
	}
	return file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func format(w io.Writer, name string, noColor bool) io.Writer {
	if name == "json" {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, NoColor: noColor, TimeFormat: "15:04:05.000"}
}
