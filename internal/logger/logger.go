// Package logger provides the switch's zerolog setup.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

// Options are applied once configuration is known.
type Options struct {
	// Level is a zerolog level name. Empty or unknown means info.
	Level string
	// Pretty switches to human-readable console output for local runs.
	Pretty bool
}

type stackTracer interface{ StackTrace() pkgerrors.StackTrace }

var marshalOnce sync.Once

// installStackMarshaler makes .Stack() print where an error was created,
// wrapping plain errors on the way.
func installStackMarshaler() {
	marshalOnce.Do(func() {
		zerolog.ErrorStackMarshaler = func(err error) interface{} {
			if _, ok := err.(stackTracer); !ok {
				err = pkgerrors.WithStack(err)
			}
			return zpkgerrors.MarshalStack(err)
		}
		zerolog.TimeFieldFormat = time.RFC3339Nano
	})
}

// New returns a JSON logger on stdout tagged with the service name, at info
// level, for use before configuration is loaded.
func New(service string) zerolog.Logger {
	return Build(service, os.Stdout, Options{})
}

// Build returns a logger for service writing to w.
func Build(service string, w io.Writer, opts Options) zerolog.Logger {
	installStackMarshaler()
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).
		Level(ParseLevel(opts.Level)).
		With().
		Str("service", service).
		Timestamp().
		Logger()
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
