package sigplay

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// NewLogger returns the logger used by the drivers. With console set, output is formatted for
// a terminal; otherwise one JSON object per line.
func NewLogger(w io.Writer, level string, console bool) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zerolog.ParseLevel(level); err != nil {
			return zerolog.Nop(), errors.Wrapf(err, "bad log level %q", level)
		}
	}

	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMicro}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// logOrNop dereferences l, treating nil as a logger that discards everything.
func logOrNop(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}
