package logutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/oops"
)

type (
	key byte
)

var (
	loggerKey = key(1)
)

func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func GetOrDefault(ctx context.Context) zerolog.Logger {
	v := ctx.Value(loggerKey)
	if v == nil {
		return log.Logger
	}
	return v.(zerolog.Logger)
}

// New builds the process logger. format is "json" or "console"; an unknown
// level falls back to info.
func New(level, format string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Err attaches err to evt. oops errors also contribute their code, domain and
// context fields.
func Err(evt *zerolog.Event, err error) *zerolog.Event {
	evt = evt.Err(err)
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return evt
	}
	if code := oopsErr.Code(); code != nil {
		evt = evt.Str("code", fmt.Sprint(code))
	}
	if domain := oopsErr.Domain(); domain != "" {
		evt = evt.Str("domain", domain)
	}
	if fields := oopsErr.Context(); len(fields) > 0 {
		evt = evt.Fields(fields)
	}
	return evt
}
