package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

// Options controls logger construction.
type Options struct {
	Level  string
	Format string
	Out    io.Writer
}

// New builds a logrus logger. Unknown levels fall back to info.
func New(opts Options) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if opts.Out != nil {
		l.SetOutput(opts.Out)
	}
	lvl, err := logrus.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	if strings.EqualFold(opts.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// Discard returns an entry that writes nowhere, for tests.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func WithContext(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry)
}

// FromContext returns the request-scoped entry, or fallback.
func FromContext(ctx context.Context, fallback *logrus.Entry) *logrus.Entry {
	if ctx != nil {
		switch typed := ctx.Value(loggerKey{}).(type) {
		case *logrus.Entry:
			return typed
		case *logrus.Logger:
			return logrus.NewEntry(typed)
		}
	}
	if fallback != nil {
		return fallback
	}
	return Discard()
}
