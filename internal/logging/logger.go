package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
// Logs go to stderr so command output on stdout stays machine readable.
func NewLogger(env, level string) *slog.Logger {
	return newLogger(os.Stderr, env, level)
}

func newLogger(w io.Writer, env, level string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		handler = slog.NewJSONHandler(w, withLevel(opts, level, slog.LevelInfo))
	} else {
		handler = slog.NewTextHandler(w, withLevel(opts, level, slog.LevelDebug))
	}

	return slog.New(handler)
}

// withLevel applies level to opts, falling back to def when level is
// empty or not a recognised slog level name.
func withLevel(opts *slog.HandlerOptions, level string, def slog.Level) *slog.HandlerOptions {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		l = def
	}

	opts.Level = l

	return opts
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
