package util

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns the process logger: human-readable text with debug
// output in development, JSON at info level everywhere else.
func NewLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env).With("service", "backoffice")
}

func newLogger(w io.Writer, env string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "development" {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// DiscardLogger is used by tests and tools that do not want output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
