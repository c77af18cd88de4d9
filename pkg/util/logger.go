package util

import (
	"log/slog"
	"os"
)

const serviceName = "dashtenant"

// NewLogger builds the process-wide slog logger: human-readable text at debug
// level in development, JSON at info level everywhere else. Every record
// carries the service name so multi-service log streams stay attributable.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "development" {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", serviceName)
}
