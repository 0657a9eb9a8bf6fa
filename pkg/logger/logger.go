// Package logger builds the structured logger shared by the service.
package logger

import (
	"log/slog"
	"os"
)

// New returns a text slog.Logger writing to stderr. Debug enables debug
// level output and source locations.
func New(debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
