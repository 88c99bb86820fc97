// Package logger provides the shared slog constructor for alertd.
package logger

import (
	"log/slog"
	"os"
)

// New returns a text slog logger writing to stderr. Debug enables debug-level
// output.
func New(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}
