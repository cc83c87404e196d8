// Package logger builds the process-wide slog JSON logger.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON logger on stdout. LOG_LEVEL selects the minimum level
// (debug, info, warn, error); anything unrecognized falls back to info.
func New() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	})
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
