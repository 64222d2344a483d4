// Package logger builds the process-wide slog logger and the attribute helpers
// shared by every package.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger creates the root logger. LOG_LEVEL selects the level
// (debug, info, warn, error; case-insensitive, default info) and
// GO_ENV=production switches to JSON output.
func NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Scope tags a log record with the component that emitted it.
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error attaches an error under the "error" key.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
