package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init configures the process-wide slog logger for service. Output is JSON when
// TERMGUARD_JSON_LOG is 1/true/json, text otherwise; level comes from TERMGUARD_LOG_LEVEL.
func Init(service string) *slog.Logger {
	return InitWithLevel(os.Stdout, service, ParseLevel(os.Getenv("TERMGUARD_LOG_LEVEL")))
}

// InitWithLevel is Init writing to w at an explicit level. CLI commands use it to
// keep logs on stderr.
func InitWithLevel(w io.Writer, service string, level slog.Leveler) *slog.Logger {
	json := isJSON(os.Getenv("TERMGUARD_JSON_LOG"))
	logger := New(w, service, json, level)
	slog.SetDefault(logger)
	logger.Debug("logging initialized", "json", json)
	return logger
}

// New builds a logger tagged with the service name without touching the default logger.
func New(w io.Writer, service string, json bool, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: false, Level: level}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", service)
}

// ParseLevel maps debug|info|warn|error to a slog level; anything else is info.
func ParseLevel(s string) slog.Level {
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

func isJSON(mode string) bool {
	switch strings.ToLower(mode) {
	case "1", "true", "json":
		return true
	}
	return false
}
