package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
// Output goes to stderr because stdout carries the MCP stdio stream.
func NewLogger(env, level string) *slog.Logger {
	return newLogger(os.Stderr, env, level)
}

func newLogger(w io.Writer, env, level string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: ParseLevel(level, slog.LevelInfo),
	}

	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		if level == "" {
			opts.Level = slog.LevelDebug
		}
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// ParseLevel maps a level name to a slog.Level, returning fallback for
// empty or unknown names.
func ParseLevel(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}

// Redact shortens a secret for logging, keeping only its prefix.
func Redact(secret string) string {
	const keep = 6
	if len(secret) <= keep {
		return "[REDACTED]"
	}
	return secret[:keep] + "...[REDACTED]"
}
