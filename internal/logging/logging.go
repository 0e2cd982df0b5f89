// Package logging builds the structured logger shared by the Lambda functions.
// Output is JSON on stdout so CloudWatch can index the attributes.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON logger writing to stdout at the given level.
// Development mode always logs at debug.
func New(level string, devMode bool) *slog.Logger {
	return NewWithWriter(os.Stdout, level, devMode)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level string, devMode bool) *slog.Logger {
	lvl := ParseLevel(level)
	if devMode {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// ParseLevel maps a level name to a slog level. Unknown names yield info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Component returns a child logger tagged with the component name.
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With("component", name)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
