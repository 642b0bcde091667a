// Package log provides the structured logger used by kyfg and its commands.
// It wraps slog; the library logs through L(), commands call Init once.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.Mutex
	logger *slog.Logger
)

// ParseLevel parses "debug", "info", "warn" or "error". Unknown strings give
// info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Init sets the global logger, writing to w at the given level. Output is JSON
// if KYFG_LOG_FORMAT is "json", text otherwise.
func Init(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if os.Getenv("KYFG_LOG_FORMAT") == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	l := slog.New(h)

	mu.Lock()
	logger = l
	mu.Unlock()
	return l
}

// L returns the global logger. Without Init, it logs warnings and errors to
// stderr, at the level from KYFG_LOG_LEVEL if set.
func L() *slog.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l != nil {
		return l
	}
	level := os.Getenv("KYFG_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	return Init(os.Stderr, level)
}

// Discard makes the global logger drop everything, for tests.
func Discard() {
	mu.Lock()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	mu.Unlock()
}

// With returns the global logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
