package asiotest

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

var (
	// DefaultLogger is used when no logger is given. It discards everything.
	DefaultLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

	logMutex sync.RWMutex
)

// SetLogger replaces the default logger.
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// Logger returns the current default logger.
func Logger() *slog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()

	return DefaultLogger
}

// ParseLevel parses one of "none", "error", "warn", "info", "debug".
// For "none" ok is false, and nothing should be logged.
func ParseLevel(level string) (lvl slog.Level, ok bool, err error) {
	switch level {
	case "none":
		return 0, false, nil
	case "error":
		return slog.LevelError, true, nil
	case "warn":
		return slog.LevelWarn, true, nil
	case "info":
		return slog.LevelInfo, true, nil
	case "debug":
		return slog.LevelDebug, true, nil
	default:
		return 0, false, fmt.Errorf("unexpected log level %q", level)
	}
}

// NewLogger creates a logger writing to w at the given level, JSON formatted if json is set.
func NewLogger(w io.Writer, level string, json bool) (*slog.Logger, error) {
	lvl, ok, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	if !ok {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}

	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}

	return Logger()
}
