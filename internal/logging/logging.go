// Package logging provides structured logging for caldata.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports text, JSON and
// colourised (tint) output, configurable log levels, and component-based
// loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, logging.FormatText)
//	logging.Init(slog.LevelDebug, logging.FormatTint) // Colourised for terminals
//
//	// Get a component logger
//	log := logging.Component("blobstore")
//	log.Info("rolled over", "file", 3)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatTint = "tint"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

// Init initializes the global logger with the specified level and format
// writing to stderr.
func Init(level slog.Level, format string) {
	InitWithWriter(os.Stderr, level, format)
}

// InitWithWriter initializes the global logger writing to w.
func InitWithWriter(w io.Writer, level slog.Level, format string) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	case FormatTint:
		noColor := true
		if f, ok := w.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd())
			w = colorable.NewColorable(f)
		}
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  opts.AddSource,
			TimeFormat: time.TimeOnly,
			NoColor:    noColor,
		})
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	l := slog.New(handler)
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger returns the global logger, initializing a text logger at info
// level on first use.
func Logger() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(slog.LevelInfo, FormatText)
	return Logger()
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Example:
//
//	log := logging.Component("index")
//	log.Info("schema ready") // Output: time=... level=INFO component=index msg="schema ready"
func Component(name string) *slog.Logger {
	return Logger().With("component", name)
}
