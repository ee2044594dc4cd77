// Package logutil configures the process logger and offers the structured
// helpers used across the service.
package logutil

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Setup configures the process-wide logger. Format "console" writes human
// readable lines, anything else writes JSON.
func Setup(level, format string) zerolog.Logger {
	return SetupWriter(os.Stderr, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(out).Level(lvl).With().Timestamp().Logger()

	mu.Lock()
	logger = l
	mu.Unlock()
	return l
}

// Logger returns the process-wide logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// Info logs a structured info message.
func Info(msg string, fields map[string]interface{}) {
	l := Logger()
	l.Info().Fields(fields).Msg(msg)
}

// Warn logs a structured warning.
func Warn(msg string, fields map[string]interface{}) {
	l := Logger()
	l.Warn().Fields(fields).Msg(msg)
}

// Error logs a structured error message including the error string.
func Error(msg string, err error, fields map[string]interface{}) {
	l := Logger()
	l.Error().Err(err).Fields(fields).Msg(msg)
}

// WithContext returns a new context carrying logger.
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// FromContext extracts the logger from ctx, falling back to the process
// logger when none was attached.
func FromContext(ctx context.Context) zerolog.Logger {
	return FromContextOr(ctx, Logger())
}

// FromContextOr is FromContext with an explicit fallback.
func FromContextOr(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return fallback
	}
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return fallback
}
