// Package log builds the slog loggers used by the flowpilot binaries.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Setup installs the logger for service as the slog default and returns it.
func Setup(service, level, format string) *slog.Logger {
	logger := New(os.Stderr, service, level, format)
	slog.SetDefault(logger)

	return logger
}

// New returns a logger writing to w that tags every record with the service name.
func New(w io.Writer, service, level, format string) *slog.Logger {
	options := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, FormatJSON) {
		handler = slog.NewJSONHandler(w, options)
	} else {
		handler = slog.NewTextHandler(w, options)
	}

	return slog.New(handler).With("service", service)
}

// ParseLevel accepts debug, info, warn and error in any case and falls back to info.
func ParseLevel(level string) slog.Level {
	var parsed slog.Level

	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}

	return parsed
}

func WithModule(logger *slog.Logger, module string) *slog.Logger {
	return logger.With("module", module)
}
