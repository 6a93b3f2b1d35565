// Package logging builds the slog loggers used by the service and the CLI.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/skypro1111/lipsync-audio-service/internal/config"
)

// ParseLevel maps a configured level name to a slog level.
// Unknown names log at info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewWriter returns a logger writing to w in the given format, "json" or "text"
func NewWriter(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// New creates the logger described by cfg. The returned closer releases
// the log file when Output names one, and is a no-op otherwise.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	level := ParseLevel(cfg.Level)

	switch cfg.Output {
	case "stdout", "":
		return NewWriter(os.Stdout, cfg.Format, level), nopCloser{}, nil
	case "stderr":
		return NewWriter(os.Stderr, cfg.Format, level), nopCloser{}, nil
	}

	file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
	}
	return NewWriter(file, cfg.Format, level), file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
