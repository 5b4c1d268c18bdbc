// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joeycumines/behavioral/internal/config"
)

// ParseLevel parses debug, info, warn or error. The empty string is info.
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
	}
	return 0, fmt.Errorf("invalid log level: %s", s)
}

// Setup returns a logger per the settings. Non-empty flag values take
// precedence over the settings. When logging to a file, the returned closer
// must be closed; otherwise it is a no-op.
func Setup(stderr io.Writer, flagFile, flagLevel string, s config.Settings) (*slog.Logger, io.Closer, error) {
	levelStr := flagLevel
	if levelStr == "" {
		levelStr = s.LogLevel
	}
	level, err := ParseLevel(levelStr)
	if err != nil {
		return nil, nil, err
	}

	w, closer := stderr, io.Closer(nopCloser{})
	path := flagFile
	if path == "" {
		path = s.LogFile
	}
	if path != "" {
		maxSize := s.LogMaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		rw, err := NewRotatingFileWriter(path, maxSize, s.LogMaxFiles)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		w, closer = rw, rw
	}

	return New(w, level, s.LogFormat), closer, nil
}

// New returns a logger writing text or JSON (format "json") records at or
// above level to w.
func New(w io.Writer, level slog.Leveler, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
