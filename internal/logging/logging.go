// Package logging configures the process-wide slog handler writing JSON
// lines under $PYWEN_HOME/logs.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Setup opens the session log file and installs a JSON handler as the
// default logger. The returned closer flushes the file at shutdown. When the
// log directory cannot be created, logging falls back to stderr rather than
// failing startup.
func Setup(pywenHome, sessionID, level string) (io.Closer, error) {
	lvl := ParseLevel(level)

	dir := filepath.Join(pywenHome, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
		return io.NopCloser(nil), fmt.Errorf("logging: create %s: %w", dir, err)
	}

	name := fmt.Sprintf("pywen-%s-%s.log", time.Now().UTC().Format("20060102"), sessionID)
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
		return io.NopCloser(nil), fmt.Errorf("logging: open log file: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: lvl})))
	return file, nil
}

// ParseLevel maps the configured level string to slog.Level, defaulting to
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
