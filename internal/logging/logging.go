// Package logging configures structured JSON logging for the engine. Logs go
// to a size-rotated file so long-running workers do not fill the disk, with
// optional mirroring to stderr for interactive runs.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config controls log output.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// FilePath is the log file location. Empty means the default under the
	// engine home directory.
	FilePath string `yaml:"file_path"`

	// MaxSizeMB is the size at which the log file rotates.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxFiles is how many rotated files to keep.
	MaxFiles int `yaml:"max_files"`

	// WriteToStderr mirrors log output to stderr.
	WriteToStderr bool `yaml:"write_to_stderr"`
}

// DefaultConfig returns production logging defaults.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		MaxSizeMB: 10,
		MaxFiles:  5,
	}
}

// DebugConfig returns a verbose configuration that also mirrors to stderr.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.WriteToStderr = true
	return cfg
}

// Setup initializes the global slog logger. The returned cleanup closes the
// underlying log file and must be called on shutdown.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	path := cfg.FilePath
	if path == "" {
		path = DefaultLogPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}

	rotating, err := NewRotatingWriter(path, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	var out io.Writer = rotating
	if cfg.WriteToStderr {
		out = io.MultiWriter(rotating, os.Stderr)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cleanup := func() { _ = rotating.Close() }
	return logger, cleanup, nil
}

func parseLevel(level string) slog.Level {
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
