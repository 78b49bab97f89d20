package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the directory for engine log files, ~/.odras/logs.
// Falls back to a temp directory when the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "odras", "logs")
	}
	return filepath.Join(home, ".odras", "logs")
}

// DefaultLogPath returns the default engine log file location.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "engine.log")
}
