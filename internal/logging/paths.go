package logging

import (
	"os"
	"path/filepath"
)

// EnvLogDir overrides the log directory.
const EnvLogDir = "SHELF_LOG_DIR"

// DefaultLogDir returns the log directory (~/.shelf/logs/), honoring
// SHELF_LOG_DIR. Falls back to the temp directory without a home directory.
func DefaultLogDir() string {
	if dir := os.Getenv(EnvLogDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".shelf", "logs")
	}
	return filepath.Join(home, ".shelf", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "shelf.log")
}
