package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the log file. Empty disables file logging.
	FilePath string
	// MaxSizeMB is the size in MB before rotation.
	MaxSizeMB int
	// MaxFiles is the number of rotated files to keep.
	MaxFiles int
	// WriteToStderr mirrors log lines to stderr.
	WriteToStderr bool
}

// DefaultConfig returns file logging at info level without stderr output,
// so CLI progress output stays readable.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		FilePath:  DefaultLogPath(),
		MaxSizeMB: 10,
		MaxFiles:  5,
	}
}

// DebugConfig returns configuration for --debug.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.WriteToStderr = true
	return cfg
}

// ServeConfig returns file-only logging for the MCP stdio server.
// Nothing may be written to stdout or stderr while the protocol is running.
func ServeConfig(level string) Config {
	cfg := DefaultConfig()
	if level != "" {
		cfg.Level = level
	}
	cfg.WriteToStderr = false
	return cfg
}

// Setup builds a JSON slog logger for cfg and returns it with a cleanup
// function that flushes and closes the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var writers []io.Writer
	var rotating *RotatingWriter

	if cfg.FilePath != "" {
		w, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		rotating = w
		writers = append(writers, w)
	}
	if cfg.WriteToStderr {
		writers = append(writers, os.Stderr)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})

	cleanup := func() {
		if rotating != nil {
			_ = rotating.Sync()
			_ = rotating.Close()
		}
	}

	return slog.New(handler), cleanup, nil
}

// Install runs Setup and makes the logger the slog default.
func Install(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
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
