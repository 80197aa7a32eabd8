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
	// FilePath is the path to the log file. Empty means no file logging.
	FilePath string
	// MaxSizeMB is the maximum size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr also writes to stderr.
	WriteToStderr bool
}

// DefaultConfig returns stderr-only logging at info level.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig returns file plus stderr logging at debug level.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.FilePath = DefaultLogPath()
	return cfg
}

// StdioConfig returns file-only logging for the MCP stdio transport.
func StdioConfig(level string) Config {
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.FilePath = DefaultLogPath()
	cfg.WriteToStderr = false
	return cfg
}

// Setup builds a logger from cfg and returns it with a cleanup function
// that flushes and closes the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	if cfg.FilePath == "" {
		var out io.Writer = io.Discard
		if cfg.WriteToStderr {
			out = os.Stderr
		}
		return slog.New(slog.NewTextHandler(out, opts)), func() {}, nil
	}

	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = writer
	if cfg.WriteToStderr {
		out = io.MultiWriter(writer, os.Stderr)
	}

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}
	return slog.New(slog.NewJSONHandler(out, opts)), cleanup, nil
}

// SetupDefault builds a logger from cfg and installs it as slog's default.
func SetupDefault(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) slog.Level {
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
