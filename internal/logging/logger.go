package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how the daemon logs.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string

	// FilePath, if set, routes log output through a rotating file
	// instead of stderr.
	FilePath   string
	MaxSizeMB  int64
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// New builds the daemon's root logger. When Config.FilePath is set, the
// returned io.Closer must be closed on shutdown to flush and release the
// underlying file.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	var writer io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    int(cfg.MaxSizeMB),
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		writer = rotator
		closer = rotator
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	return slog.New(handler), closer, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
