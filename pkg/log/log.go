// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxFileSizeMB  = 100
	maxFileBackups = 5
	maxFileAgeDays = 14
)

// Setup installs the default logger. When file is set, output goes to both stderr and a
// rotating log file.
func Setup(logLevel string, file string) error {
	var output io.Writer = os.Stderr

	if file != "" {
		err := os.MkdirAll(filepath.Dir(file), 0o755)
		if err != nil {
			return err
		}

		output = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxFileSizeMB,
			MaxBackups: maxFileBackups,
			MaxAge:     maxFileAgeDays,
			Compress:   true,
			LocalTime:  true,
		})
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: ParseLevel(logLevel),
	})))

	return nil
}

func ParseLevel(logLevel string) slog.Level {
	switch logLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
