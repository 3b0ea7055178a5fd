// Package logging configures the process-wide structured logger, matching
// the JSON-handler-over-slog convention used throughout the teacher service
// (cmd/server/main.go), with rotation for the optional file sink.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger.
type Options struct {
	Debug   bool
	LogFile string // empty disables file output; stdout is always written to
}

// New builds a slog.Logger writing JSON lines to stdout and, if LogFile is
// set, to a size-rotated file (10MB/3 backups/28 days, teacher defaults).
func New(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	if opts.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, rotator)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ForProject returns a logger carrying the bracketed project-code context
// that original_source's Logger.log prefixed onto every message
// ("[code][Component] ..."), rendered as structured fields instead.
func ForProject(logger *slog.Logger, code string) *slog.Logger {
	return logger.With(slog.String("project_code", code))
}

// ForComponent narrows further to a named pipeline component.
func ForComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}
