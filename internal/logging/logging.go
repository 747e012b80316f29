// Package logging builds the default rotating log sink used when no
// logger is injected into the scheduler.
package logging

import (
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the default sink.
type Options struct {
	File    string
	SizeMB  int
	Backups int
	Format  string // "text" or "json"
	Level   string // "debug", "info", "warn", "error"
}

// New builds the default rotating logger. Callers that want to inject a
// custom sink bypass this entirely and pass their own *slog.Logger to
// scheduler.WithLogger, which suppresses the default sink.
func New(opts Options) *slog.Logger {
	if opts.File == "" {
		opts.File = "scheduler.log"
	}
	if opts.SizeMB == 0 {
		opts.SizeMB = 50
	}
	if opts.Backups == 0 {
		opts.Backups = 5
	}

	writer := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.SizeMB,
		MaxBackups: opts.Backups,
		Compress:   true,
	}

	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}

	var handler slog.Handler
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
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
