package cuebridge

import (
	"io"
	"log/slog"
)

// LevelFor maps the CLI -v count onto a slog level
func LevelFor(verbosity int) slog.Level {
	switch {
	case verbosity < 0:
		return slog.LevelWarn
	case verbosity == 0:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// SetupLogger installs a text handler on /w/ as the default logger
func SetupLogger(w io.Writer, verbosity int) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: LevelFor(verbosity),
	}))
	slog.SetDefault(logger)
	return logger
}
