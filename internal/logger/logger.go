package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New constructs a text logger with the desired log level.
// When file is set, records are also appended to a size-rotated log file;
// the returned closer releases it.
func New(service, file string) (*slog.Logger, io.Closer) {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if file != "" {
		rotating := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     90,
		}
		out = io.MultiWriter(os.Stdout, rotating)
		closer = rotating
	}

	h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service), closer
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
