// Package log builds the process-wide zerolog logger.
package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog logger writing to stdout. level is one of debug,
// info, warn, error; format is "json" or "console" (the default).
func New(level, format string) *zerolog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if !strings.EqualFold(format, "json") {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(out).Level(parseLevel(level)).With().Timestamp().Logger()
	return &logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
