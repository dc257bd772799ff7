package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger writing to stdout. Level defaults to info;
// set RETRACE_LOG_LEVEL=debug for verbose capture logging.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("RETRACE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
