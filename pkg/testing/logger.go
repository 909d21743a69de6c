package gstest

import (
	"log/slog"
	"os"
)

// NewLogger returns a logger for tests. Logs are suppressed unless
// GASTITCH_TEST_LOG is set: "1" enables info, "2" enables debug.
func NewLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("GASTITCH_TEST_LOG") {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
