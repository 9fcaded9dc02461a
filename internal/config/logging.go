package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the process logger: human-readable text on stderr,
// JSON appended to logFile for log shippers. Every record carries a
// service attribute so fused logs from the server and the CLI stay
// distinguishable. The returned cleanup closes the file.
func SetupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		// Degrade to stderr only rather than failing startup.
		slog.Error("cannot open log file, logging to stderr only", "error", err, "file", logFile)
		logger := slog.New(textHandler(os.Stderr, level)).With("service", "datafuse")
		return logger, func() error { return nil }
	}
	return newDualLogger(os.Stderr, file, level), file.Close
}

// SetupLoggerWithWriters builds the same dual-sink logger over arbitrary
// writers, used by tests.
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	return newDualLogger(stderr, file, level)
}

func newDualLogger(stderr, file io.Writer, level slog.Level) *slog.Logger {
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	logger := slog.New(slogmulti.Fanout(textHandler(stderr, level), fileHandler))
	return logger.With("service", "datafuse")
}

func textHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}
