package smartlsm

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with store-specific helpers. This provides
// structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// LogFlush logs a memtable flush.
func (l *Logger) LogFlush(entries int, err error) {
	if err != nil {
		l.Error("flush failed", "entries", entries, "error", err)
	} else {
		l.Debug("flush completed", "entries", entries)
	}
}

// LogSearch logs a KNN search.
func (l *Logger) LogSearch(k, found int, err error) {
	if err != nil {
		l.Error("search failed", "k", k, "error", err)
	} else {
		l.Debug("search completed", "k", k, "results", found)
	}
}

// LogSnapshot logs an index save.
func (l *Logger) LogSnapshot(path string, parallel bool, err error) {
	if err != nil {
		l.Error("index save failed", "path", path, "parallel", parallel, "error", err)
	} else {
		l.Info("index saved", "path", path, "parallel", parallel)
	}
}

// LogRecovery logs a recovery of persisted state.
func (l *Logger) LogRecovery(embeddings int, trailing int64, err error) {
	if err != nil {
		l.Error("embedding recovery failed", "error", err)
		return
	}
	if trailing > 0 {
		l.Warn("embedding log has a truncated tail", "trailing_bytes", trailing)
	}
	l.Info("embedding recovery completed", "embeddings", embeddings)
}
