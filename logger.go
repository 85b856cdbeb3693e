package mortree

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with mortree-specific helpers. It provides
// structured logging with consistent field names across tree operations.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler. If handler is nil,
// a default text handler to stderr is used.
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
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // unreachable level
	})
	return &Logger{Logger: slog.New(handler)}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{Logger: l.Logger.With("dimension", dim)}
}

// LogBuild logs a bulk build.
func (l *Logger) LogBuild(entityCount, nodeCount, maxDepth int, parallel bool) {
	l.Debug("tree built",
		"entities", entityCount,
		"nodes", nodeCount,
		"max_depth", maxDepth,
		"parallel", parallel,
	)
}

// LogInsert logs an insert outcome.
func (l *Logger) LogInsert(id EntityID, ok bool) {
	if !ok {
		l.Warn("insert rejected", "id", id)
		return
	}
	l.Debug("insert completed", "id", id)
}

// LogErase logs an erase outcome.
func (l *Logger) LogErase(id EntityID, ok bool) {
	if !ok {
		l.Debug("erase missed", "id", id)
		return
	}
	l.Debug("erase completed", "id", id)
}

// LogSearch logs a query with its result size.
func (l *Logger) LogSearch(kind string, resultCount int) {
	l.Debug("search completed", "kind", kind, "results", resultCount)
}
