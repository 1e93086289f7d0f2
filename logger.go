package distgraph

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with distgraph-specific context.
// This provides structured logging with consistent field names.
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
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithRank adds the process's cluster rank to the logger.
func (l *Logger) WithRank(rank int) *Logger {
	return &Logger{
		Logger: l.Logger.With("rank", rank),
	}
}

// WithPartition adds a partition ID to the logger.
func (l *Logger) WithPartition(part int) *Logger {
	return &Logger{
		Logger: l.Logger.With("partition", part),
	}
}

// WithGraph adds the graph name to the logger.
func (l *Logger) WithGraph(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("graph", name),
	}
}

// WithTensor adds a tensor name to the logger.
func (l *Logger) WithTensor(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("tensor", name),
	}
}

// LogPull logs a feature pull.
func (l *Logger) LogPull(ctx context.Context, name string, rows int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "pull failed",
			"tensor", name,
			"rows", rows,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "pull completed",
			"tensor", name,
			"rows", rows,
		)
	}
}

// LogPush logs a feature push.
func (l *Logger) LogPush(ctx context.Context, name string, rows int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "push failed",
			"tensor", name,
			"rows", rows,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "push completed",
			"tensor", name,
			"rows", rows,
		)
	}
}

// LogInit logs a tensor initialization.
func (l *Logger) LogInit(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "tensor init failed",
			"tensor", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "tensor initialized",
			"tensor", name,
		)
	}
}

// LogSample logs a neighbor sampling query.
func (l *Logger) LogSample(ctx context.Context, seeds, edges int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "neighbor sampling failed",
			"seeds", seeds,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "neighbor sampling completed",
			"seeds", seeds,
			"edges", edges,
		)
	}
}
