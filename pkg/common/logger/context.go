package logger

import "context"

// LoggerContext accumulates attributes over the course of an operation so
// later log lines carry everything learned earlier.
type LoggerContext struct {
	*Logger
}

// NewLoggerContext wraps a logger for incremental enrichment.
func NewLoggerContext(l *Logger) *LoggerContext {
	return &LoggerContext{Logger: l}
}

// Add attaches a key/value pair to every subsequent log line.
func (lc *LoggerContext) Add(key string, value any) *LoggerContext {
	lc.Logger = lc.Logger.With(key, value)
	return lc
}

// Done logs the completion of an operation with any final attributes.
func (lc *LoggerContext) Done(ctx context.Context, msg string, args ...any) {
	lc.Logger.write(ctx, LevelInfo, 3, msg, args...)
}
