package insight

import (
	"context"
	"log/slog"
)

// LogEmitter mirrors events into structured logs. Failures log at warn
// level, everything else at debug.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates an emitter writing to logger, or to the default
// logger when nil.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(e Event) {
	level := slog.LevelDebug
	if e.Kind == KindFailed {
		level = slog.LevelWarn
	}
	if !l.logger.Enabled(context.Background(), level) {
		return
	}

	attrs := []slog.Attr{
		slog.Int64("seq", e.Seq),
		slog.String("kind", string(e.Kind)),
	}
	if e.Flow != "" {
		attrs = append(attrs, slog.String("flow", e.Flow))
	}
	if e.Schema != "" {
		attrs = append(attrs, slog.String("schema", e.Schema))
	}
	if e.Message != "" {
		attrs = append(attrs, slog.String("message", e.Message))
	}
	if reason := e.Attr(AttrReason); reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	l.logger.LogAttrs(context.Background(), level, "event", attrs...)
}
