package logger

import (
	"context"
	"log/slog"
	"time"
)

// moduleLogger tags every record with its module name. Fields added with
// With are bound into the handler once.
type moduleLogger struct {
	module  string
	handler slog.Handler
	level   slog.Level
}

func (m *moduleLogger) Module(name string) Logger {
	if m == nil {
		return nil
	}
	return &moduleLogger{module: m.module + "." + name, handler: m.handler, level: m.level}
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.emit(levelTrace, msg, fields) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.emit(slog.LevelDebug, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.emit(slog.LevelInfo, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.emit(slog.LevelWarn, msg, fields) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.emit(slog.LevelError, msg, fields) }

func (m *moduleLogger) With(fields ...Field) Logger {
	if m == nil {
		return nil
	}
	if len(fields) == 0 {
		return m
	}
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = f.attr()
	}
	return &moduleLogger{module: m.module, handler: m.handler.WithAttrs(attrs), level: m.level}
}

func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	if id := requestIDFrom(ctx); id != "" {
		return m.With(String(requestIDKey, id))
	}
	return m
}

// Flush is a no-op; the CentralLogger owns the file.
func (m *moduleLogger) Flush() error {
	return nil
}

func (m *moduleLogger) emit(level slog.Level, msg string, fields []Field) {
	if m == nil || level < m.level {
		return
	}
	ctx := context.Background()
	if !m.handler.Enabled(ctx, level) {
		return
	}

	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.AddAttrs(slog.String(moduleKey, m.module))
	for _, f := range fields {
		r.AddAttrs(f.attr())
	}
	_ = m.handler.Handle(ctx, r)
}
