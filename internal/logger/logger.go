// Package logger provides a structured, module-aware logging system built on log/slog.
//
// Components receive a Logger scoped to their module name and log with typed
// fields instead of formatted strings:
//
//	log := logger.Global().Module("classifier")
//	log.Info("Prediction ready",
//	    logger.String("label", p.Label),
//	    logger.Float32("confidence", p.Confidence),
//	    logger.Duration("latency", p.Latency))
//
// Console output is human-readable text, file output is JSON.
package logger

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Field is a structured log field.
type Field struct {
	Key   string
	Value any
}

// Logger is the logging interface components depend on.
type Logger interface {
	// Module returns a logger for a sub-module, named "parent.child".
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	With(fields ...Field) Logger
	// WithContext adds the request ID carried by ctx, if any.
	WithContext(ctx context.Context) Logger

	Flush() error
}

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

// Float32 is used for confidences and probabilities.
func Float32(key string, value float32) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Error always uses the key "error". A nil error gives a nil value.
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}

// Duration renders rounded to the millisecond, e.g. "12ms".
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

const (
	errorKey     = "error"
	moduleKey    = "module"
	requestIDKey = "request_id"
)

// attr converts the field to a slog attribute. Floats keep three decimals.
func (f Field) attr() slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case uint64:
		return slog.Uint64(f.Key, v)
	case float32:
		return slog.Float64(f.Key, round3(float64(v)))
	case float64:
		return slog.Float64(f.Key, round3(v))
	case bool:
		return slog.Bool(f.Key, v)
	case time.Duration:
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

type requestIDContextKey struct{}

// WithRequestID returns a context carrying an HTTP request ID for
// Logger.WithContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
