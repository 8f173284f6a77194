package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "time/tzdata"
)

// levelTrace sits below slog's debug level (-4).
const levelTrace = slog.Level(-8)

var (
	global   *CentralLogger
	globalMu sync.Mutex
)

// SetGlobal installs cl as the process logger. Called once at startup after
// the configuration is loaded.
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = cl
}

// Global returns the process logger, or an info level console logger when
// none has been installed yet.
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global == nil {
		global = &CentralLogger{
			defaultLevel: slog.LevelInfo,
			handler:      newTextHandler(os.Stdout, slog.LevelInfo),
		}
	}
	return global
}

// CentralLogger owns the output handlers and hands out module loggers.
type CentralLogger struct {
	handler      slog.Handler
	defaultLevel slog.Level
	moduleLevels map[string]slog.Level

	mu   sync.Mutex
	file *os.File
}

// NewCentralLogger logs text to stdout and, when enabled, JSON to the
// configured file.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	return newCentralLogger(cfg, os.Stdout)
}

func newCentralLogger(cfg *LoggingConfig, console io.Writer) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{
		defaultLevel: parseLevel(cfg.DefaultLevel),
		moduleLevels: make(map[string]slog.Level, len(cfg.ModuleLevels)),
	}
	for module, level := range cfg.ModuleLevels {
		cl.moduleLevels[module] = parseLevel(level)
	}

	var outputs []slog.Handler
	if cfg.Console.Enabled {
		outputs = append(outputs, newTextHandler(console, parseLevel(cfg.Console.Level)))
	}
	if cfg.FileOutput.Enabled {
		f, err := openLogFile(cfg.FileOutput.Path)
		if err != nil {
			return nil, err
		}
		cl.file = f
		outputs = append(outputs, newJSONHandler(f, parseLevel(cfg.FileOutput.Level), tz))
	}

	switch len(outputs) {
	case 0:
		cl.handler = newTextHandler(console, cl.defaultLevel)
	case 1:
		cl.handler = outputs[0]
	default:
		cl.handler = newMultiWriterHandler(outputs...)
	}
	return cl, nil
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", name, err)
	}
	return tz, nil
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// Module returns a logger for name at its configured level.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	level, ok := cl.moduleLevels[name]
	if !ok {
		level = cl.defaultLevel
	}
	return &moduleLogger{module: name, handler: cl.handler, level: level}
}

// Flush syncs the log file, if any.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file == nil {
		return nil
	}
	return cl.file.Sync()
}

// Close syncs and closes the log file. Console output is unaffected.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file == nil {
		return nil
	}
	err := errors.Join(cl.file.Sync(), cl.file.Close())
	cl.file = nil
	return err
}

// parseLevel maps a config level name to a slog level; unknown names are info.
func parseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newTextHandler writes "level=INFO msg=... key=value" lines without a
// timestamp; journald and docker add their own.
func newTextHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			if a.Key == slog.LevelKey && a.Value.Any() == levelTrace {
				return slog.String(slog.LevelKey, "TRACE")
			}
			return a
		},
	})
}

// newJSONHandler writes JSON records with RFC3339 timestamps in tz.
func newJSONHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().In(tz).Format(time.RFC3339))
			}
			return a
		},
	})
}
