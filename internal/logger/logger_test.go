package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevels(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		configLevel   string
		logFunc       func(l Logger, msg string)
		shouldContain bool
	}{
		{"debug in debug", "debug", func(l Logger, msg string) { l.Debug(msg) }, true},
		{"debug in info", "info", func(l Logger, msg string) { l.Debug(msg) }, false},
		{"info in info", "info", func(l Logger, msg string) { l.Info(msg) }, true},
		{"warn in info", "info", func(l Logger, msg string) { l.Warn(msg) }, true},
		{"warn in error", "error", func(l Logger, msg string) { l.Warn(msg) }, false},
		{"error in warn", "warn", func(l Logger, msg string) { l.Error(msg) }, true},
		{"trace in debug", "debug", func(l Logger, msg string) { l.Trace(msg) }, false},
		{"trace in trace", "trace", func(l Logger, msg string) { l.Trace(msg) }, true},
		{"sub-module inherits level", "warn", func(l Logger, msg string) { l.Module("sub").Info(msg) }, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			log := NewTestLogger(&buf, "test", tc.configLevel)

			tc.logFunc(log, "level probe")

			if tc.shouldContain {
				assert.Contains(t, buf.String(), "level probe")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestModuleLogger_Fields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewTestLogger(&buf, "classifier", "debug")

	log.With(String("source", "gallery")).Info("Prediction ready",
		String("label", "Healthy"),
		Float32("confidence", 87.123456),
		Duration("latency", 12*time.Millisecond+300*time.Microsecond),
		Int("class", 4),
		Bool("known", true))

	out := buf.String()
	assert.Contains(t, out, "module=classifier")
	assert.Contains(t, out, "source=gallery")
	assert.Contains(t, out, "label=Healthy")
	assert.Contains(t, out, "confidence=87.123")
	assert.Contains(t, out, "latency=12ms")
	assert.Contains(t, out, "class=4")
	assert.Contains(t, out, "known=true")
	assert.NotContains(t, out, "time=")
}

func TestModuleLogger_SubModule(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewTestLogger(&buf, "engine", "info").Module("tflite")
	log.Info("loaded")

	assert.Contains(t, buf.String(), "module=engine.tflite")
}

func TestModuleLogger_WithDoesNotMutateParent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	parent := NewTestLogger(&buf, "worker", "info")
	_ = parent.With(String("child", "yes"))

	parent.Info("parent line")
	assert.NotContains(t, buf.String(), "child=yes")
}

func TestModuleLogger_WithContextRequestID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewTestLogger(&buf, "api", "info")

	log.WithContext(WithRequestID(context.Background(), "abc-123")).Info("request")
	assert.Contains(t, buf.String(), "request_id=abc-123")

	buf.Reset()
	log.WithContext(context.Background()).Info("request")
	assert.NotContains(t, buf.String(), "request_id")
}

func TestModuleLogger_TraceLevelName(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewTestLogger(&buf, "worker", "trace").Trace("pending frame replaced")
	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestErrorField(t *testing.T) {
	t.Parallel()

	f := Error(os.ErrNotExist)
	assert.Equal(t, "error", f.Key)
	assert.Equal(t, os.ErrNotExist.Error(), f.Value)

	assert.Nil(t, Error(nil).Value)
}

func TestNewCentralLogger_NilConfig(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(nil)
	require.Error(t, err)
}

func TestNewCentralLogger_InvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Not/AZone"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timezone")
}

func TestCentralLogger_FileOutputIsJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "cassavanet.log")
	var console bytes.Buffer

	cl, err := newCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: true, Level: "info"},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"camera": "debug"},
	}, &console)
	require.NoError(t, err)

	cl.Module("camera").Debug("frame skipped", String("file", "frame-001.jpg"))
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "frame skipped", rec["msg"])
	assert.Equal(t, "camera", rec["module"])
	assert.Equal(t, "frame-001.jpg", rec["file"])

	// Console level is info, so the debug record only reached the file.
	assert.Empty(t, console.String())
}

func TestApplyConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := &LoggingConfig{}
	applyConfigDefaults(cfg)

	require.NotNil(t, cfg.Console)
	require.NotNil(t, cfg.FileOutput)
	assert.Equal(t, DefaultLogLevel, cfg.DefaultLevel)
	assert.True(t, cfg.Console.Enabled)
	assert.False(t, cfg.FileOutput.Enabled)
	assert.Equal(t, DefaultLogPath, cfg.FileOutput.Path)
	assert.NotNil(t, cfg.ModuleLevels)
}

func TestGlobalFallback(t *testing.T) {
	// Not parallel: touches package-level state.
	SetGlobal(nil)
	t.Cleanup(func() { SetGlobal(nil) })

	cl := Global()
	require.NotNil(t, cl)
	assert.Same(t, cl, Global())
	assert.NotNil(t, cl.Module("main"))
}
