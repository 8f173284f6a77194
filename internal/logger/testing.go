package logger

import (
	"io"
)

// NewTestLogger returns a Logger for module that writes text records to w.
// Tests use it to assert on log output.
func NewTestLogger(w io.Writer, module, level string) Logger {
	cl, err := newCentralLogger(&LoggingConfig{
		DefaultLevel: level,
		Console:      &ConsoleOutput{Enabled: true, Level: level},
		FileOutput:   &FileOutput{Enabled: false},
	}, w)
	if err != nil {
		// Only reachable with an invalid timezone, which is never set here.
		panic(err)
	}
	return cl.Module(module)
}
