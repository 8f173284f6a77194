// Package engine holds what the model runtimes share: model file access,
// input shape checks and thread sizing.
package engine

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/cassavanet/cassavanet/internal/cpuspec"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the engine module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("engine")
	})
	return serviceLogger
}

// Runtime is a loaded model. Implementations are not safe for concurrent
// Invoke calls.
type Runtime interface {
	Invoke(input []float32) ([]float32, error)
	Close() error
	Info() Info
}

// Info describes a loaded model.
type Info struct {
	Type       string `json:"type"`
	Path       string `json:"path"`
	InputShape []int  `json:"input_shape"`
	Classes    int    `json:"classes"`
	Threads    int    `json:"threads"`
	Delegate   string `json:"delegate,omitempty"`
}

// InputShape is the NHWC shape a square RGB model of the given edge expects.
func InputShape(size int) []int {
	return []int{1, size, size, 3}
}

// ValidateInputShape checks that a model input is [1, size, size, 3].
// A dynamic batch dimension (-1 or 0) is accepted.
func ValidateInputShape(shape []int, size int) error {
	want := InputShape(size)
	ok := len(shape) == len(want)
	if ok {
		for i := range want {
			if i == 0 && shape[0] <= 0 {
				continue
			}
			if shape[i] != want[i] {
				ok = false
				break
			}
		}
	}
	if !ok {
		return errors.Newf("model input shape %v does not match expected %v", shape, want).
			Component("engine").
			Category(errors.CategoryModelInit).
			Build()
	}
	return nil
}

// ValidateOutputShape checks that a model output is [1, N] or [N] with
// N > 0 and returns N.
func ValidateOutputShape(shape []int) (int, error) {
	var n int
	switch {
	case len(shape) == 1:
		n = shape[0]
	case len(shape) == 2 && shape[0] <= 1:
		n = shape[1]
	}
	if n <= 0 {
		return 0, errors.Newf("model output shape %v is not a class vector", shape).
			Component("engine").
			Category(errors.CategoryModelInit).
			Build()
	}
	return n, nil
}

// ThreadCount resolves the configured thread count. Zero means automatic,
// sized from the CPU; larger values are capped at the CPU count.
func ThreadCount(configured int) int {
	cpus := runtime.NumCPU()
	if configured <= 0 {
		return cpuspec.GetCPUSpec().GetOptimalThreadCount()
	}
	return min(configured, cpus)
}

// CheckInput verifies that an input buffer has exactly the expected length.
func CheckInput(input []float32, want int) error {
	if len(input) != want {
		return errors.New(fmt.Errorf("input has %d values, model expects %d", len(input), want)).
			Component("engine").
			Category(errors.CategoryModelInvoke).
			Build()
	}
	return nil
}
