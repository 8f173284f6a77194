// Package camera is the live feed front end: frames from a Source are rate
// limited, rotated and classified on a keep-latest worker.
package camera

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/cassavanet/cassavanet/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the camera module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("camera")
	})
	return serviceLogger
}

// Frame is one decoded camera image.
type Frame struct {
	ID       string
	Image    image.Image
	Captured time.Time
}

// Source produces frames. Run sends frames on out until ctx is done or the
// source fails; it must not close out.
type Source interface {
	Run(ctx context.Context, out chan<- Frame) error
}
