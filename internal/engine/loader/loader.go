// Package loader opens the inference runtime selected in the configuration.
package loader

import (
	"strings"
	"time"

	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/engine"
	"github.com/cassavanet/cassavanet/internal/engine/onnx"
	"github.com/cassavanet/cassavanet/internal/engine/tflite"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/logger"
)

// LoadRecorder receives the outcome of a model load.
type LoadRecorder interface {
	RecordModelLoad(err error)
}

type opener func(conf.ModelSettings) (engine.Runtime, error)

var openers = map[string]opener{
	conf.EngineTFLite: func(s conf.ModelSettings) (engine.Runtime, error) { return tflite.New(s) },
	conf.EngineONNX:   func(s conf.ModelSettings) (engine.Runtime, error) { return onnx.New(s) },
}

// Open loads the model described by settings. There is no retry and no
// fallback to another engine type. rec may be nil.
func Open(settings conf.ModelSettings, rec LoadRecorder) (engine.Runtime, error) {
	return open(settings, rec, openers)
}

func open(settings conf.ModelSettings, rec LoadRecorder, openers map[string]opener) (engine.Runtime, error) {
	start := time.Now()
	log := engine.GetLogger()

	// Validation accepts any case, so the lookup does too.
	settings.Type = strings.ToLower(settings.Type)
	fn, ok := openers[settings.Type]
	if !ok {
		err := errors.Newf("unknown engine type %q", settings.Type).
			Component("engine").
			Category(errors.CategoryConfiguration).
			Build()
		if rec != nil {
			rec.RecordModelLoad(err)
		}
		return nil, err
	}

	rt, err := fn(settings)
	if rec != nil {
		rec.RecordModelLoad(err)
	}
	if err != nil {
		log.Error("Failed to load model",
			logger.String("engine", settings.Type),
			logger.String("path", settings.Path),
			logger.Error(err))
		return nil, err
	}

	log.Debug("Model loaded",
		logger.String("engine", settings.Type),
		logger.Duration("elapsed", time.Since(start)))
	return rt, nil
}
