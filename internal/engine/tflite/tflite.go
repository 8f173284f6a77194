// Package tflite runs the classifier model on the TensorFlow Lite C runtime.
package tflite

import (
	"fmt"
	"runtime"
	"time"

	"github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/engine"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/logger"
)

// Engine wraps a TensorFlow Lite interpreter with one float32 NHWC input and
// one class probability output. It is not safe for concurrent use.
type Engine struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	// delegate must outlive the interpreter that uses it.
	delegate delegates.Delegater

	inputLen int
	output   []float32
	info     engine.Info
}

// New loads the model at settings.Path and allocates its tensors.
func New(settings conf.ModelSettings) (*Engine, error) {
	start := time.Now()
	log := engine.GetLogger().Module("tflite")

	mf, err := engine.OpenModelFile(settings.Path)
	if err != nil {
		return nil, err
	}
	// The C runtime keeps its own copy of the flatbuffer.
	defer func() {
		if err := mf.Release(); err != nil {
			log.Warn("Failed to release model file", logger.String("path", settings.Path), logger.Error(err))
		}
	}()

	model := tflite.NewModel(mf.Data)
	if model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model").
			Component("engine").
			Category(errors.CategoryModelInit).
			ModelContext(settings.Path, conf.EngineTFLite).
			Context("model_size_kb", len(mf.Data)/1024).
			Timing("model-init", time.Since(start)).
			Build()
	}

	threads := engine.ThreadCount(settings.Threads)
	options := tflite.NewInterpreterOptions()

	e := &Engine{model: model, options: options}

	delegate := ""
	if settings.UseXNNPACK {
		d := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // G115: bounded by CPU count
		if d == nil {
			log.Warn("Failed to create XNNPACK delegate, falling back to default CPU kernels")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(d)
			options.SetNumThread(1)
			e.delegate = d
			delegate = "xnnpack"
		}
	} else {
		options.SetNumThread(threads)
	}

	options.SetErrorReporter(func(msg string, _ any) {
		log.Error("TFLite error", logger.String("message", msg))
	}, nil)

	e.interpreter = tflite.NewInterpreter(model, options)
	if e.interpreter == nil {
		e.release()
		return nil, errors.Newf("cannot create interpreter").
			Component("engine").
			Category(errors.CategoryModelInit).
			ModelContext(settings.Path, conf.EngineTFLite).
			Build()
	}
	if status := e.interpreter.AllocateTensors(); status != tflite.OK {
		e.release()
		return nil, errors.Newf("tensor allocation failed").
			Component("engine").
			Category(errors.CategoryModelInit).
			ModelContext(settings.Path, conf.EngineTFLite).
			Build()
	}

	input := e.interpreter.GetInputTensor(0)
	output := e.interpreter.GetOutputTensor(0)
	if input == nil || output == nil {
		e.release()
		return nil, errors.Newf("model has no input or output tensor").
			Component("engine").
			Category(errors.CategoryModelInit).
			ModelContext(settings.Path, conf.EngineTFLite).
			Build()
	}
	if input.Type() != tflite.Float32 || output.Type() != tflite.Float32 {
		e.release()
		return nil, errors.Newf("model tensors must be float32, got input %v output %v", input.Type(), output.Type()).
			Component("engine").
			Category(errors.CategoryModelInit).
			ModelContext(settings.Path, conf.EngineTFLite).
			Build()
	}

	inShape := dims(input)
	if err := engine.ValidateInputShape(inShape, settings.InputSize); err != nil {
		e.release()
		return nil, err
	}
	classes, err := engine.ValidateOutputShape(dims(output))
	if err != nil {
		e.release()
		return nil, err
	}

	e.inputLen = settings.InputSize * settings.InputSize * 3
	e.output = make([]float32, classes)
	e.info = engine.Info{
		Type:       conf.EngineTFLite,
		Path:       settings.Path,
		InputShape: inShape,
		Classes:    classes,
		Threads:    threads,
		Delegate:   delegate,
	}

	// Drop the Go-side flatbuffer copy now that the interpreter owns the model.
	runtime.GC()

	log.Info("TFLite model initialized",
		logger.String("model", settings.Path),
		logger.Int("threads", threads),
		logger.Int("classes", classes),
		logger.Bool("xnnpack", delegate != ""),
		logger.Bool("mapped", mf.Mapped),
		logger.Duration("load_time", time.Since(start)))

	return e, nil
}

// Info describes the loaded model.
func (e *Engine) Info() engine.Info {
	return e.info
}

// Invoke copies input into the input tensor, runs the interpreter and
// returns the output vector. The returned slice is reused by the next call.
func (e *Engine) Invoke(input []float32) ([]float32, error) {
	if e.interpreter == nil {
		return nil, errors.Newf("engine is closed").
			Component("engine").
			Category(errors.CategoryModelInvoke).
			Build()
	}
	if err := engine.CheckInput(input, e.inputLen); err != nil {
		return nil, err
	}

	copy(e.interpreter.GetInputTensor(0).Float32s(), input)

	if status := e.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.New(fmt.Errorf("tensor invoke failed: %v", status)).
			Component("engine").
			Category(errors.CategoryModelInvoke).
			ModelContext(e.info.Path, conf.EngineTFLite).
			Build()
	}

	copy(e.output, e.interpreter.GetOutputTensor(0).Float32s())
	return e.output, nil
}

// Close deletes the interpreter, its options, the XNNPACK delegate and the
// model. It is safe to call more than once.
func (e *Engine) Close() error {
	e.release()
	return nil
}

func (e *Engine) release() {
	if e.interpreter != nil {
		e.interpreter.Delete()
		e.interpreter = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.delegate != nil {
		e.delegate.Delete()
		e.delegate = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
}

func dims(t *tflite.Tensor) []int {
	shape := make([]int, t.NumDims())
	for i := range shape {
		shape[i] = t.Dim(i)
	}
	return shape
}
