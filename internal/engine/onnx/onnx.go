// Package onnx runs the classifier model on ONNX Runtime.
package onnx

import (
	"fmt"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/engine"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/logger"
)

var envMu sync.Mutex

// initEnvironment loads the shared library once per process. The
// environment is left in place when engines close so a model can be reloaded.
func initEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.New(fmt.Errorf("failed to initialize ONNX environment: %w", err)).
			Component("engine").
			Category(errors.CategoryModelInit).
			Context("library_path", libraryPath).
			Build()
	}
	return nil
}

// Engine wraps an ONNX Runtime session with preallocated input and output
// tensors. It is not safe for concurrent use.
type Engine struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	info    engine.Info
}

// New opens the model at settings.Path. The input and output tensors are
// located by the names in settings.ONNX.
func New(settings conf.ModelSettings) (*Engine, error) {
	start := time.Now()
	log := engine.GetLogger().Module("onnx")

	// Fail on a missing artifact before touching the shared library.
	mf, err := engine.OpenModelFile(settings.Path)
	if err != nil {
		return nil, err
	}
	if err := mf.Release(); err != nil {
		log.Debug("Failed to release model file", logger.Error(err))
	}

	if err := initEnvironment(settings.ONNX.LibraryPath); err != nil {
		return nil, err
	}

	inShape, outShape, err := ioShapes(settings)
	if err != nil {
		return nil, err
	}
	if err := engine.ValidateInputShape(inShape, settings.InputSize); err != nil {
		return nil, err
	}
	classes, err := engine.ValidateOutputShape(outShape)
	if err != nil {
		return nil, err
	}

	e := &Engine{}
	e.input, err = ort.NewEmptyTensor[float32](ort.NewShape(int64s(engine.InputShape(settings.InputSize))...))
	if err != nil {
		return nil, initError(settings, "failed to create input tensor", err)
	}
	e.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(classes)))
	if err != nil {
		e.release()
		return nil, initError(settings, "failed to create output tensor", err)
	}

	threads := engine.ThreadCount(settings.Threads)
	opts, err := ort.NewSessionOptions()
	if err != nil {
		e.release()
		return nil, initError(settings, "failed to create session options", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(threads); err != nil {
		e.release()
		return nil, initError(settings, "failed to set thread count", err)
	}

	e.session, err = ort.NewAdvancedSession(settings.Path,
		[]string{settings.ONNX.InputName}, []string{settings.ONNX.OutputName},
		[]ort.Value{e.input}, []ort.Value{e.output}, opts)
	if err != nil {
		e.release()
		return nil, initError(settings, "failed to create ONNX session", err)
	}

	e.info = engine.Info{
		Type:       conf.EngineONNX,
		Path:       settings.Path,
		InputShape: inShape,
		Classes:    classes,
		Threads:    threads,
	}

	log.Info("ONNX model initialized",
		logger.String("model", settings.Path),
		logger.String("runtime", ort.GetVersion()),
		logger.Int("threads", threads),
		logger.Int("classes", classes),
		logger.Duration("load_time", time.Since(start)))

	return e, nil
}

// ioShapes reads the declared shapes of the configured input and output.
func ioShapes(settings conf.ModelSettings) (in, out []int, err error) {
	inputs, outputs, err := ort.GetInputOutputInfo(settings.Path)
	if err != nil {
		return nil, nil, initError(settings, "failed to read model inputs and outputs", err)
	}
	for _, i := range inputs {
		if i.Name == settings.ONNX.InputName {
			in = ints(i.Dimensions)
		}
	}
	for _, o := range outputs {
		if o.Name == settings.ONNX.OutputName {
			out = ints(o.Dimensions)
		}
	}
	if in == nil || out == nil {
		return nil, nil, errors.Newf("model has no input %q or output %q", settings.ONNX.InputName, settings.ONNX.OutputName).
			Component("engine").
			Category(errors.CategoryModelInit).
			ModelContext(settings.Path, conf.EngineONNX).
			Build()
	}
	return in, out, nil
}

// Info describes the loaded model.
func (e *Engine) Info() engine.Info {
	return e.info
}

// Invoke runs the session on input. The returned slice is reused by the next call.
func (e *Engine) Invoke(input []float32) ([]float32, error) {
	if e.session == nil {
		return nil, errors.Newf("engine is closed").
			Component("engine").
			Category(errors.CategoryModelInvoke).
			Build()
	}
	data := e.input.GetData()
	if err := engine.CheckInput(input, len(data)); err != nil {
		return nil, err
	}
	copy(data, input)

	if err := e.session.Run(); err != nil {
		return nil, errors.New(fmt.Errorf("inference failed: %w", err)).
			Component("engine").
			Category(errors.CategoryModelInvoke).
			ModelContext(e.info.Path, conf.EngineONNX).
			Build()
	}
	return e.output.GetData(), nil
}

// Close destroys the session and its tensors.
func (e *Engine) Close() error {
	return e.release()
}

func (e *Engine) release() error {
	var errs []error
	if e.session != nil {
		errs = append(errs, e.session.Destroy())
		e.session = nil
	}
	if e.input != nil {
		errs = append(errs, e.input.Destroy())
		e.input = nil
	}
	if e.output != nil {
		errs = append(errs, e.output.Destroy())
		e.output = nil
	}
	return errors.Join(errs...)
}

func initError(settings conf.ModelSettings, msg string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", msg, err)).
		Component("engine").
		Category(errors.CategoryModelInit).
		ModelContext(settings.Path, conf.EngineONNX).
		Build()
}

func ints(shape ort.Shape) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		out[i] = int(d)
	}
	return out
}

func int64s(shape []int) []int64 {
	out := make([]int64, len(shape))
	for i, d := range shape {
		out[i] = int64(d)
	}
	return out
}
