// Package classifier runs the cassava disease classification pipeline:
// preprocess, a single timed engine invocation, argmax and label lookup.
package classifier

import (
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/labels"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/preprocess"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the classifier module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("classifier")
	})
	return serviceLogger
}

// Engine runs the model on one preprocessed input and returns the class
// probability vector. Implementations need not be safe for concurrent use.
type Engine interface {
	Invoke(input []float32) ([]float32, error)
	Close() error
}

// Recorder receives per-call measurements, typically Prometheus collectors.
type Recorder interface {
	RecordInference(latency time.Duration, err error)
	RecordPrediction(class int, label string, confidence float32)
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithInputSize sets the square preprocessing size. Default 224.
func WithInputSize(size int) Option {
	return func(c *Classifier) { c.inputSize = size }
}

// WithClock replaces the wall clock used to time inference.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Classifier) { c.recorder = r }
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Classifier) { c.log = l }
}

// WithTopK sets how many ranked scores each Prediction carries. Default 3.
func WithTopK(k int) Option {
	return func(c *Classifier) { c.topK = k }
}

// Classifier owns an engine and a label table. All engine calls are
// serialized, so one Classifier may be shared by several front ends.
type Classifier struct {
	engine    Engine
	table     *labels.Table
	inputSize int
	topK      int
	now       func() time.Time
	recorder  Recorder
	log       logger.Logger

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// New builds a Classifier around an already constructed engine.
func New(engine Engine, table *labels.Table, opts ...Option) (*Classifier, error) {
	if engine == nil {
		return nil, errors.Newf("classifier: engine is nil").
			Component("classifier").
			Category(errors.CategoryModelInit).
			Build()
	}
	if table == nil {
		return nil, errors.Newf("classifier: label table is nil").
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Build()
	}

	c := &Classifier{
		engine:    engine,
		table:     table,
		inputSize: preprocess.DefaultSize,
		topK:      3,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = GetLogger()
	}
	if c.inputSize <= 0 {
		return nil, errors.Newf("classifier: invalid input size %d", c.inputSize).
			Component("classifier").
			Category(errors.CategoryValidation).
			Build()
	}

	return c, nil
}

// Labels returns the classifier's label table.
func (c *Classifier) Labels() *labels.Table {
	return c.table
}

// InputSize returns the square preprocessing size.
func (c *Classifier) InputSize() int {
	return c.inputSize
}

// Classify preprocesses img and classifies it. Preprocessing runs outside
// the engine lock and is not part of the reported latency.
func (c *Classifier) Classify(img image.Image) (Prediction, error) {
	tensor, err := preprocess.ToTensor(img, c.inputSize)
	if err != nil {
		return Prediction{}, err
	}
	return c.ClassifyTensor(tensor)
}

// ClassifyTensor runs the engine once on t and turns the output into a
// Prediction.
func (c *Classifier) ClassifyTensor(t *preprocess.Tensor) (Prediction, error) {
	if t == nil || len(t.Data) == 0 {
		return Prediction{}, errors.New(preprocess.ErrInvalidImage).
			Component("classifier").
			Category(errors.CategoryProcessing).
			Build()
	}

	probs, latency, err := c.invoke(t.Data)
	if c.recorder != nil {
		c.recorder.RecordInference(latency, err)
	}
	if err != nil {
		c.log.Error("Inference failed", logger.Error(err), logger.Duration("latency", latency))
		return Prediction{}, errors.New(fmt.Errorf("classifier: inference failed: %w", err)).
			Component("classifier").
			Category(errors.CategoryModelInvoke).
			Timing("classify", latency).
			Build()
	}

	idx, err := Argmax(probs)
	if err != nil {
		return Prediction{}, err
	}

	label, known := c.table.Lookup(idx)
	p := Prediction{
		Class:         idx,
		Label:         label,
		Known:         known,
		Confidence:    clampConfidence(100 * probs[idx]),
		Latency:       latency,
		Probabilities: probs,
		Top:           rank(probs, c.table, c.topK),
	}

	if c.recorder != nil {
		c.recorder.RecordPrediction(p.Class, p.Label, p.Confidence)
	}
	if !known {
		c.log.Warn("Predicted class has no label",
			logger.Int("class", idx),
			logger.Int("labels", c.table.Len()))
	}
	c.log.Debug("Prediction ready",
		logger.Int("class", p.Class),
		logger.String("label", p.Label),
		logger.Float32("confidence", p.Confidence),
		logger.Duration("latency", p.Latency))

	return p, nil
}

// invoke times exactly one engine call under the engine lock.
func (c *Classifier) invoke(input []float32) ([]float32, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now()
	out, err := c.engine.Invoke(input)
	end := c.now()

	latency := max(end.Sub(start), 0)
	if err != nil {
		return nil, latency, err
	}
	// Engines may reuse their output buffer between calls.
	return append([]float32(nil), out...), latency, nil
}

// Close releases the engine. Only the first call has an effect.
func (c *Classifier) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closeErr = c.engine.Close()
	})
	return c.closeErr
}

// Argmax returns the index of the largest value. Ties resolve to the lowest
// index since only a strictly greater value replaces the current best.
func Argmax(values []float32) (int, error) {
	if len(values) == 0 {
		return 0, errors.Newf("classifier: engine returned an empty probability vector").
			Component("classifier").
			Category(errors.CategoryProcessing).
			Build()
	}

	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best, nil
}

// clampConfidence bounds a percentage to [0, 100]; NaN becomes 0.
func clampConfidence(v float32) float32 {
	switch {
	case math.IsNaN(float64(v)), v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
