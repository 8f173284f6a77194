package classifier

import (
	"bytes"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/labels"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/preprocess"
)

// fakeEngine returns a fixed output and records its inputs.
type fakeEngine struct {
	out       []float32
	err       error
	delay     time.Duration
	inputLen  atomic.Int64
	calls     atomic.Int64
	closes    atomic.Int64
	inFlight  atomic.Int64
	maxFlight atomic.Int64
}

func (f *fakeEngine) Invoke(input []float32) ([]float32, error) {
	f.calls.Add(1)
	f.inputLen.Store(int64(len(input)))

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxFlight.Load()
		if n <= cur || f.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.out, f.err
}

func (f *fakeEngine) Close() error {
	f.closes.Add(1)
	return nil
}

// stepClock returns successive times from a fixed list.
type stepClock struct {
	mu    sync.Mutex
	times []time.Time
	calls int
}

func (s *stepClock) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.times[s.calls%len(s.times)]
	s.calls++
	return t
}

// fakeRecorder captures recorder calls.
type fakeRecorder struct {
	mu          sync.Mutex
	inferences  []error
	predictions []int
}

func (r *fakeRecorder) RecordInference(_ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inferences = append(r.inferences, err)
}

func (r *fakeRecorder) RecordPrediction(class int, _ string, _ float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predictions = append(r.predictions, class)
}

func leafImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 320, 240))
	for y := range 240 {
		for x := range 320 {
			img.Set(x, y, color.NRGBA{R: 40, G: uint8(100 + x%100), B: 30, A: 255})
		}
	}
	return img
}

func newTestClassifier(t *testing.T, eng Engine, opts ...Option) *Classifier {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewTestLogger(&bytes.Buffer{}, "classifier", "debug"))}, opts...)
	c, err := New(eng, labels.Default(), opts...)
	require.NoError(t, err)
	return c
}

func TestArgmax(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []float32
		want   int
	}{
		{"single", []float32{0.3}, 0},
		{"clear max", []float32{0.1, 0.7, 0.2}, 1},
		{"max last", []float32{0.1, 0.2, 0.7}, 2},
		{"tie first wins", []float32{0.5, 0.5}, 0},
		{"tie later pair", []float32{0.2, 0.2, 0.6, 0.6}, 2},
		{"all equal", []float32{0.2, 0.2, 0.2, 0.2, 0.2}, 0},
		{"negatives", []float32{-3, -1, -2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Argmax(tt.values)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Argmax(nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryProcessing))
}

func TestClassify_KnownLabel(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{out: []float32{0.05, 0.10, 0.05, 0.70, 0.10}}
	rec := &fakeRecorder{}
	c := newTestClassifier(t, eng, WithRecorder(rec))

	p, err := c.Classify(leafImage())
	require.NoError(t, err)

	assert.Equal(t, 3, p.Class)
	assert.True(t, p.Known)
	assert.Equal(t, "Cassava Mosaic Disease (CMD)", p.Label)
	assert.InDelta(t, 70.0, p.Confidence, 1e-4)
	assert.Equal(t, []float32{0.05, 0.10, 0.05, 0.70, 0.10}, p.Probabilities)
	assert.GreaterOrEqual(t, p.Latency, time.Duration(0))

	assert.EqualValues(t, 224*224*3, eng.inputLen.Load())
	assert.Equal(t, []int{3}, rec.predictions)
	assert.Equal(t, []error{nil}, rec.inferences)
}

func TestClassify_SparseTable(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{out: []float32{0.1, 0.05, 0.7, 0.1, 0.05}}
	c, err := New(eng, labels.New(map[int]string{2: "CMD"}),
		WithLogger(logger.NewTestLogger(&bytes.Buffer{}, "classifier", "error")))
	require.NoError(t, err)

	p, err := c.Classify(leafImage())
	require.NoError(t, err)
	assert.Equal(t, 2, p.Class)
	assert.True(t, p.Known)
	assert.Equal(t, "CMD", p.Label)
	assert.InDelta(t, 70.0, p.Confidence, 1e-4)
}

func TestClassify_TieBreakFirstIndex(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t, &fakeEngine{out: []float32{0.1, 0.4, 0.1, 0.4, 0.0}})
	p, err := c.Classify(leafImage())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Class)
	assert.Equal(t, "Cassava Brown Streak Disease (CBSD)", p.Label)
}

func TestClassify_MissingLabelIsNotAnError(t *testing.T) {
	t.Parallel()

	// Seven outputs against a five-entry table, max at index 6.
	c := newTestClassifier(t, &fakeEngine{out: []float32{0, 0, 0, 0, 0.1, 0.2, 0.7}})
	p, err := c.Classify(leafImage())
	require.NoError(t, err)

	assert.Equal(t, 6, p.Class)
	assert.False(t, p.Known)
	assert.Empty(t, p.Label)
	assert.Equal(t, "Prediction: unknown class 6", p.PredictionText())
}

func TestClassify_LatencyCoversOnlyInvoke(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &stepClock{times: []time.Time{t0, t0.Add(12 * time.Millisecond)}}
	c := newTestClassifier(t, &fakeEngine{out: []float32{1, 0, 0, 0, 0}}, WithClock(clock.Now))

	p, err := c.Classify(leafImage())
	require.NoError(t, err)

	assert.Equal(t, 12*time.Millisecond, p.Latency)
	assert.Equal(t, 2, clock.calls, "clock read only around the engine call")
	assert.Equal(t, "Latency: 12 ms", p.LatencyText())
}

func TestClassify_NegativeClockDeltaClampsToZero(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &stepClock{times: []time.Time{t0, t0.Add(-time.Second)}}
	c := newTestClassifier(t, &fakeEngine{out: []float32{1}}, WithClock(clock.Now))

	p, err := c.Classify(leafImage())
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), p.Latency)
}

func TestClassify_EngineError(t *testing.T) {
	t.Parallel()

	cause := errors.NewStd("interpreter exploded")
	rec := &fakeRecorder{}
	c := newTestClassifier(t, &fakeEngine{err: cause}, WithRecorder(rec))

	_, err := c.Classify(leafImage())
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelInvoke))

	require.Len(t, rec.inferences, 1)
	assert.Equal(t, cause, rec.inferences[0])
	assert.Empty(t, rec.predictions)
}

func TestClassify_EmptyOutput(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t, &fakeEngine{out: []float32{}})
	_, err := c.Classify(leafImage())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryProcessing))
}

func TestClassify_InvalidImage(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{out: []float32{1}}
	c := newTestClassifier(t, eng)

	_, err := c.Classify(nil)
	require.ErrorIs(t, err, preprocess.ErrInvalidImage)

	_, err = c.ClassifyTensor(nil)
	require.ErrorIs(t, err, preprocess.ErrInvalidImage)

	assert.Zero(t, eng.calls.Load(), "engine must not run without an image")
}

func TestClassify_ConfidenceClamped(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t, &fakeEngine{out: []float32{1.5, 0.2}})
	p, err := c.Classify(leafImage())
	require.NoError(t, err)
	assert.InDelta(t, 100.0, p.Confidence, 1e-6)

	c = newTestClassifier(t, &fakeEngine{out: []float32{-0.2, -0.1}})
	p, err = c.Classify(leafImage())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Class)
	assert.Zero(t, p.Confidence)
}

func TestClassify_CopiesEngineOutput(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{out: []float32{0.2, 0.8}}
	c := newTestClassifier(t, eng)

	p, err := c.Classify(leafImage())
	require.NoError(t, err)

	eng.out[0] = 0.9
	assert.InDelta(t, 0.2, p.Probabilities[0], 1e-9)
}

func TestClassify_SerializesEngineCalls(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{out: []float32{0.1, 0.9}, delay: 2 * time.Millisecond}
	c := newTestClassifier(t, eng)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Classify(leafImage())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 8, eng.calls.Load())
	assert.EqualValues(t, 1, eng.maxFlight.Load())
}

func TestClassify_TopScores(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t, &fakeEngine{out: []float32{0.1, 0.3, 0.3, 0.2, 0.1}}, WithTopK(3))
	p, err := c.Classify(leafImage())
	require.NoError(t, err)

	require.Len(t, p.Top, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{p.Top[0].Class, p.Top[1].Class, p.Top[2].Class})
	assert.Equal(t, p.Class, p.Top[0].Class)
	assert.Equal(t, "Cassava Green Mottle (CGM)", p.Top[1].Label)

	c = newTestClassifier(t, &fakeEngine{out: []float32{0.6, 0.4}}, WithTopK(10))
	p, err = c.Classify(leafImage())
	require.NoError(t, err)
	assert.Len(t, p.Top, 2)
}

func TestClose_ReleasesEngineOnce(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{out: []float32{1}}
	c := newTestClassifier(t, eng)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.EqualValues(t, 1, eng.closes.Load())
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, labels.Default())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelInit))

	_, err = New(&fakeEngine{}, nil)
	require.Error(t, err)

	_, err = New(&fakeEngine{}, labels.Default(), WithInputSize(0))
	require.Error(t, err)

	c, err := New(&fakeEngine{}, labels.Default(), WithInputSize(96))
	require.NoError(t, err)
	assert.Equal(t, 96, c.InputSize())
	assert.Equal(t, 5, c.Labels().Len())
}

func TestPredictionText(t *testing.T) {
	t.Parallel()

	p := Prediction{
		Class:      4,
		Label:      "Healthy",
		Known:      true,
		Confidence: 87.123,
		Latency:    42*time.Millisecond + 900*time.Microsecond,
	}
	assert.Equal(t, "Prediction: Healthy", p.PredictionText())
	assert.Equal(t, "Accuracy: 87.12%", p.AccuracyText())
	assert.Equal(t, "Latency: 42 ms", p.LatencyText())
	assert.Equal(t, "Prediction: Healthy\nAccuracy: 87.12%\nLatency: 42 ms", p.String())
}
