package worker

import (
	"bytes"
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cassavanet/cassavanet/internal/classifier"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testTimeout = 5 * time.Second

// gatedClassifier reports each image width on started and then waits for a
// token on gate before returning a prediction whose Class is that width.
type gatedClassifier struct {
	started chan int
	gate    chan struct{}
	err     error

	mu     sync.Mutex
	bounds []image.Rectangle
}

func newGated(buffered bool) *gatedClassifier {
	g := &gatedClassifier{started: make(chan int, 64), gate: make(chan struct{}, 64)}
	if buffered {
		for range 64 {
			g.gate <- struct{}{}
		}
	}
	return g
}

func (g *gatedClassifier) Classify(img image.Image) (classifier.Prediction, error) {
	g.mu.Lock()
	g.bounds = append(g.bounds, img.Bounds())
	g.mu.Unlock()

	g.started <- img.Bounds().Dx()
	<-g.gate
	if g.err != nil {
		return classifier.Prediction{}, g.err
	}
	return classifier.Prediction{Class: img.Bounds().Dx()}, nil
}

func (g *gatedClassifier) release() { g.gate <- struct{}{} }

// frame builds an image whose width identifies the job.
func frame(id int) Job {
	return Job{ID: "frame", Image: image.NewNRGBA(image.Rect(0, 0, id, 1))}
}

func quietLogger() logger.Logger {
	return logger.NewTestLogger(&bytes.Buffer{}, "worker", "error")
}

func waitStarted(t *testing.T, g *gatedClassifier) int {
	t.Helper()
	select {
	case id := <-g.started:
		return id
	case <-time.After(testTimeout):
		require.FailNow(t, "job never started")
		return 0
	}
}

func collect(t *testing.T, w *Worker) []Result {
	t.Helper()
	var out []Result
	timeout := time.After(testTimeout)
	for {
		select {
		case r, ok := <-w.Results():
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			require.FailNow(t, "results channel never closed")
		}
	}
}

func classes(results []Result) []int {
	out := make([]int, len(results))
	for i, r := range results {
		out[i] = r.Prediction.Class
	}
	return out
}

type countingRecorder struct {
	mu      sync.Mutex
	dropped int
	depths  []int
}

func (r *countingRecorder) RecordDropped(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}

func (r *countingRecorder) RecordQueueDepth(_ string, depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depths = append(r.depths, depth)
}

func TestKeepLatest_ReplacesPendingFrame(t *testing.T) {
	g := newGated(false)
	rec := &countingRecorder{}
	w := New(g, KeepLatest, WithLogger(quietLogger()), WithResultBuffer(8), WithRecorder(rec))

	require.NoError(t, w.Submit(frame(1)))
	assert.Equal(t, 1, waitStarted(t, g))

	// Frame 1 is in flight; 2 and 3 are replaced by 4.
	require.NoError(t, w.Submit(frame(2)))
	require.NoError(t, w.Submit(frame(3)))
	require.NoError(t, w.Submit(frame(4)))

	g.release()
	assert.Equal(t, 4, waitStarted(t, g))
	g.release()

	require.Eventually(t, func() bool { return w.Stats().Processed == 2 }, testTimeout, time.Millisecond)
	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, []int{1, 4}, classes(collect(t, w)))
	assert.Equal(t, Stats{Submitted: 4, Processed: 2, Dropped: 2}, w.Stats())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.dropped)
	assert.Equal(t, []int{1, 1, 1, 1}, rec.depths)
}

func TestQueue_RunsEverySubmissionInOrder(t *testing.T) {
	g := newGated(true)
	w := New(g, Queue, WithLogger(quietLogger()), WithResultBuffer(16))

	for id := 1; id <= 5; id++ {
		require.NoError(t, w.Submit(frame(id)))
	}

	var results []Result
	for range 5 {
		select {
		case r := <-w.Results():
			results = append(results, r)
		case <-time.After(testTimeout):
			require.FailNow(t, "timed out waiting for result")
		}
	}
	require.NoError(t, w.Close(context.Background()))
	_ = collect(t, w)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, classes(results))
	assert.Equal(t, Stats{Submitted: 5, Processed: 5}, w.Stats())
}

func TestQueue_MaxQueue(t *testing.T) {
	g := newGated(false)
	w := New(g, Queue, WithLogger(quietLogger()), WithMaxQueue(1), WithResultBuffer(4))

	require.NoError(t, w.Submit(frame(1)))
	waitStarted(t, g)
	require.NoError(t, w.Submit(frame(2)))
	assert.ErrorIs(t, w.Submit(frame(3)), ErrQueueFull)

	g.release()
	waitStarted(t, g)
	g.release()

	require.Eventually(t, func() bool { return w.Stats().Processed == 2 }, testTimeout, time.Millisecond)
	require.NoError(t, w.Close(context.Background()))
	assert.Len(t, collect(t, w), 2)
}

func TestClose_FinishesInFlightAndDiscardsPending(t *testing.T) {
	g := newGated(false)
	w := New(g, Queue, WithLogger(quietLogger()), WithResultBuffer(8))

	require.NoError(t, w.Submit(frame(1)))
	waitStarted(t, g)
	require.NoError(t, w.Submit(frame(2)))
	require.NoError(t, w.Submit(frame(3)))

	closed := make(chan error, 1)
	go func() { closed <- w.Close(context.Background()) }()

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.closed
	}, testTimeout, time.Millisecond)
	assert.ErrorIs(t, w.Submit(frame(9)), ErrClosed)

	g.release()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		require.FailNow(t, "Close did not return")
	}

	assert.Equal(t, []int{1}, classes(collect(t, w)))
	stats := w.Stats()
	assert.EqualValues(t, 1, stats.Processed)
	assert.EqualValues(t, 2, stats.Dropped)
}

func TestClose_ContextExpiresWhileResultUndelivered(t *testing.T) {
	g := newGated(true)
	w := New(g, KeepLatest, WithLogger(quietLogger()), WithResultBuffer(0))

	require.NoError(t, w.Submit(frame(1)))
	waitStarted(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-w.Done():
	case <-time.After(testTimeout):
		require.FailNow(t, "worker goroutine did not exit")
	}
	_, ok := <-w.Results()
	assert.False(t, ok)
}

func TestClose_Idempotent(t *testing.T) {
	w := New(newGated(true), Queue, WithLogger(quietLogger()))
	require.NoError(t, w.Close(context.Background()))
	require.NoError(t, w.Close(context.Background()))
	assert.ErrorIs(t, w.Submit(frame(1)), ErrClosed)
}

func TestSubmit_NilImage(t *testing.T) {
	w := New(newGated(true), Queue, WithLogger(quietLogger()))
	defer func() { require.NoError(t, w.Close(context.Background())) }()

	assert.ErrorIs(t, w.Submit(Job{ID: "empty"}), ErrNilImage)
	assert.Zero(t, w.Stats().Submitted)
}

func TestFailedJobsAreCounted(t *testing.T) {
	g := newGated(true)
	g.err = errors.NewStd("engine failure")
	w := New(g, Queue, WithLogger(quietLogger()), WithResultBuffer(4))

	require.NoError(t, w.Submit(frame(1)))
	r := <-w.Results()
	require.ErrorIs(t, r.Err, g.err)

	require.NoError(t, w.Close(context.Background()))
	_ = collect(t, w)
	assert.Equal(t, Stats{Submitted: 1, Processed: 1, Failed: 1}, w.Stats())
}

func TestRotationAppliedBeforeClassify(t *testing.T) {
	g := newGated(true)
	w := New(g, Queue, WithLogger(quietLogger()), WithResultBuffer(4))

	job := Job{ID: "rotated", Image: image.NewNRGBA(image.Rect(0, 0, 4, 2)), Rotation: 90}
	require.NoError(t, w.Submit(job))
	r := <-w.Results()
	require.NoError(t, r.Err)
	assert.Equal(t, "rotated", r.Job.ID)
	assert.False(t, r.Job.Submitted.IsZero())

	bad := Job{ID: "bad", Image: image.NewNRGBA(image.Rect(0, 0, 4, 2)), Rotation: 45}
	require.NoError(t, w.Submit(bad))
	r = <-w.Results()
	require.Error(t, r.Err)

	require.NoError(t, w.Close(context.Background()))
	_ = collect(t, w)

	g.mu.Lock()
	defer g.mu.Unlock()
	require.Len(t, g.bounds, 1, "invalid rotation never reaches the classifier")
	assert.Equal(t, image.Rect(0, 0, 2, 4), g.bounds[0])
	assert.EqualValues(t, 1, w.Stats().Failed)
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "keep-latest", KeepLatest.String())
	assert.Equal(t, "queue", Queue.String())
	assert.Equal(t, "unknown", Policy(9).String())
}
