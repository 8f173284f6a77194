// Package worker runs classification on a single background goroutine and
// delivers results on a channel. Two pending-work policies are supported:
// KeepLatest for live feeds and Queue for user-selected images.
package worker

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cassavanet/cassavanet/internal/classifier"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/preprocess"
)

var (
	ErrClosed    = errors.NewStd("worker: closed")
	ErrNilImage  = errors.NewStd("worker: job has no image")
	ErrQueueFull = errors.NewStd("worker: queue is full")
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the worker module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("worker")
	})
	return serviceLogger
}

// Policy decides what happens to a submission while work is pending.
type Policy int

const (
	// KeepLatest holds at most one pending job; a newer submission replaces
	// it and the replaced job is dropped.
	KeepLatest Policy = iota
	// Queue runs every submission in order.
	Queue
)

func (p Policy) String() string {
	switch p {
	case KeepLatest:
		return "keep-latest"
	case Queue:
		return "queue"
	default:
		return "unknown"
	}
}

// Classifier is the part of classifier.Classifier the worker needs.
type Classifier interface {
	Classify(img image.Image) (classifier.Prediction, error)
}

// Recorder receives worker measurements.
type Recorder interface {
	RecordDropped(worker string)
	RecordQueueDepth(worker string, depth int)
}

// Job is one image to classify.
type Job struct {
	ID        string      // caller-chosen identifier, e.g. a file name
	Image     image.Image // decoded image
	Rotation  int         // clockwise rotation applied before preprocessing
	Submitted time.Time
}

// Result pairs a job with its prediction or error.
type Result struct {
	Job        Job
	Prediction classifier.Prediction
	Err        error
}

// Stats is a snapshot of worker counters.
type Stats struct {
	Submitted uint64 // accepted by Submit
	Processed uint64 // ran to completion, successfully or not
	Failed    uint64 // subset of Processed that returned an error
	Dropped   uint64 // replaced under KeepLatest or discarded on Close
}

// Option configures a Worker.
type Option func(*Worker)

// WithName names the worker in logs and metrics.
func WithName(name string) Option {
	return func(w *Worker) { w.name = name }
}

// WithResultBuffer sets the result channel capacity. Default 1.
func WithResultBuffer(n int) Option {
	return func(w *Worker) { w.resultBuffer = n }
}

// WithMaxQueue bounds the Queue policy backlog; 0 means unbounded.
func WithMaxQueue(n int) Option {
	return func(w *Worker) { w.maxQueue = n }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(w *Worker) { w.recorder = r }
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// Worker executes jobs one at a time on its own goroutine.
type Worker struct {
	classifier   Classifier
	policy       Policy
	name         string
	resultBuffer int
	maxQueue     int
	recorder     Recorder
	log          logger.Logger

	mu      sync.Mutex
	pending []Job
	closed  bool

	wake    chan struct{}
	stop    chan struct{}
	abort   chan struct{}
	exited  chan struct{}
	results chan Result

	closeOnce sync.Once
	abortOnce sync.Once

	submitted atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// New starts a worker. Callers must drain Results and call Close.
func New(c Classifier, policy Policy, opts ...Option) *Worker {
	w := &Worker{
		classifier:   c,
		policy:       policy,
		name:         policy.String(),
		resultBuffer: 1,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		abort:        make(chan struct{}),
		exited:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = GetLogger().With(logger.String("worker", w.name))
	}
	w.results = make(chan Result, max(w.resultBuffer, 0))

	go w.run()
	return w
}

// Results returns the channel results are delivered on. It is closed once
// the worker goroutine exits.
func (w *Worker) Results() <-chan Result {
	return w.results
}

// Submit hands a job to the worker without waiting for it to run.
func (w *Worker) Submit(job Job) error {
	if job.Image == nil {
		return ErrNilImage
	}
	if job.Submitted.IsZero() {
		job.Submitted = time.Now()
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}

	replaced := false
	switch w.policy {
	case KeepLatest:
		replaced = len(w.pending) > 0
		w.pending = append(w.pending[:0], job)
	default:
		if w.maxQueue > 0 && len(w.pending) >= w.maxQueue {
			w.mu.Unlock()
			return ErrQueueFull
		}
		w.pending = append(w.pending, job)
	}
	depth := len(w.pending)
	w.mu.Unlock()

	w.submitted.Add(1)
	if replaced {
		w.dropped.Add(1)
		w.log.Trace("Pending frame replaced", logger.String("job", job.ID))
		if w.recorder != nil {
			w.recorder.RecordDropped(w.name)
		}
	}
	if w.recorder != nil {
		w.recorder.RecordQueueDepth(w.name, depth)
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Submitted: w.submitted.Load(),
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		Dropped:   w.dropped.Load(),
	}
}

// Close stops accepting work, discards pending jobs and waits for the job in
// flight to finish. Inference is never interrupted. If ctx ends first, result
// delivery is abandoned and ctx.Err() is returned; the goroutine still exits
// after the in-flight job.
func (w *Worker) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		discarded := len(w.pending)
		w.pending = nil
		w.mu.Unlock()

		if discarded > 0 {
			w.dropped.Add(uint64(discarded))
			if w.recorder != nil {
				for range discarded {
					w.recorder.RecordDropped(w.name)
				}
			}
		}
		close(w.stop)

		w.log.Debug("Worker stopping", logger.Int("discarded", discarded))
	})

	select {
	case <-w.exited:
		return nil
	case <-ctx.Done():
		w.abortOnce.Do(func() { close(w.abort) })
		return ctx.Err()
	}
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.exited
}

func (w *Worker) run() {
	defer close(w.exited)
	defer close(w.results)

	for {
		select {
		case <-w.stop:
			return
		case <-w.wake:
		}

		for {
			job, ok := w.next()
			if !ok {
				break
			}
			if !w.deliver(w.process(job)) {
				return
			}
		}
	}
}

// next pops the oldest pending job, or reports false when idle or closed.
func (w *Worker) next() (Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || len(w.pending) == 0 {
		return Job{}, false
	}
	job := w.pending[0]
	w.pending = w.pending[1:]
	return job, true
}

func (w *Worker) process(job Job) Result {
	img := job.Image
	if job.Rotation != 0 {
		rotated, err := preprocess.Rotate(img, job.Rotation)
		if err != nil {
			w.processed.Add(1)
			w.failed.Add(1)
			return Result{Job: job, Err: err}
		}
		img = rotated
	}

	pred, err := w.classifier.Classify(img)
	w.processed.Add(1)
	if err != nil {
		w.failed.Add(1)
		w.log.Warn("Classification failed", logger.String("job", job.ID), logger.Error(err))
	}
	return Result{Job: job, Prediction: pred, Err: err}
}

// deliver sends r unless Close gave up waiting; it reports whether the
// worker should keep running.
func (w *Worker) deliver(r Result) bool {
	select {
	case w.results <- r:
		return true
	case <-w.abort:
		return false
	}
}
