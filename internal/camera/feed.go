package camera

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/worker"
)

// ResultHandler consumes one live feed result.
type ResultHandler func(worker.Result)

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithRotation sets the clockwise sensor rotation applied to every frame.
func WithRotation(degrees int) FeedOption {
	return func(f *Feed) { f.rotation = degrees }
}

// WithMaxFPS caps the frames handed to the worker; 0 means unlimited.
func WithMaxFPS(fps float64) FeedOption {
	return func(f *Feed) { f.maxFPS = fps }
}

// WithHandler adds a result handler. Handlers run in order on the feed's
// result goroutine.
func WithHandler(h ResultHandler) FeedOption {
	return func(f *Feed) { f.handlers = append(f.handlers, h) }
}

// WithWorkerRecorder attaches a metrics recorder to the feed's worker.
func WithWorkerRecorder(r worker.Recorder) FeedOption {
	return func(f *Feed) { f.recorder = r }
}

// WithShutdownTimeout bounds how long Run waits for the in-flight frame.
func WithShutdownTimeout(d time.Duration) FeedOption {
	return func(f *Feed) { f.shutdownTimeout = d }
}

// FeedStats counts frames at the feed level. Worker counters are separate.
type FeedStats struct {
	Received  uint64
	Throttled uint64
	Rejected  uint64
}

// Feed connects a Source to a keep-latest worker.
type Feed struct {
	source          Source
	classifier      worker.Classifier
	rotation        int
	maxFPS          float64
	handlers        []ResultHandler
	recorder        worker.Recorder
	shutdownTimeout time.Duration
	log             logger.Logger

	received  atomic.Uint64
	throttled atomic.Uint64
	rejected  atomic.Uint64
}

// NewFeed builds a feed; nothing runs until Run.
func NewFeed(src Source, c worker.Classifier, opts ...FeedOption) *Feed {
	f := &Feed{
		source:          src,
		classifier:      c,
		shutdownTimeout: 10 * time.Second,
		log:             GetLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Stats returns the feed counters.
func (f *Feed) Stats() FeedStats {
	return FeedStats{
		Received:  f.received.Load(),
		Throttled: f.throttled.Load(),
		Rejected:  f.rejected.Load(),
	}
}

func (f *Feed) limiter() *rate.Limiter {
	if f.maxFPS <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(f.maxFPS), max(1, int(math.Ceil(f.maxFPS))))
}

// Run streams frames until ctx is done or the source stops. On return the
// worker has been closed and every delivered result handled. A failed frame
// never stops the feed.
func (f *Feed) Run(ctx context.Context) error {
	opts := []worker.Option{worker.WithName("camera")}
	if f.recorder != nil {
		opts = append(opts, worker.WithRecorder(f.recorder))
	}
	w := worker.New(f.classifier, worker.KeepLatest, opts...)

	frames := make(chan Frame)
	limiter := f.limiter()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(frames)
		return f.source.Run(gctx, frames)
	})

	g.Go(func() error {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), f.shutdownTimeout)
			defer cancel()
			if err := w.Close(closeCtx); err != nil {
				f.log.Warn("Worker did not stop in time", logger.Error(err))
			}
		}()
		for {
			select {
			case <-gctx.Done():
				return nil
			case fr, ok := <-frames:
				if !ok {
					return nil
				}
				f.received.Add(1)
				if !limiter.Allow() {
					f.throttled.Add(1)
					continue
				}
				err := w.Submit(worker.Job{ID: fr.ID, Image: fr.Image, Rotation: f.rotation, Submitted: fr.Captured})
				if err != nil {
					f.rejected.Add(1)
					f.log.Debug("Frame rejected", logger.String("frame", fr.ID), logger.Error(err))
				}
			}
		}
	})

	g.Go(func() error {
		for r := range w.Results() {
			for _, h := range f.handlers {
				h(r)
			}
		}
		return nil
	})

	err := g.Wait()
	stats := w.Stats()
	f.log.Info("Live feed stopped",
		logger.Uint64("received", f.received.Load()),
		logger.Uint64("throttled", f.throttled.Load()),
		logger.Uint64("processed", stats.Processed),
		logger.Uint64("dropped", stats.Dropped),
		logger.Uint64("failed", stats.Failed))
	return err
}
