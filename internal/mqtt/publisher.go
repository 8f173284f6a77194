package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cassavanet/cassavanet/internal/display"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/worker"
)

// PublishRecorder receives publish outcomes.
type PublishRecorder interface {
	RecordPublish(size int, latency time.Duration, err error)
}

// Payload is the JSON message published for each prediction.
type Payload struct {
	display.Record
	Node string `json:"node"`
}

// Publisher sends predictions to a topic from its own goroutine so a slow or
// unreachable broker never holds up the feed. Messages that arrive while the
// buffer is full are dropped.
type Publisher struct {
	client   Client
	topic    string
	node     string
	timeout  time.Duration
	recorder PublishRecorder
	log      logger.Logger

	queue     chan Payload
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	dropped uint64
}

// NewPublisher starts a publisher. recorder may be nil.
func NewPublisher(c Client, cfg Config, node string, recorder PublishRecorder) *Publisher {
	p := &Publisher{
		client:   c,
		topic:    cfg.Topic,
		node:     node,
		timeout:  cfg.PublishTimeout,
		recorder: recorder,
		log:      GetLogger().With(logger.String("topic", cfg.Topic)),
		queue:    make(chan Payload, 16),
		done:     make(chan struct{}),
	}
	if p.timeout <= 0 {
		p.timeout = DefaultConfig().PublishTimeout
	}
	go p.run()
	return p
}

// Handle queues a live feed result. Failed classifications are published
// with their error so subscribers see the frame was attempted.
func (p *Publisher) Handle(r worker.Result) {
	rec := display.NewRecord(r.Job.ID, r.Prediction, r.Err)
	select {
	case p.queue <- Payload{Record: rec, Node: p.node}:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.log.Debug("Publish queue full, dropping message", logger.String("frame", r.Job.ID))
	}
}

// Dropped returns the number of messages dropped on a full queue.
func (p *Publisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close stops accepting messages and waits for queued ones to be attempted.
// Handle must not be called after Close.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() { close(p.queue) })
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		p.publish(msg)
	}
}

func (p *Publisher) publish(msg Payload) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("Failed to encode prediction", logger.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	err = p.client.Publish(ctx, p.topic, data)
	if p.recorder != nil {
		p.recorder.RecordPublish(len(data), time.Since(start), err)
	}
	if err != nil {
		p.log.Warn("Failed to publish prediction", logger.String("frame", msg.Source), logger.Error(err))
	}
}
