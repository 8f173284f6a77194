package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics contains the Prometheus metrics for background workers.
type WorkerMetrics struct {
	DroppedJobs *prometheus.CounterVec
	QueueDepth  *prometheus.GaugeVec
	registry    *prometheus.Registry
}

// NewWorkerMetrics creates and registers the worker metrics.
func NewWorkerMetrics(registry *prometheus.Registry) (*WorkerMetrics, error) {
	m := &WorkerMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize worker metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register worker metrics: %w", err)
	}
	return m, nil
}

func (m *WorkerMetrics) initMetrics() error {
	m.DroppedJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cassavanet_worker_dropped_total",
			Help: "Total number of jobs replaced or discarded before running",
		},
		[]string{"worker"},
	)
	m.QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cassavanet_worker_queue_depth",
			Help: "Number of jobs waiting after the most recent submission",
		},
		[]string{"worker"},
	)
	return nil
}

// RecordDropped counts one dropped job.
func (m *WorkerMetrics) RecordDropped(worker string) {
	m.DroppedJobs.WithLabelValues(worker).Inc()
}

// RecordQueueDepth sets the pending job count.
func (m *WorkerMetrics) RecordQueueDepth(worker string, depth int) {
	m.QueueDepth.WithLabelValues(worker).Set(float64(depth))
}

// Describe implements the prometheus.Collector interface.
func (m *WorkerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DroppedJobs.Describe(ch)
	m.QueueDepth.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *WorkerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DroppedJobs.Collect(ch)
	m.QueueDepth.Collect(ch)
}
