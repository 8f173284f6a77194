package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics tracks the prediction publisher and its broker connection.
type MQTTMetrics struct {
	Connected       prometheus.Gauge
	ConnectionsLost prometheus.Counter
	Published       *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec
	PayloadSize     prometheus.Histogram
	PublishLatency  prometheus.Histogram

	mu        sync.Mutex
	connected bool
	registry  *prometheus.Registry
}

// NewMQTTMetrics creates and registers the MQTT metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize MQTT metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() error {
	m.Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cassavanet_mqtt_connected",
		Help: "Whether the prediction publisher is connected to its broker (1) or not (0)",
	})

	m.ConnectionsLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cassavanet_mqtt_connections_lost_total",
		Help: "Times an established broker connection was lost",
	})

	m.Published = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cassavanet_mqtt_published_total",
			Help: "Prediction messages handed to the broker, by outcome",
		},
		[]string{"status"},
	)

	m.PublishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cassavanet_mqtt_publish_errors_total",
			Help: "Failed prediction publishes by error category",
		},
		[]string{"category"},
	)

	m.PayloadSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cassavanet_mqtt_payload_bytes",
		Help:    "Size of published prediction payloads",
		Buckets: prometheus.ExponentialBuckets(128, 2, 8),
	})

	m.PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cassavanet_mqtt_publish_latency_seconds",
		Help:    "Time from publish to broker acknowledgement",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})

	return nil
}

// UpdateConnectionStatus sets the connection gauge. A transition from
// connected to disconnected counts as a lost connection.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	m.mu.Lock()
	wasConnected := m.connected
	m.connected = connected
	m.mu.Unlock()

	if connected {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
	if wasConnected {
		m.ConnectionsLost.Inc()
	}
}

// RecordPublish records one publish attempt of size bytes.
func (m *MQTTMetrics) RecordPublish(size int, latency time.Duration, err error) {
	if err != nil {
		m.Published.WithLabelValues("error").Inc()
		m.PublishErrors.WithLabelValues(categorizeError(err)).Inc()
		return
	}
	m.Published.WithLabelValues("success").Inc()
	m.PayloadSize.Observe(float64(size))
	m.PublishLatency.Observe(latency.Seconds())
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.Connected.Desc()
	ch <- m.ConnectionsLost.Desc()
	m.Published.Describe(ch)
	m.PublishErrors.Describe(ch)
	ch <- m.PayloadSize.Desc()
	ch <- m.PublishLatency.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.Connected
	ch <- m.ConnectionsLost
	m.Published.Collect(ch)
	m.PublishErrors.Collect(ch)
	ch <- m.PayloadSize
	ch <- m.PublishLatency
}
