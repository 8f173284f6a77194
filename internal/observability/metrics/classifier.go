// Package metrics provides custom Prometheus metrics for the cassavanet components.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cassavanet/cassavanet/internal/errors"
)

// ClassifierMetrics contains the Prometheus metrics for model inference.
type ClassifierMetrics struct {
	InferenceDuration *prometheus.HistogramVec
	InferenceTotal    *prometheus.CounterVec
	InferenceErrors   *prometheus.CounterVec
	PredictedClass    *prometheus.CounterVec
	Confidence        prometheus.Histogram

	ModelLoadTotal   *prometheus.CounterVec
	ModelLoadedGauge prometheus.Gauge

	engine   string
	registry *prometheus.Registry
}

// NewClassifierMetrics creates and registers the classifier metrics. engine
// labels the inference series, e.g. "tflite" or "onnx".
func NewClassifierMetrics(registry *prometheus.Registry, engine string) (*ClassifierMetrics, error) {
	m := &ClassifierMetrics{registry: registry, engine: engine}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize classifier metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register classifier metrics: %w", err)
	}
	return m, nil
}

func (m *ClassifierMetrics) initMetrics() error {
	m.InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cassavanet_inference_duration_seconds",
			Help:    "Time spent in a single model invocation",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"engine"},
	)

	m.InferenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cassavanet_inference_total",
			Help: "Total number of model invocations",
		},
		[]string{"engine", "status"},
	)

	m.InferenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cassavanet_inference_errors_total",
			Help: "Total number of failed model invocations by error category",
		},
		[]string{"engine", "category"},
	)

	m.PredictedClass = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cassavanet_predictions_total",
			Help: "Total number of predictions partitioned by class index and label",
		},
		[]string{"class", "label"},
	)

	m.Confidence = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cassavanet_prediction_confidence_percent",
		Help:    "Confidence of the top class in percent",
		Buckets: prometheus.LinearBuckets(10, 10, 9),
	})

	m.ModelLoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cassavanet_model_load_total",
			Help: "Total number of model load attempts",
		},
		[]string{"engine", "status"},
	)

	m.ModelLoadedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cassavanet_model_loaded",
		Help: "Whether a model is currently loaded (1) or not (0)",
	})

	return nil
}

// RecordInference records one engine invocation.
func (m *ClassifierMetrics) RecordInference(latency time.Duration, err error) {
	if err != nil {
		m.InferenceTotal.WithLabelValues(m.engine, "error").Inc()
		m.InferenceErrors.WithLabelValues(m.engine, categorizeError(err)).Inc()
		return
	}
	m.InferenceTotal.WithLabelValues(m.engine, "success").Inc()
	m.InferenceDuration.WithLabelValues(m.engine).Observe(latency.Seconds())
}

// RecordPrediction counts a prediction. An empty label is reported as "unknown".
func (m *ClassifierMetrics) RecordPrediction(class int, label string, confidence float32) {
	if label == "" {
		label = "unknown"
	}
	m.PredictedClass.WithLabelValues(strconv.Itoa(class), label).Inc()
	m.Confidence.Observe(float64(confidence))
}

// RecordModelLoad records a model load attempt and updates the loaded gauge.
func (m *ClassifierMetrics) RecordModelLoad(err error) {
	if err != nil {
		m.ModelLoadTotal.WithLabelValues(m.engine, "error").Inc()
		m.ModelLoadedGauge.Set(0)
		return
	}
	m.ModelLoadTotal.WithLabelValues(m.engine, "success").Inc()
	m.ModelLoadedGauge.Set(1)
}

// SetModelUnloaded clears the loaded gauge after the engine is closed.
func (m *ClassifierMetrics) SetModelUnloaded() {
	m.ModelLoadedGauge.Set(0)
}

// categorizeError maps an error to its EnhancedError category, or "unknown".
func categorizeError(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return "unknown"
}

// Describe implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.InferenceDuration.Describe(ch)
	m.InferenceTotal.Describe(ch)
	m.InferenceErrors.Describe(ch)
	m.PredictedClass.Describe(ch)
	ch <- m.Confidence.Desc()
	m.ModelLoadTotal.Describe(ch)
	ch <- m.ModelLoadedGauge.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Collect(ch chan<- prometheus.Metric) {
	m.InferenceDuration.Collect(ch)
	m.InferenceTotal.Collect(ch)
	m.InferenceErrors.Collect(ch)
	m.PredictedClass.Collect(ch)
	ch <- m.Confidence
	m.ModelLoadTotal.Collect(ch)
	ch <- m.ModelLoadedGauge
}
