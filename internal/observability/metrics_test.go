package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics("tflite")
			assert.NoError(t, err)
			if assert.NotNil(t, m) {
				assert.NotNil(t, m.Registry())
				assert.NotNil(t, m.Classifier)
				assert.NotNil(t, m.Worker)
				assert.NotNil(t, m.MQTT)
				assert.NotNil(t, m.HTTP)
			}
		})
	}
	wg.Wait()
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics("onnx")
	require.NoError(t, err)

	m.Classifier.RecordInference(5*time.Millisecond, nil)
	m.Worker.RecordDropped("camera")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cassavanet_inference_total{engine="onnx",status="success"} 1`)
	assert.Contains(t, string(body), `cassavanet_worker_dropped_total{worker="camera"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
