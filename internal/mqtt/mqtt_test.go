package mqtt

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cassavanet/cassavanet/internal/classifier"
	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type message struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu       sync.Mutex
	messages []message
	fail     error
	block    chan struct{}
}

func (f *fakeClient) Connect(context.Context) error { return nil }
func (f *fakeClient) IsConnected() bool             { return true }
func (f *fakeClient) Disconnect()                   {}

func (f *fakeClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.messages = append(f.messages, message{topic: topic, payload: payload})
	return nil
}

type publishRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *publishRecorder) RecordPublish(_ int, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func result(id string, p classifier.Prediction, err error) worker.Result {
	return worker.Result{Job: worker.Job{ID: id}, Prediction: p, Err: err}
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{}
	s.Main.Name = "field-01"
	s.MQTT = conf.MQTTSettings{Broker: "tcp://broker:1883", Topic: "cassava/predictions", QoS: 7, Retain: true}

	cfg := ConfigFromSettings(s)
	assert.Equal(t, "field-01", cfg.ClientID)
	assert.Equal(t, byte(2), cfg.QoS)
	assert.True(t, cfg.Retain)
	assert.Equal(t, 10*time.Second, cfg.PublishTimeout)

	s.MQTT.ClientID = "explicit"
	assert.Equal(t, "explicit", ConfigFromSettings(s).ClientID)
}

func TestPublisher_PublishesJSON(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	rec := &publishRecorder{}
	cfg := DefaultConfig()
	cfg.Topic = "cassava/predictions"
	p := NewPublisher(fc, cfg, "field-01", rec)

	p.Handle(result("frame-1.jpg", classifier.Prediction{Class: 4, Label: "Healthy", Known: true, Confidence: 99.5, Latency: 14 * time.Millisecond}, nil))
	p.Handle(result("frame-2.jpg", classifier.Prediction{Class: 9, Confidence: 60}, nil))
	p.Close()

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.messages, 2)
	assert.Equal(t, "cassava/predictions", fc.messages[0].topic)

	var first map[string]any
	require.NoError(t, json.Unmarshal(fc.messages[0].payload, &first))
	assert.Equal(t, "Healthy", first["label"])
	assert.Equal(t, "frame-1.jpg", first["source"])
	assert.Equal(t, "field-01", first["node"])
	assert.InDelta(t, 14, first["latency_ms"], 0)

	var second map[string]any
	require.NoError(t, json.Unmarshal(fc.messages[1].payload, &second))
	assert.Nil(t, second["label"])

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []error{nil, nil}, rec.errs)
}

func TestPublisher_FailuresAreRecordedNotFatal(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{fail: errors.NewStd("not connected")}
	rec := &publishRecorder{}
	p := NewPublisher(fc, DefaultConfig(), "node", rec)

	p.Handle(result("a", classifier.Prediction{}, nil))
	p.Handle(result("b", classifier.Prediction{}, errors.NewStd("invoke failed")))
	p.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.errs, 2)
	assert.Error(t, rec.errs[0])
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{block: make(chan struct{})}
	p := NewPublisher(fc, DefaultConfig(), "node", nil)

	for range 40 {
		p.Handle(result("f", classifier.Prediction{}, nil))
	}
	assert.Positive(t, p.Dropped())

	close(fc.block)
	p.Close()

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Equal(t, 40, len(fc.messages)+int(p.Dropped()))
}

func TestClient_InvalidBroker(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Broker = "::nonsense"
	c := NewClient(cfg, nil)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.False(t, c.IsConnected())
}

func TestClient_PublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	c := NewClient(DefaultConfig(), nil)
	err := c.Publish(context.Background(), "topic", []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
	c.Disconnect()
}

// TestClient_Broker talks to a real broker when CASSAVANET_TEST_MQTT_BROKER is set.
func TestClient_Broker(t *testing.T) {
	broker := os.Getenv("CASSAVANET_TEST_MQTT_BROKER")
	if broker == "" {
		t.Skip("CASSAVANET_TEST_MQTT_BROKER not set")
	}

	cfg := DefaultConfig()
	cfg.Broker = broker
	cfg.ClientID = "cassavanet-test"
	c := NewClient(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	assert.True(t, c.IsConnected())
	require.NoError(t, c.Publish(ctx, "cassavanet/test", []byte(`{"class":4}`)))
}
