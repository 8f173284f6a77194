package mqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/privacy"
	"github.com/cassavanet/cassavanet/internal/logger"
)

// ConnectionRecorder receives connection state changes.
type ConnectionRecorder interface {
	UpdateConnectionStatus(connected bool)
}

type client struct {
	config   Config
	recorder ConnectionRecorder

	mu       sync.Mutex
	internal paho.Client
}

// NewClient creates a paho backed client. recorder may be nil.
func NewClient(cfg Config, recorder ConnectionRecorder) Client {
	return &client{config: cfg, recorder: recorder}
}

// Connect resolves the broker host and connects. paho reconnects on its own
// after a successful first connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := url.Parse(c.config.Broker)
	if err != nil || u.Hostname() == "" {
		return errors.Newf("invalid broker URL: scheme and host are required").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if host := u.Hostname(); net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(fmt.Errorf("failed to resolve hostname %s: %w", host, err)).
				Component("mqtt").
				Category(errors.CategoryMQTTConnect).
				Context("broker", privacy.SanitizeBrokerURL(c.config.Broker)).
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internal = paho.NewClient(opts)

	token := c.internal.Connect()
	if !waitToken(ctx, token, c.config.ConnectTimeout) {
		return errors.Newf("connection timeout").
			Component("mqtt").
			Category(errors.CategoryMQTTConnect).
			Context("broker", privacy.SanitizeBrokerURL(c.config.Broker)).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(fmt.Errorf("connection error: %w", err)).
			Component("mqtt").
			Category(errors.CategoryMQTTConnect).
			Context("broker", privacy.SanitizeBrokerURL(c.config.Broker)).
			Build()
	}
	return nil
}

// Publish sends payload to topic with the configured QoS and retain flag.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	token := c.internal.Publish(topic, c.config.QoS, c.config.Retain, payload)
	if !waitToken(ctx, token, c.config.PublishTimeout) {
		return errors.Newf("publish timeout").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(fmt.Errorf("publish: %w", err)).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal != nil && c.internal.IsConnected()
}

// Disconnect closes the broker connection.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internal != nil {
		c.internal.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds())) //nolint:gosec // G115: small positive duration
		c.internal = nil
	}
	if c.recorder != nil {
		c.recorder.UpdateConnectionStatus(false)
	}
}

func (c *client) onConnect(paho.Client) {
	GetLogger().Info("Connected to MQTT broker", logger.String("broker", privacy.SanitizeBrokerURL(c.config.Broker)))
	if c.recorder != nil {
		c.recorder.UpdateConnectionStatus(true)
	}
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	GetLogger().Warn("Connection to MQTT broker lost", logger.String("broker", privacy.SanitizeBrokerURL(c.config.Broker)), logger.Error(err))
	if c.recorder != nil {
		c.recorder.UpdateConnectionStatus(false)
	}
}

// waitToken waits for token completion, the timeout or ctx, whichever is first.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
