package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hazyhaar/consowatch/reading"
)

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // tcp://host:1883
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

func (c *MQTTConfig) defaults() {
	if c.ClientID == "" {
		c.ClientID = "consowatch"
	}
	if c.Topic == "" {
		c.Topic = "consowatch/data"
	}
}

// MQTT publishes DATA_UPDATED envelopes to a topic.
type MQTT struct {
	client  mqtt.Client
	cfg     MQTTConfig
	timeout time.Duration
	logger  *slog.Logger
}

// NewMQTT connects to the broker and returns a publishing sink.
func NewMQTT(cfg MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("sink: mqtt connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("sink: mqtt connect %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("sink: mqtt connect %s: %w", cfg.Broker, err)
	}
	logger.Info("sink: mqtt connected", "broker", cfg.Broker, "topic", cfg.Topic)

	return newMQTTWithClient(client, cfg, logger), nil
}

func newMQTTWithClient(client mqtt.Client, cfg MQTTConfig, logger *slog.Logger) *MQTT {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{client: client, cfg: cfg, timeout: 5 * time.Second, logger: logger}
}

func (m *MQTT) SendSnapshot(ctx context.Context, snap reading.Snapshot) error {
	payload, err := json.Marshal(dataUpdated(snap))
	if err != nil {
		return fmt.Errorf("sink: mqtt marshal: %w", err)
	}

	token := m.client.Publish(m.cfg.Topic, m.cfg.QoS, m.cfg.Retained, payload)
	select {
	case <-token.Done():
	case <-time.After(m.timeout):
		return fmt.Errorf("sink: mqtt publish %s: timeout", m.cfg.Topic)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("sink: mqtt publish %s: %w", m.cfg.Topic, err)
	}
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
