// Package mqttbus connects the harness to an MQTT broker: estimators publish
// gaze samples and the harness publishes feedback events.
package mqttbus

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-eyetouch/internal/log"
)

// Default topics. The + level is the estimator ID.
const (
	DefaultGazeTopic  = "eyetouch/+/gaze"
	DefaultEventTopic = "eyetouch/events"
)

// Config holds MQTT connection and topic configuration
type Config struct {
	Broker     string `yaml:"broker" json:"broker"` // e.g. tcp://localhost:1883
	ClientID   string `yaml:"client_id" json:"client_id"`
	Username   string `yaml:"username" json:"username"`
	Password   string `yaml:"password" json:"-"`
	GazeTopic  string `yaml:"gaze_topic" json:"gaze_topic"`
	EventTopic string `yaml:"event_topic" json:"event_topic"`
	QoS        byte   `yaml:"qos" json:"qos"`
}

// DefaultConfig returns a config for a local broker.
func DefaultConfig() Config {
	return Config{
		Broker:     "tcp://localhost:1883",
		ClientID:   "eyetouch",
		GazeTopic:  DefaultGazeTopic,
		EventTopic: DefaultEventTopic,
		QoS:        0,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

// Connect opens a client connection with auto-reconnect.
func Connect(cfg Config) (mqtt.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := log.Component("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("connected to broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

// EstimatorID extracts the estimator ID from a topic shaped like
// prefix/{id}/gaze.
func EstimatorID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}

// GazeTopic returns the publish topic for estimator id under pattern.
func GazeTopic(pattern, id string) string {
	return strings.Replace(pattern, "+", id, 1)
}
