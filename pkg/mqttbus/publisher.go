package mqttbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-eyetouch/internal/log"
	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/gaze"
	"github.com/teslashibe/go-eyetouch/pkg/protocol"
)

// Broker is the subset of mqtt.Client used by Publisher.
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher forwards engine events to MQTT. Notify only queues; Start does
// the publishing so the engine never waits on the broker.
type Publisher struct {
	client Broker
	topic  string
	qos    byte
	queue  chan *protocol.Message
	logger *slog.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher creates a publisher for topic. Event kinds are appended as a
// sub-topic, e.g. eyetouch/events/trial_completed.
func NewPublisher(client Broker, topic string, qos byte) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		qos:    qos,
		queue:  make(chan *protocol.Message, 256),
		logger: log.Component("mqtt-publisher").With("topic", topic),
	}
}

// Notify implements engine.Notifier.
func (p *Publisher) Notify(ev engine.Event) {
	msg, err := protocol.NewEventMessage(ev)
	if err != nil {
		p.logger.Warn("failed to encode event", "kind", ev.Kind, "error", err)
		return
	}
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
	}
}

// Start publishes queued events until ctx is done.
func (p *Publisher) Start(ctx context.Context) {
	p.logger.Info("publisher started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("publisher stopped", "published", p.published.Load(), "dropped", p.dropped.Load())
			return
		case msg := <-p.queue:
			if err := p.publishEvent(msg); err != nil {
				p.failed.Add(1)
				p.logger.Warn("publish failed", "error", err)
			}
		}
	}
}

func (p *Publisher) publishEvent(msg *protocol.Message) error {
	ev, err := msg.GetEvent()
	if err != nil {
		return err
	}
	payload, err := msg.Bytes()
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s", p.topic, ev.Kind)
	token := p.client.Publish(topic, p.qos, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	p.published.Add(1)
	return nil
}

// PublishGaze publishes one sample as a gaze envelope and waits for the
// broker to accept it.
func PublishGaze(client Broker, topic string, qos byte, s gaze.Sample) error {
	msg, err := protocol.NewGazeMessage(s)
	if err != nil {
		return err
	}
	payload, err := msg.Bytes()
	if err != nil {
		return err
	}
	token := client.Publish(topic, qos, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish gaze: %w", token.Error())
	}
	return nil
}

// PublisherStats counts publisher activity.
type PublisherStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Stats returns publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}
