package mqttbus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-eyetouch/internal/log"
	"github.com/teslashibe/go-eyetouch/pkg/gaze"
	"github.com/teslashibe/go-eyetouch/pkg/protocol"
)

// Subscriber is the subset of mqtt.Client used by Source.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Source delivers gaze samples published on an MQTT topic. Samples that
// arrive while the buffer is full are dropped.
type Source struct {
	client  Subscriber
	topic   string
	samples chan gaze.Sample
	logger  *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}

	received atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

// NewSource subscribes to topic and buffers up to buffer samples.
func NewSource(client Subscriber, topic string, qos byte, buffer int) (*Source, error) {
	if buffer < 1 {
		buffer = 64
	}
	s := &Source{
		client:  client,
		topic:   topic,
		samples: make(chan gaze.Sample, buffer),
		closed:  make(chan struct{}),
		logger:  log.Component("mqtt-source").With("topic", topic),
	}

	token := client.Subscribe(topic, qos, s.handle)
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	s.logger.Info("subscribed to gaze topic")
	return s, nil
}

// handle decodes one gaze message and queues it
func (s *Source) handle(_ mqtt.Client, msg mqtt.Message) {
	sample, err := protocol.DecodeGaze(msg.Payload())
	if err == nil {
		err = sample.Validate()
	}
	if err != nil {
		s.rejected.Add(1)
		s.logger.Debug("rejected gaze payload", "estimator", EstimatorID(msg.Topic()), "error", err)
		return
	}

	select {
	case <-s.closed:
		return
	default:
	}

	select {
	case s.samples <- sample:
		s.received.Add(1)
	default:
		s.dropped.Add(1)
	}
}

// Next returns the next sample. After Close it returns io.EOF.
func (s *Source) Next(ctx context.Context) (gaze.Sample, error) {
	select {
	case sample := <-s.samples:
		return sample, nil
	case <-s.closed:
		return gaze.Sample{}, io.EOF
	case <-ctx.Done():
		return gaze.Sample{}, ctx.Err()
	}
}

// Close unsubscribes from the topic.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		token := s.client.Unsubscribe(s.topic)
		if token.Wait() && token.Error() != nil {
			err = token.Error()
		}
	})
	if err != nil {
		return fmt.Errorf("mqtt unsubscribe failed: %w", err)
	}
	return nil
}

// SourceStats counts what the source saw.
type SourceStats struct {
	Received uint64 `json:"received"`
	Rejected uint64 `json:"rejected"`
	Dropped  uint64 `json:"dropped"`
}

// Stats returns source statistics.
func (s *Source) Stats() SourceStats {
	return SourceStats{
		Received: s.received.Load(),
		Rejected: s.rejected.Load(),
		Dropped:  s.dropped.Load(),
	}
}
