package mqttbus

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/gaze"
	"github.com/teslashibe/go-eyetouch/pkg/protocol"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeBroker struct {
	mu        sync.Mutex
	handler   mqtt.MessageHandler
	unsubbed  []string
	published map[string][][]byte
	subErr    error
	pubErr    error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{published: make(map[string][][]byte)}
}

func (b *fakeBroker) Subscribe(_ string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = cb
	return doneToken{err: b.subErr}
}

func (b *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubbed = append(b.unsubbed, topics...)
	return doneToken{}
}

func (b *fakeBroker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubErr == nil {
		b.published[topic] = append(b.published[topic], payload.([]byte))
	}
	return doneToken{err: b.pubErr}
}

func (b *fakeBroker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	h(nil, fakeMessage{topic: topic, payload: payload})
}

func (b *fakeBroker) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[topic])
}

func TestEstimatorID(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"eyetouch/tobii-1/gaze", "tobii-1"},
		{"lab/a/eyetouch/cam/gaze", "cam"},
		{"gaze", ""},
	}
	for _, tt := range tests {
		if got := EstimatorID(tt.topic); got != tt.want {
			t.Errorf("EstimatorID(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
	if got := GazeTopic(DefaultGazeTopic, "sim"); got != "eyetouch/sim/gaze" {
		t.Errorf("GazeTopic() = %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Broker = ""
	if cfg.Validate() == nil {
		t.Error("expected missing broker to fail")
	}
	cfg = DefaultConfig()
	cfg.QoS = 3
	if cfg.Validate() == nil {
		t.Error("expected qos 3 to fail")
	}
}

func TestSource_DeliversSamples(t *testing.T) {
	b := newFakeBroker()
	src, err := NewSource(b, DefaultGazeTopic, 0, 4)
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}

	msg, _ := protocol.NewGazeMessage(gaze.Sample{X: 3, Y: 4, Confidence: 0.9, Timestamp: 0.5})
	raw, _ := msg.Bytes()
	b.deliver("eyetouch/sim/gaze", raw)
	b.deliver("eyetouch/sim/gaze", []byte(`{"x":5,"y":6,"confidence":0.4,"ts":0.6}`))
	b.deliver("eyetouch/sim/gaze", []byte(`garbage`))

	ctx := context.Background()
	s, err := src.Next(ctx)
	if err != nil || s.X != 3 {
		t.Fatalf("Next() = %+v, %v", s, err)
	}
	s, err = src.Next(ctx)
	if err != nil || s.X != 5 {
		t.Fatalf("Next() = %+v, %v", s, err)
	}

	st := src.Stats()
	if st.Received != 2 || st.Rejected != 1 {
		t.Errorf("stats = %+v", st)
	}

	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after Close, got %v", err)
	}
	if len(b.unsubbed) != 1 || b.unsubbed[0] != DefaultGazeTopic {
		t.Errorf("unsubscribed = %v", b.unsubbed)
	}
	// Second close is a no-op.
	if err := src.Close(); err != nil {
		t.Error(err)
	}
}

func TestSource_DropsWhenFull(t *testing.T) {
	b := newFakeBroker()
	src, err := NewSource(b, DefaultGazeTopic, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		b.deliver("eyetouch/sim/gaze", []byte(`{"x":1,"y":1,"confidence":1,"ts":0}`))
	}
	if st := src.Stats(); st.Received != 1 || st.Dropped != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSource_SubscribeError(t *testing.T) {
	b := newFakeBroker()
	b.subErr = errors.New("not authorized")
	if _, err := NewSource(b, DefaultGazeTopic, 0, 1); err == nil {
		t.Error("expected subscribe error")
	}
}

func TestSource_NextHonoursContext(t *testing.T) {
	src, err := NewSource(newFakeBroker(), DefaultGazeTopic, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPublisher(t *testing.T) {
	b := newFakeBroker()
	p := NewPublisher(b, DefaultEventTopic, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	p.Notify(engine.Event{Kind: engine.EventTrialCompleted, Outcome: "SUCCESS"})
	p.Notify(engine.Event{Kind: engine.EventDwellProgress, Progress: 0.5})

	deadline := time.Now().Add(time.Second)
	for p.Stats().Published < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.count("eyetouch/events/trial_completed") != 1 || b.count("eyetouch/events/dwell_progress") != 1 {
		t.Errorf("published = %v", b.published)
	}

	b.mu.Lock()
	raw := b.published["eyetouch/events/trial_completed"][0]
	b.mu.Unlock()
	msg, err := protocol.ParseMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	ev, _ := msg.GetEvent()
	if ev.Outcome != "SUCCESS" {
		t.Errorf("event = %+v", ev)
	}
}

func TestPublisher_NotifyNeverBlocks(t *testing.T) {
	p := NewPublisher(newFakeBroker(), DefaultEventTopic, 0)
	for i := 0; i < 300; i++ {
		p.Notify(engine.Event{Kind: engine.EventRegionChanged})
	}
	if p.Stats().Dropped != 300-256 {
		t.Errorf("Dropped = %d", p.Stats().Dropped)
	}
}

func TestPublisher_Failure(t *testing.T) {
	b := newFakeBroker()
	b.pubErr = errors.New("broker gone")
	p := NewPublisher(b, DefaultEventTopic, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	p.Notify(engine.Event{Kind: engine.EventFault})
	deadline := time.Now().Add(time.Second)
	for p.Stats().Failed < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Stats().Failed != 1 {
		t.Errorf("Failed = %d, want 1", p.Stats().Failed)
	}
}

func TestPublishGaze(t *testing.T) {
	b := newFakeBroker()
	topic := GazeTopic(DefaultGazeTopic, "sim")
	if err := PublishGaze(b, topic, 0, gaze.Sample{X: 9, Confidence: 1}); err != nil {
		t.Fatal(err)
	}
	b.mu.Lock()
	raw := b.published[topic][0]
	b.mu.Unlock()
	s, err := protocol.DecodeGaze(raw)
	if err != nil || s.X != 9 {
		t.Errorf("DecodeGaze() = %+v, %v", s, err)
	}
}
