package hub

import (
	"context"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/protocol"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	for !h.IsRunning() {
		time.Sleep(time.Millisecond)
	}
	return h
}

// attach registers a connectionless client so the fan-out can be observed
// without a socket.
func attach(h *Hub, buffer int) *Client {
	c := &Client{hub: h, send: make(chan Message, buffer)}
	h.register <- c
	return c
}

func TestNew(t *testing.T) {
	h := New("feedback")
	if h.ClientCount() != 0 {
		t.Error("ClientCount should be 0 initially")
	}
	if h.IsRunning() {
		t.Error("hub should not run before Run")
	}
}

func TestNotifyFansOut(t *testing.T) {
	h := runHub(t)
	a := attach(h, 4)
	b := attach(h, 4)

	h.Notify(engine.Event{Kind: engine.EventDwellProgress, Target: 4, Progress: 0.25})

	for _, c := range []*Client{a, b} {
		select {
		case m := <-c.send:
			if m.Type != protocol.TypeEvent {
				t.Errorf("type = %s, want event", m.Type)
			}
			msg, err := protocol.ParseMessage(m.Data)
			if err != nil {
				t.Fatal(err)
			}
			ev, _ := msg.GetEvent()
			if ev.Kind != engine.EventDwellProgress || ev.Progress != 0.25 {
				t.Errorf("event = %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("client did not receive the event")
		}
	}
}

func TestSubscriptionFilters(t *testing.T) {
	h := runHub(t)
	all := attach(h, 8)
	picky := attach(h, 8)
	picky.Subscribe(engine.EventTrialCompleted)

	h.Notify(engine.Event{Kind: engine.EventDwellProgress, Progress: 0.5})
	h.Notify(engine.Event{Kind: engine.EventTrialCompleted, Outcome: "SUCCESS"})
	_ = h.PublishStatus(engine.Status{Trials: 1})

	if got := drain(t, all, 3); got[0] != protocol.TypeEvent || got[2] != protocol.TypeStatus {
		t.Errorf("unfiltered client got %v", got)
	}
	got := drain(t, picky, 2)
	if got[0] != protocol.TypeEvent || got[1] != protocol.TypeStatus {
		t.Errorf("filtered client got %v", got)
	}
	if h.GetStats().Filtered != 1 {
		t.Errorf("Filtered = %d, want 1", h.GetStats().Filtered)
	}
}

func TestStatusReplayedOnConnect(t *testing.T) {
	h := runHub(t)
	_ = h.PublishStatus(engine.Status{Trials: 7})

	c := attach(h, 4)
	select {
	case m := <-c.send:
		msg, err := protocol.ParseMessage(m.Data)
		if err != nil {
			t.Fatal(err)
		}
		st, _ := msg.GetStatus()
		if st.Trials != 7 {
			t.Errorf("replayed status = %+v", st)
		}
	case <-time.After(time.Second):
		t.Fatal("late client did not get the last status")
	}
}

// drain reads n messages from c and returns their types.
func drain(t *testing.T, c *Client, n int) []protocol.MessageType {
	t.Helper()
	var types []protocol.MessageType
	for len(types) < n {
		select {
		case m := <-c.send:
			types = append(types, m.Type)
		case <-time.After(time.Second):
			t.Fatalf("got %d of %d messages", len(types), n)
		}
	}
	return types
}

func TestSlowClientDropped(t *testing.T) {
	h := runHub(t)
	slow := attach(h, 1)

	_ = h.PublishStatus(engine.Status{Trials: 1})
	_ = h.PublishStatus(engine.Status{Trials: 2})

	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.ClientCount() != 0 {
		t.Fatal("slow client should have been dropped")
	}
	if h.GetStats().SlowClients != 1 {
		t.Errorf("SlowClients = %d, want 1", h.GetStats().SlowClients)
	}

	// First message delivered, then the channel is closed.
	if _, ok := <-slow.send; !ok {
		t.Error("first message should have been queued")
	}
	if _, ok := <-slow.send; ok {
		t.Error("send channel should be closed")
	}
}

func TestBroadcastNeverBlocks(t *testing.T) {
	h := New("idle") // not running, so nothing drains the queue
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			h.Notify(engine.Event{Kind: engine.EventRegionChanged, Region: i % 9})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	if h.GetStats().Dropped != 300-256 {
		t.Errorf("Dropped = %d, want %d", h.GetStats().Dropped, 300-256)
	}
}

func TestStopClosesClients(t *testing.T) {
	h := New("stop")
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	c := attach(h, 1)

	cancel()
	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("client channel not closed on stop")
	}

	if NewClient(h, nil) != nil {
		t.Error("NewClient should return nil once the hub has stopped")
	}
}

func TestWebSocketFeedback(t *testing.T) {
	h := runHub(t)
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Get("/ws/feedback", h.Handler())

	go app.Listen(":18290")
	defer app.Shutdown()
	time.Sleep(100 * time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18290/ws/feedback", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", h.ClientCount())
	}

	h.Notify(engine.Event{Kind: engine.EventTrialCompleted, Outcome: "SUCCESS"})

	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	ev, _ := msg.GetEvent()
	if ev.Kind != engine.EventTrialCompleted || ev.Outcome != "SUCCESS" {
		t.Errorf("event = %+v", ev)
	}

	ws.Close()
	deadline = time.Now().Add(time.Second)
	for h.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d after disconnect", h.ClientCount())
	}
}
