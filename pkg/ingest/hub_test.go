package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/gaze"
	"github.com/teslashibe/go-eyetouch/pkg/protocol"
)

type recordingSink struct {
	mu      sync.Mutex
	samples []gaze.Sample
}

func (s *recordingSink) PushSample(g gaze.Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, g)
	return true
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

type fakeCommander struct {
	mu   sync.Mutex
	cmds []engine.Command
	err  error
}

func (f *fakeCommander) Do(_ context.Context, cmd engine.Command) (engine.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return engine.Reply{}, f.err
}

func (f *fakeCommander) Status() engine.Status {
	return engine.Status{SessionID: "s-1", Trials: 2}
}

func startServer(t *testing.T, hub *Hub, addr string) {
	t.Helper()
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	hub.RegisterRoutes(app)

	go app.Listen(addr)
	t.Cleanup(func() { _ = app.Shutdown() })
	time.Sleep(100 * time.Millisecond)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return msg
}

func TestNewHub(t *testing.T) {
	hub := NewHub(&recordingSink{}, nil)

	if hub.EstimatorCount() != 0 {
		t.Error("EstimatorCount should be 0 initially")
	}
	stats := hub.GetStats()
	if stats.MessagesReceived != 0 || stats.SamplesReceived != 0 {
		t.Errorf("stats should start at zero: %+v", stats)
	}
	if hub.GetEstimator("nonexistent") != nil {
		t.Error("GetEstimator should return nil for unknown estimator")
	}
}

func TestGenerateEstimatorID(t *testing.T) {
	a, b := generateEstimatorID(), generateEstimatorID()
	if a == "" || a == b {
		t.Errorf("ids should be unique and non-empty: %q %q", a, b)
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	hub := NewHub(&recordingSink{}, nil)
	startServer(t, hub, ":18280")

	ws := dial(t, "ws://localhost:18280/ws/gaze/eye-1")
	time.Sleep(50 * time.Millisecond)

	if hub.EstimatorCount() != 1 {
		t.Errorf("EstimatorCount = %d, want 1", hub.EstimatorCount())
	}
	if hub.GetEstimator("eye-1") == nil {
		t.Error("GetEstimator should return the connected estimator")
	}

	ws.Close()
	time.Sleep(100 * time.Millisecond)

	if hub.EstimatorCount() != 0 {
		t.Errorf("EstimatorCount = %d, want 0 after disconnect", hub.EstimatorCount())
	}
}

func TestGazeForwarded(t *testing.T) {
	sink := &recordingSink{}
	hub := NewHub(sink, nil)
	startServer(t, hub, ":18281")

	ws := dial(t, "ws://localhost:18281/ws/gaze/eye-2")

	msg, _ := protocol.NewGazeMessage(gaze.Sample{X: 100, Y: 200, Confidence: 0.9, Timestamp: 1})
	data, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)
	ws.WriteMessage(websocket.TextMessage, []byte(`{"x":1,"y":2,"confidence":0.7,"ts":1.033}`))

	time.Sleep(100 * time.Millisecond)

	if sink.Len() != 2 {
		t.Fatalf("sink got %d samples, want 2", sink.Len())
	}
	if sink.samples[0].X != 100 || sink.samples[1].Timestamp != 1.033 {
		t.Errorf("samples = %+v", sink.samples)
	}

	stats := hub.GetStats()
	if stats.SamplesReceived != 2 || stats.MessagesReceived != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if est := hub.GetEstimator("eye-2"); est == nil || est.Samples != 2 {
		t.Errorf("estimator sample count not tracked")
	}
}

func TestInvalidGazeRejected(t *testing.T) {
	sink := &recordingSink{}
	hub := NewHub(sink, nil)
	startServer(t, hub, ":18282")

	ws := dial(t, "ws://localhost:18282/ws/gaze/eye-3")
	ws.WriteMessage(websocket.TextMessage, []byte(`{"x":1,"y":2,"confidence":3,"ts":0}`))

	reply := readMessage(t, ws)
	if reply.Type != protocol.TypeError {
		t.Errorf("reply type = %s, want error", reply.Type)
	}
	if sink.Len() != 0 {
		t.Error("invalid sample should not reach the sink")
	}
	if hub.GetStats().SamplesRejected != 1 {
		t.Errorf("SamplesRejected = %d, want 1", hub.GetStats().SamplesRejected)
	}
}

func TestCommandReturnsStatus(t *testing.T) {
	cmdr := &fakeCommander{}
	hub := NewHub(&recordingSink{}, cmdr)
	startServer(t, hub, ":18283")

	ws := dial(t, "ws://localhost:18283/ws/gaze/operator")
	msg, _ := protocol.NewCommandMessage(engine.Command{Kind: engine.CmdStartDwell, Target: 4})
	data, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)

	reply := readMessage(t, ws)
	if reply.Type != protocol.TypeStatus {
		t.Fatalf("reply type = %s, want status", reply.Type)
	}
	st, err := reply.GetStatus()
	if err != nil {
		t.Fatal(err)
	}
	if st.SessionID != "s-1" || st.Trials != 2 {
		t.Errorf("status = %+v", st)
	}

	cmdr.mu.Lock()
	defer cmdr.mu.Unlock()
	if len(cmdr.cmds) != 1 || cmdr.cmds[0].Kind != engine.CmdStartDwell || cmdr.cmds[0].Target != 4 {
		t.Errorf("commands = %+v", cmdr.cmds)
	}
}

func TestCommandError(t *testing.T) {
	hub := NewHub(&recordingSink{}, &fakeCommander{err: engine.ErrNoActiveSession})
	startServer(t, hub, ":18284")

	ws := dial(t, "ws://localhost:18284/ws/gaze/operator")
	msg, _ := protocol.NewCommandMessage(engine.Command{Kind: engine.CmdAbortTrial})
	data, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)

	reply := readMessage(t, ws)
	if reply.Type != protocol.TypeError {
		t.Fatalf("reply type = %s, want error", reply.Type)
	}
	var ed protocol.ErrorData
	_ = reply.ParseData(&ed)
	if ed.Message != engine.ErrNoActiveSession.Error() {
		t.Errorf("error message = %q", ed.Message)
	}
}

func TestPingPong(t *testing.T) {
	hub := NewHub(&recordingSink{}, nil)
	startServer(t, hub, ":18285")

	ws := dial(t, "ws://localhost:18285/ws/gaze")
	ping, _ := protocol.NewPingMessage("p-7")
	data, _ := ping.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)

	reply := readMessage(t, ws)
	if reply.Type != protocol.TypePong {
		t.Fatalf("reply type = %s, want pong", reply.Type)
	}
	var pong protocol.PongData
	_ = reply.ParseData(&pong)
	if pong.ID != "p-7" || pong.PingTS == 0 {
		t.Errorf("pong = %+v", pong)
	}
}

func TestUpgradeRequired(t *testing.T) {
	hub := NewHub(&recordingSink{}, nil)
	app := fiber.New()
	hub.RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/ws/gaze", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}

func TestAPIRoutes(t *testing.T) {
	hub := NewHub(&recordingSink{}, nil)
	app := fiber.New()
	hub.RegisterAPIRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/estimators/stats", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)

	var stats Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("decode stats: %v (%s)", err, body)
	}
	if stats.EstimatorCount != 0 {
		t.Errorf("EstimatorCount = %d", stats.EstimatorCount)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/estimators/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("list status = %d", resp.StatusCode)
	}
}

func TestEndToEndWithRunner(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.Apply(engine.WithGrid(3, 3), engine.WithScreen(300, 300), engine.WithTiming(time.Second, 5*time.Second))
	eng, err := engine.New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	runner := engine.NewRunner(eng, engine.NewInbox(64))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)

	hub := NewHub(runner.Inbox(), runner)
	startServer(t, hub, ":18286")
	ws := dial(t, "ws://localhost:18286/ws/gaze/e2e")

	send := func(cmd engine.Command) {
		msg, _ := protocol.NewCommandMessage(cmd)
		data, _ := msg.Bytes()
		ws.WriteMessage(websocket.TextMessage, data)
		if reply := readMessage(t, ws); reply.Type != protocol.TypeStatus {
			t.Fatalf("%s reply type = %s", cmd.Kind, reply.Type)
		}
	}
	send(engine.Command{Kind: engine.CmdStartSession})
	send(engine.Command{Kind: engine.CmdStartDwell, Target: 4})

	// Region 4 is the centre cell of a 3x3 grid over 300x300.
	for i := 0; i <= 12; i++ {
		msg, _ := protocol.NewGazeMessage(gaze.Sample{X: 150, Y: 150, Confidence: 1, Timestamp: float64(i) * 0.1})
		data, _ := msg.Bytes()
		ws.WriteMessage(websocket.TextMessage, data)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && runner.Status().Trials < 1 {
		time.Sleep(10 * time.Millisecond)
	}
	if runner.Status().Trials != 1 {
		t.Fatalf("expected the dwell trial to complete, status = %+v", runner.Status())
	}
}
