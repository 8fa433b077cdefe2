package protocol

import (
	"errors"
	"testing"

	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/gaze"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
		wantErr bool
	}{
		{
			name:    "gaze message",
			msgType: TypeGaze,
			data:    gaze.Sample{X: 10, Y: 20, Confidence: 0.9, Timestamp: 1.5},
		},
		{
			name:    "command message",
			msgType: TypeCommand,
			data:    engine.Command{Kind: engine.CmdStartDwell, Target: 4},
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
		},
		{
			name:    "unencodable data",
			msgType: TypeEvent,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestGazeRoundTrip(t *testing.T) {
	orig := gaze.Sample{X: 960.5, Y: 540.25, Confidence: 0.85, Timestamp: 12.034}

	msg, err := NewGazeMessage(orig)
	if err != nil {
		t.Fatalf("NewGazeMessage() error = %v", err)
	}
	raw, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	got, err := DecodeGaze(raw)
	if err != nil {
		t.Fatalf("DecodeGaze() error = %v", err)
	}
	if got != orig {
		t.Errorf("DecodeGaze() = %+v, want %+v", got, orig)
	}
}

func TestDecodeGaze_BareSample(t *testing.T) {
	got, err := DecodeGaze([]byte(`{"x":1,"y":2,"confidence":0.5,"ts":3.25}`))
	if err != nil {
		t.Fatalf("DecodeGaze() error = %v", err)
	}
	want := gaze.Sample{X: 1, Y: 2, Confidence: 0.5, Timestamp: 3.25}
	if got != want {
		t.Errorf("DecodeGaze() = %+v, want %+v", got, want)
	}
}

func TestDecodeGaze_WrongType(t *testing.T) {
	msg, _ := NewCommandMessage(engine.Command{Kind: engine.CmdAbortTrial})
	raw, _ := msg.Bytes()
	if _, err := DecodeGaze(raw); err == nil {
		t.Error("expected a command envelope to be rejected as gaze")
	}
	if _, err := DecodeGaze([]byte("not json")); err == nil {
		t.Error("expected garbage to be rejected")
	}
}

func TestCommandRoundTrip(t *testing.T) {
	msg, err := NewCommandMessage(engine.Command{Kind: engine.CmdStartSelection, Targets: []int{2, 5, 7}})
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := msg.Bytes()
	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	cmd, err := parsed.GetCommand()
	if err != nil {
		t.Fatalf("GetCommand() error = %v", err)
	}
	if cmd.Kind != engine.CmdStartSelection || len(cmd.Targets) != 3 || cmd.Targets[2] != 7 {
		t.Errorf("GetCommand() = %+v", cmd)
	}
}

func TestEventMessage(t *testing.T) {
	msg, err := NewEventMessage(engine.Event{Kind: engine.EventDwellProgress, Target: 4, Progress: 0.5, Region: 4})
	if err != nil {
		t.Fatal(err)
	}
	ev, err := msg.GetEvent()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != engine.EventDwellProgress || ev.Progress != 0.5 {
		t.Errorf("GetEvent() = %+v", ev)
	}
}

func TestErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(errors.New("bad sample"))
	if err != nil {
		t.Fatal(err)
	}
	var data ErrorData
	if err := msg.ParseData(&data); err != nil {
		t.Fatal(err)
	}
	if data.Message != "bad sample" {
		t.Errorf("Message = %q", data.Message)
	}
}

func TestPingPong(t *testing.T) {
	ping, err := NewPingMessage("abc")
	if err != nil {
		t.Fatal(err)
	}
	pd, err := ping.GetPingData()
	if err != nil {
		t.Fatal(err)
	}
	if pd.ID != "abc" || pd.Timestamp == 0 {
		t.Errorf("ping data = %+v", pd)
	}

	pong, err := NewPongMessage(pd.ID, pd.Timestamp, pd.Timestamp+7)
	if err != nil {
		t.Fatal(err)
	}
	var data PongData
	if err := pong.ParseData(&data); err != nil {
		t.Fatal(err)
	}
	if data.LatencyMs != 7 {
		t.Errorf("LatencyMs = %d, want 7", data.LatencyMs)
	}
}
