package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/gaze"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewGazeMessage wraps a gaze sample
func NewGazeMessage(s gaze.Sample) (*Message, error) {
	return NewMessage(TypeGaze, s)
}

// NewCommandMessage wraps an engine command
func NewCommandMessage(cmd engine.Command) (*Message, error) {
	return NewMessage(TypeCommand, cmd)
}

// NewEventMessage wraps an engine event
func NewEventMessage(ev engine.Event) (*Message, error) {
	return NewMessage(TypeEvent, ev)
}

// NewStatusMessage wraps an engine status snapshot
func NewStatusMessage(st engine.Status) (*Message, error) {
	return NewMessage(TypeStatus, st)
}

// NewErrorMessage reports rejected input
func NewErrorMessage(err error) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: err.Error()})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: time.Now().UnixMilli()})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetGaze extracts a gaze sample from a message
func (m *Message) GetGaze() (gaze.Sample, error) {
	var s gaze.Sample
	if m.Type != TypeGaze {
		return s, fmt.Errorf("expected %s message, got %q", TypeGaze, m.Type)
	}
	err := m.ParseData(&s)
	return s, err
}

// GetCommand extracts an engine command from a message
func (m *Message) GetCommand() (engine.Command, error) {
	var cmd engine.Command
	if m.Type != TypeCommand {
		return cmd, fmt.Errorf("expected %s message, got %q", TypeCommand, m.Type)
	}
	err := m.ParseData(&cmd)
	return cmd, err
}

// GetEvent extracts an engine event from a message
func (m *Message) GetEvent() (engine.Event, error) {
	var ev engine.Event
	err := m.ParseData(&ev)
	return ev, err
}

// GetStatus extracts a status snapshot from a message
func (m *Message) GetStatus() (engine.Status, error) {
	var st engine.Status
	err := m.ParseData(&st)
	return st, err
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeGaze accepts either a gaze envelope or a bare sample object, as
// published by simple estimators.
func DecodeGaze(data []byte) (gaze.Sample, error) {
	var probe struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return gaze.Sample{}, fmt.Errorf("failed to parse message: %w", err)
	}
	if probe.Type == "" {
		var s gaze.Sample
		if err := json.Unmarshal(data, &s); err != nil {
			return gaze.Sample{}, fmt.Errorf("failed to parse sample: %w", err)
		}
		return s, nil
	}
	msg, err := ParseMessage(data)
	if err != nil {
		return gaze.Sample{}, err
	}
	return msg.GetGaze()
}
