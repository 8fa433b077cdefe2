// Package hub provides the feedback websocket: a thread-safe broadcast hub
// that fans engine events out to operator and stimulus displays using the
// idiomatic Go channel-based fan-out pattern.
package hub

import (
	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/protocol"
)

// Message is one encoded protocol envelope queued for clients.
type Message struct {
	Type protocol.MessageType
	Kind engine.EventKind // Set for event messages, used by client filters
	Data []byte
}

// Subscription is what a display sends to choose which event kinds it
// receives. An empty list restores the default of every kind. Status
// snapshots are always delivered.
type Subscription struct {
	Events []engine.EventKind `json:"events"`
}

// Encode prepares a protocol message for broadcast.
func Encode(msg *protocol.Message) (Message, error) {
	data, err := msg.Bytes()
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msg.Type, Data: data}, nil
}
