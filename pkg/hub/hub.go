package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-eyetouch/internal/log"
	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/protocol"
)

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Name for logging
	name   string
	logger *slog.Logger

	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for client count (read-only access from outside)
	mu sync.RWMutex

	running atomic.Bool

	// Last status snapshot, replayed to clients as they connect
	lastStatus atomic.Pointer[Message]

	sent        atomic.Uint64
	filtered    atomic.Uint64
	dropped     atomic.Uint64
	slowClients atomic.Uint64
}

// New creates a new Hub
func New(name string) *Hub {
	return &Hub{
		name:       name,
		logger:     log.Component("hub").With("hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
// This should be called in a goroutine
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			if st := h.lastStatus.Load(); st != nil {
				select {
				case client.send <- *st:
					h.sent.Add(1)
				default:
				}
			}
			h.mu.Unlock()
			h.logger.Info("client connected", "total", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "remaining", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(message.Kind) {
					h.filtered.Add(1)
					continue
				}
				select {
				case client.send <- message:
					h.sent.Add(1)
				default:
					// Client's buffer is full, drop it
					close(client.send)
					delete(h.clients, client)
					h.slowClients.Add(1)
					h.logger.Warn("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a message for all connected clients. It never blocks.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast channel full, dropping message", "type", msg.Type)
	}
}

// BroadcastProtocol encodes and broadcasts a protocol message
func (h *Hub) BroadcastProtocol(msg *protocol.Message) error {
	m, err := Encode(msg)
	if err != nil {
		return err
	}
	h.Broadcast(m)
	return nil
}

// Notify implements engine.Notifier by broadcasting the event.
func (h *Hub) Notify(ev engine.Event) {
	msg, err := protocol.NewEventMessage(ev)
	if err != nil {
		h.logger.Warn("failed to encode event", "kind", ev.Kind, "error", err)
		return
	}
	m, err := Encode(msg)
	if err != nil {
		h.logger.Warn("failed to encode event", "kind", ev.Kind, "error", err)
		return
	}
	m.Kind = ev.Kind
	h.Broadcast(m)
}

// PublishStatus broadcasts a status snapshot and keeps it for clients that
// connect later.
func (h *Hub) PublishStatus(st engine.Status) error {
	msg, err := protocol.NewStatusMessage(st)
	if err != nil {
		return err
	}
	m, err := Encode(msg)
	if err != nil {
		return err
	}
	h.lastStatus.Store(&m)
	h.Broadcast(m)
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Stats contains hub statistics
type Stats struct {
	Clients     int    `json:"clients"`
	Sent        uint64 `json:"sent"`
	Filtered    uint64 `json:"filtered"` // Skipped by client subscriptions
	Dropped     uint64 `json:"dropped"`
	SlowClients uint64 `json:"slow_clients"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		Clients:     h.ClientCount(),
		Sent:        h.sent.Load(),
		Filtered:    h.filtered.Load(),
		Dropped:     h.dropped.Load(),
		SlowClients: h.slowClients.Load(),
	}
}
