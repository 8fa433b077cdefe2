package hub

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-eyetouch/pkg/engine"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds what a display may send us
	maxMessageSize = 4 * 1024

	// sendBuffer is how many events a client may fall behind
	sendBuffer = 256
)

// Client represents a single websocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	// Event kinds this client asked for; nil means all
	filter atomic.Pointer[map[engine.EventKind]bool]
}

// Subscribe restricts the event kinds delivered to this client. No kinds
// means every kind.
func (c *Client) Subscribe(kinds ...engine.EventKind) {
	if len(kinds) == 0 {
		c.filter.Store(nil)
		return
	}
	set := make(map[engine.EventKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	c.filter.Store(&set)
}

// wants reports whether a message of kind should go to this client.
// Messages without a kind (status snapshots) always pass.
func (c *Client) wants(kind engine.EventKind) bool {
	if kind == "" {
		return true
	}
	set := c.filter.Load()
	return set == nil || (*set)[kind]
}

// NewClient creates a new client and registers it with the hub. It returns
// nil if the hub has stopped.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan Message, sendBuffer),
	}
	select {
	case hub.register <- client:
		return client
	case <-hub.done:
		return nil
	}
}

// Run starts the client's read and write pumps
// This should be called in the websocket handler
func (c *Client) Run() {
	go c.writePump()
	c.readPump() // Blocks until connection closes
}

// Handler returns a fiber handler that attaches each websocket connection
// to the hub. The hub must be running.
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		if client := NewClient(h, conn); client != nil {
			client.Run()
		}
	})
}

// readPump reads messages from the websocket connection
// It keeps the connection alive and detects disconnection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Displays only send subscriptions; reading also detects
		// disconnection and receives pong responses
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var sub Subscription
		if err := json.Unmarshal(data, &sub); err != nil {
			c.hub.logger.Debug("ignoring display message", "error", err)
			continue
		}
		c.Subscribe(sub.Events...)
	}
}

// writePump writes messages to the websocket connection
// Only this goroutine writes to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel, send close frame
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
