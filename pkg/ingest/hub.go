// Package ingest provides the WebSocket endpoint gaze estimators stream into.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-eyetouch/internal/log"
	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/gaze"
	"github.com/teslashibe/go-eyetouch/pkg/protocol"
)

// Sink accepts gaze samples without blocking.
type Sink interface {
	PushSample(gaze.Sample) bool
}

// Commander executes operator commands. *engine.Runner implements it.
type Commander interface {
	Do(ctx context.Context, cmd engine.Command) (engine.Reply, error)
	Status() engine.Status
}

// EstimatorConnection represents a connected gaze estimator
type EstimatorConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time
	Samples   uint64

	mu sync.Mutex
}

// Send sends a message to the estimator
func (e *EstimatorConnection) Send(msg *protocol.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	return e.Conn.WriteMessage(websocket.TextMessage, data)
}

// Hub manages WebSocket connections from gaze estimators
type Hub struct {
	mu         sync.RWMutex
	estimators map[string]*EstimatorConnection
	sink       Sink
	commander  Commander
	logger     *slog.Logger

	// CommandTimeout bounds how long a command sent over the socket waits
	// for the engine.
	CommandTimeout time.Duration

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	samplesReceived  atomic.Uint64
	samplesRejected  atomic.Uint64
	samplesDisplaced atomic.Uint64
	commandsReceived atomic.Uint64
}

// NewHub creates an ingest hub. commander may be nil, in which case command
// messages are rejected.
func NewHub(sink Sink, commander Commander) *Hub {
	return &Hub{
		estimators:     make(map[string]*EstimatorConnection),
		sink:           sink,
		commander:      commander,
		logger:         log.Component("ingest"),
		CommandTimeout: 5 * time.Second,
	}
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/gaze", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/gaze", websocket.New(h.handleEstimator))
	app.Get("/ws/gaze/:id", websocket.New(h.handleEstimator))
}

// handleEstimator handles an estimator WebSocket connection
func (h *Hub) handleEstimator(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = generateEstimatorID()
	}

	est := &EstimatorConnection{
		ID:        id,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	h.mu.Lock()
	h.estimators[id] = est
	count := len(h.estimators)
	h.mu.Unlock()

	h.logger.Info("estimator connected", "id", id, "total", count)

	defer func() {
		h.mu.Lock()
		if h.estimators[id] == est {
			delete(h.estimators, id)
		}
		count := len(h.estimators)
		h.mu.Unlock()

		h.logger.Info("estimator disconnected", "id", id, "total", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("estimator read ended", "id", id, "error", err)
			return
		}

		est.mu.Lock()
		est.LastSeen = time.Now()
		est.mu.Unlock()

		h.messagesReceived.Add(1)
		h.handleMessage(est, data)
	}
}

// handleMessage processes one incoming message. Bare sample objects are
// accepted as gaze.
func (h *Hub) handleMessage(est *EstimatorConnection, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil || msg.Type == "" {
		h.handleGaze(est, data)
		return
	}

	switch msg.Type {
	case protocol.TypeGaze:
		h.handleGaze(est, data)

	case protocol.TypeCommand:
		h.commandsReceived.Add(1)
		h.handleCommand(est, msg)

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		pingTS := msg.Timestamp
		pingID := ""
		if err == nil && ping.Timestamp != 0 {
			pingTS, pingID = ping.Timestamp, ping.ID
		}
		h.sendPong(est, pingID, pingTS)

	default:
		h.logger.Debug("ignoring message", "id", est.ID, "type", msg.Type)
	}
}

func (h *Hub) handleGaze(est *EstimatorConnection, data []byte) {
	s, err := protocol.DecodeGaze(data)
	if err == nil {
		err = s.Validate()
	}
	if err != nil {
		h.samplesRejected.Add(1)
		h.logger.Debug("rejected gaze message", "id", est.ID, "error", err)
		h.send(est, func() (*protocol.Message, error) { return protocol.NewErrorMessage(err) })
		return
	}

	h.samplesReceived.Add(1)
	est.mu.Lock()
	est.Samples++
	est.mu.Unlock()
	if !h.sink.PushSample(s) {
		h.samplesDisplaced.Add(1)
	}
}

func (h *Hub) handleCommand(est *EstimatorConnection, msg *protocol.Message) {
	cmd, err := msg.GetCommand()
	if err == nil && h.commander == nil {
		err = engine.ErrUnknownCommand
	}
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.CommandTimeout)
		_, err = h.commander.Do(ctx, cmd)
		cancel()
	}
	if err != nil {
		h.logger.Warn("command failed", "id", est.ID, "kind", cmd.Kind, "error", err)
		h.send(est, func() (*protocol.Message, error) { return protocol.NewErrorMessage(err) })
		return
	}
	h.send(est, func() (*protocol.Message, error) { return protocol.NewStatusMessage(h.commander.Status()) })
}

func (h *Hub) sendPong(est *EstimatorConnection, id string, pingTS int64) {
	h.send(est, func() (*protocol.Message, error) {
		return protocol.NewPongMessage(id, pingTS, time.Now().UnixMilli())
	})
}

func (h *Hub) send(est *EstimatorConnection, build func() (*protocol.Message, error)) {
	msg, err := build()
	if err != nil {
		h.logger.Warn("failed to build reply", "id", est.ID, "error", err)
		return
	}
	h.messagesSent.Add(1)
	if err := est.Send(msg); err != nil {
		h.logger.Debug("reply failed", "id", est.ID, "error", err)
	}
}

// GetEstimator returns an estimator connection by ID
func (h *Hub) GetEstimator(id string) *EstimatorConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.estimators[id]
}

// EstimatorCount returns the number of connected estimators
func (h *Hub) EstimatorCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.estimators)
}

// Stats contains hub statistics
type Stats struct {
	EstimatorCount   int    `json:"estimator_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	SamplesReceived  uint64 `json:"samples_received"`
	SamplesRejected  uint64 `json:"samples_rejected"`
	SamplesDisplaced uint64 `json:"samples_displaced"`
	CommandsReceived uint64 `json:"commands_received"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		EstimatorCount:   h.EstimatorCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		SamplesReceived:  h.samplesReceived.Load(),
		SamplesRejected:  h.samplesRejected.Load(),
		SamplesDisplaced: h.samplesDisplaced.Load(),
		CommandsReceived: h.commandsReceived.Load(),
	}
}

// EstimatorInfo contains info about a connected estimator
type EstimatorInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Samples   uint64    `json:"samples"`
}

// GetEstimatorInfos returns info about all connected estimators
func (h *Hub) GetEstimatorInfos() []EstimatorInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]EstimatorInfo, 0, len(h.estimators))
	for _, e := range h.estimators {
		e.mu.Lock()
		infos = append(infos, EstimatorInfo{
			ID:        e.ID,
			Connected: e.Connected,
			LastSeen:  e.LastSeen,
			Samples:   e.Samples,
		})
		e.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers API routes for estimator monitoring
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	estimators := api.Group("/estimators")

	estimators.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"estimators": h.GetEstimatorInfos(),
			"count":      h.EstimatorCount(),
		})
	})

	estimators.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})
}

func generateEstimatorID() string {
	return "est-" + uuid.NewString()[:8]
}
