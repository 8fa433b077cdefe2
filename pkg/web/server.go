// Package web provides the operator control API and the feedback websocket
// for the eyetouch harness.
package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-eyetouch/internal/log"
	"github.com/teslashibe/go-eyetouch/pkg/archive"
	"github.com/teslashibe/go-eyetouch/pkg/camera"
	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/hub"
	"github.com/teslashibe/go-eyetouch/pkg/ingest"
	"github.com/teslashibe/go-eyetouch/pkg/region"
)

// Controller runs operator commands against the engine. *engine.Runner
// implements it.
type Controller interface {
	Do(ctx context.Context, cmd engine.Command) (engine.Reply, error)
	Status() engine.Status
	LastEnded() *engine.Session
}

// Archive lists and loads archived sessions. *archive.Store implements it.
type Archive interface {
	List(ctx context.Context, limit int) ([]archive.SessionInfo, error)
	Load(ctx context.Context, id string) (*engine.Session, error)
}

// Options wires the server to the rest of the harness. Controller and Grid
// are required; the rest are optional.
type Options struct {
	Addr       string
	StaticDir  string
	Controller Controller
	Grid       *region.Grid
	Feedback   *hub.Hub
	Ingest     *ingest.Hub
	Archive    Archive
	Camera     *camera.Manager

	// CommandTimeout bounds how long a request waits for the engine.
	CommandTimeout time.Duration
}

// EventEntry is one engine event kept for the dashboard.
type EventEntry struct {
	Time  string       `json:"time"`
	Event engine.Event `json:"event"`
}

const maxEvents = 500

// Server is the operator web server
type Server struct {
	app    *fiber.App
	opts   Options
	logger *slog.Logger

	// Recent events (last 500 entries)
	events   []EventEntry
	eventsMu sync.RWMutex
}

// NewServer creates the operator server and registers all routes.
func NewServer(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 5 * time.Second
	}

	s := &Server{
		opts:   opts,
		logger: log.Component("web"),
		events: make([]EventEntry, 0, maxEvents),
	}

	app := fiber.New(fiber.Config{
		AppName:               "eyetouch",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})

	// CORS for stimulus displays served from elsewhere
	app.Use(cors.New())

	if opts.StaticDir != "" {
		app.Static("/", opts.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/regions", s.handleRegions)
	api.Get("/events", s.handleEvents)

	api.Post("/session/start", s.handleStartSession)
	api.Post("/session/end", s.handleEndSession)

	api.Post("/trials/dwell", s.handleStartDwell)
	api.Post("/trials/selection", s.handleStartSelection)
	api.Post("/trials/abort", s.handleAbortTrial)

	api.Post("/calibration/start", s.handleStartCalibration)
	api.Post("/calibration/points", s.handleAddCalibrationPoint)
	api.Post("/calibration/finish", s.handleFinishCalibration)
	api.Post("/calibration/clear", s.handleClearCalibration)

	api.Get("/sessions/current", s.handleCurrentSession)
	api.Get("/sessions/current/summary", s.handleCurrentSummary)
	api.Get("/sessions/current/export", s.handleCurrentExport)

	api.Get("/archive", s.handleListArchive)
	api.Get("/archive/:id/summary", s.handleArchivedSummary)
	api.Get("/archive/:id/export", s.handleArchivedExport)

	if opts.Camera != nil {
		api.Get("/camera", s.handleGetCamera)
		api.Put("/camera", s.handleUpdateCamera)
		api.Get("/camera/capabilities", s.handleCameraCapabilities)
	}

	if opts.Ingest != nil {
		opts.Ingest.RegisterRoutes(app)
		opts.Ingest.RegisterAPIRoutes(api)
	}

	if opts.Feedback != nil {
		api.Get("/feedback/stats", func(c *fiber.Ctx) error {
			return c.JSON(opts.Feedback.GetStats())
		})

		// WebSocket upgrade middleware
		app.Use("/ws/feedback", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/feedback", opts.Feedback.Handler())
	}

	s.app = app
	return s
}

// App exposes the fiber app for tests and embedding.
func (s *Server) App() *fiber.App { return s.app }

// Start starts the web server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("operator api listening", "addr", s.opts.Addr)
	return s.app.Listen(s.opts.Addr)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server error", "error", err)
		}
	}()
}

// Notify implements engine.Notifier by keeping recent events for the
// dashboard.
func (s *Server) Notify(ev engine.Event) {
	if ev.Kind == engine.EventDwellProgress {
		return
	}
	entry := EventEntry{
		Time:  time.Now().Format("15:04:05"),
		Event: ev,
	}

	s.eventsMu.Lock()
	s.events = append(s.events, entry)
	if len(s.events) > maxEvents {
		s.events = s.events[1:]
	}
	s.eventsMu.Unlock()
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
