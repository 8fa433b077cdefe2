package web

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-eyetouch/pkg/archive"
	"github.com/teslashibe/go-eyetouch/pkg/calibration"
	"github.com/teslashibe/go-eyetouch/pkg/camera"
	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/region"
	"github.com/teslashibe/go-eyetouch/pkg/results"
	"github.com/teslashibe/go-eyetouch/pkg/trial"
)

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidTrialConfiguration),
		errors.Is(err, engine.ErrMalformedSample),
		errors.Is(err, engine.ErrUnknownCommand),
		errors.Is(err, calibration.ErrUnknownRegion):
		return fiber.StatusBadRequest
	case errors.Is(err, engine.ErrSessionAlreadyActive),
		errors.Is(err, engine.ErrNoActiveSession),
		errors.Is(err, engine.ErrSessionMismatch),
		errors.Is(err, engine.ErrTrialInProgress),
		errors.Is(err, engine.ErrCalibrationInProgress),
		errors.Is(err, engine.ErrNoActiveTrial),
		errors.Is(err, engine.ErrCalibrationNotStarted),
		errors.Is(err, results.ErrSessionOpen):
		return fiber.StatusConflict
	case errors.Is(err, calibration.ErrInsufficientCalibrationData),
		errors.Is(err, calibration.ErrDegenerateCalibration):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, archive.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

// errorHandler renders every handler error as {"error": "..."}.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// do runs one command with the request timeout.
func (s *Server) do(c *fiber.Ctx, cmd engine.Command) (engine.Reply, error) {
	ctx, cancel := context.WithTimeout(c.UserContext(), s.opts.CommandTimeout)
	defer cancel()
	return s.opts.Controller.Do(ctx, cmd)
}

// handleStatus returns the engine status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.opts.Controller.Status())
}

// RegionInfo describes one grid cell for stimulus displays.
type RegionInfo struct {
	region.Region
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
}

// handleRegions returns the grid layout
func (s *Server) handleRegions(c *fiber.Ctx) error {
	g := s.opts.Grid
	infos := make([]RegionInfo, 0, g.Len())
	for _, r := range g.Regions() {
		x, y := r.Center()
		infos = append(infos, RegionInfo{Region: r, CenterX: x, CenterY: y})
	}
	return c.JSON(fiber.Map{
		"rows":    g.Rows(),
		"cols":    g.Cols(),
		"screen":  g.Bounds(),
		"regions": infos,
	})
}

// handleEvents returns recent engine events
func (s *Server) handleEvents(c *fiber.Ctx) error {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	return c.JSON(s.events)
}

func (s *Server) handleStartSession(c *fiber.Ctx) error {
	rep, err := s.do(c, engine.Command{Kind: engine.CmdStartSession})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session_id": rep.SessionID})
}

func (s *Server) handleEndSession(c *fiber.Ctx) error {
	rep, err := s.do(c, engine.Command{Kind: engine.CmdEndSession})
	if err != nil {
		return err
	}
	return c.JSON(results.Summarize(rep.Session))
}

// DwellRequest is the body of POST /api/trials/dwell
type DwellRequest struct {
	Target int `json:"target"`
}

func (s *Server) handleStartDwell(c *fiber.Ctx) error {
	var req DwellRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	rep, err := s.do(c, engine.Command{Kind: engine.CmdStartDwell, Target: req.Target})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"trial_id": rep.TrialID})
}

// SelectionRequest is the body of POST /api/trials/selection. Without
// targets a random sequence of count regions is drawn.
type SelectionRequest struct {
	Targets []int `json:"targets"`
	Count   int   `json:"count"`
}

func (s *Server) handleStartSelection(c *fiber.Ctx) error {
	var req SelectionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	rep, err := s.do(c, engine.Command{Kind: engine.CmdStartSelection, Targets: req.Targets, Count: req.Count})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"trial_id": rep.TrialID})
}

// AbortRequest is the body of POST /api/trials/abort
type AbortRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAbortTrial(c *fiber.Ctx) error {
	var req AbortRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	rep, err := s.do(c, engine.Command{Kind: engine.CmdAbortTrial, Reason: req.Reason})
	if err != nil {
		return err
	}
	return c.JSON(rep.Record)
}

func (s *Server) handleStartCalibration(c *fiber.Ctx) error {
	if _, err := s.do(c, engine.Command{Kind: engine.CmdStartCalibration}); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "calibrating"})
}

func (s *Server) handleAddCalibrationPoint(c *fiber.Ctx) error {
	var p calibration.Point
	if err := c.BodyParser(&p); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if _, err := s.do(c, engine.Command{Kind: engine.CmdAddCalibration, Point: p}); err != nil {
		return err
	}
	st := s.opts.Controller.Status()
	return c.JSON(fiber.Map{"collected": st.Collected})
}

func (s *Server) handleFinishCalibration(c *fiber.Ctx) error {
	rep, err := s.do(c, engine.Command{Kind: engine.CmdFinishCalibration})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"transform": rep.Transform,
		"residual":  rep.Residual,
	})
}

func (s *Server) handleClearCalibration(c *fiber.Ctx) error {
	if _, err := s.do(c, engine.Command{Kind: engine.CmdClearCalibration}); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "cleared"})
}

// current returns the live session snapshot, or the last ended session.
func (s *Server) current(c *fiber.Ctx) (*engine.Session, error) {
	rep, err := s.do(c, engine.Command{Kind: engine.CmdSnapshot})
	if err != nil {
		return nil, err
	}
	return rep.Session, nil
}

// SessionView is the JSON view of a session.
type SessionView struct {
	ID        string          `json:"id"`
	StartedAt string          `json:"started_at"`
	Ended     bool            `json:"ended"`
	Summary   results.Summary `json:"summary"`
	Records   []trial.Record  `json:"records"`
}

func (s *Server) handleCurrentSession(c *fiber.Ctx) error {
	sess, err := s.current(c)
	if err != nil {
		return err
	}
	return c.JSON(SessionView{
		ID:        sess.ID,
		StartedAt: sess.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		Ended:     sess.Ended(),
		Summary:   results.Summarize(sess),
		Records:   sess.Records(),
	})
}

func (s *Server) handleCurrentSummary(c *fiber.Ctx) error {
	sess, err := s.current(c)
	if err != nil {
		return err
	}
	return c.JSON(results.Summarize(sess))
}

func (s *Server) handleCurrentExport(c *fiber.Ctx) error {
	sess, err := s.current(c)
	if err != nil {
		return err
	}
	return s.sendCSV(c, sess)
}

func (s *Server) sendCSV(c *fiber.Ctx, sess *engine.Session) error {
	data, err := results.Export(sess)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="session-`+sess.ID+`.csv"`)
	return c.Send(data)
}

func (s *Server) archive() (Archive, error) {
	if s.opts.Archive == nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "archive not configured")
	}
	return s.opts.Archive, nil
}

func (s *Server) handleListArchive(c *fiber.Ctx) error {
	a, err := s.archive()
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	infos, err := a.List(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"sessions": infos, "count": len(infos)})
}

func (s *Server) loadArchived(c *fiber.Ctx) (*engine.Session, error) {
	a, err := s.archive()
	if err != nil {
		return nil, err
	}
	return a.Load(c.UserContext(), c.Params("id"))
}

func (s *Server) handleArchivedSummary(c *fiber.Ctx) error {
	sess, err := s.loadArchived(c)
	if err != nil {
		return err
	}
	return c.JSON(results.Summarize(sess))
}

func (s *Server) handleArchivedExport(c *fiber.Ctx) error {
	sess, err := s.loadArchived(c)
	if err != nil {
		return err
	}
	return s.sendCSV(c, sess)
}

func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	return c.JSON(s.opts.Camera.State())
}

func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	var patch camera.Patch
	if err := c.BodyParser(&patch); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if _, err := s.opts.Camera.Apply(patch); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(s.opts.Camera.State())
}

func (s *Server) handleCameraCapabilities(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"capabilities": camera.Capabilities(),
	})
}
