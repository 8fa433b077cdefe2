package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-eyetouch/pkg/calibration"
)

// Runner owns an Engine and drives it from an Inbox on one goroutine.
// Pending commands are always applied before the next sample.
type Runner struct {
	engine *Engine
	inbox  *Inbox
	logger *slog.Logger

	session *Session
	onEnd   func(*Session)

	processed atomic.Uint64
	faults    atomic.Uint64
	rejected  atomic.Uint64

	mu     sync.RWMutex
	status Status
	last   *Session
}

// NewRunner creates a runner for e fed by in.
func NewRunner(e *Engine, in *Inbox) *Runner {
	r := &Runner{
		engine: e,
		inbox:  in,
		logger: e.logger.With("component", "runner"),
	}
	r.status = e.Status()
	return r
}

// OnSessionEnd registers fn to be called, on the runner goroutine, with each
// ended session.
func (r *Runner) OnSessionEnd(fn func(*Session)) { r.onEnd = fn }

// Inbox returns the runner's inbox.
func (r *Runner) Inbox() *Inbox { return r.inbox }

// Do submits a command and waits for its reply.
func (r *Runner) Do(ctx context.Context, cmd Command) (Reply, error) {
	return r.inbox.Submit(ctx, cmd)
}

// Run processes commands and samples until ctx is done. On cancellation an
// open session is ended, aborting any running trial.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner started", "capacity", r.inbox.Capacity())
	for {
		select {
		case cmd := <-r.inbox.commands:
			r.handle(cmd)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		case cmd := <-r.inbox.commands:
			r.handle(cmd)
		case s := <-r.inbox.samples:
			if r.session == nil {
				continue
			}
			r.processed.Add(1)
			if _, err := r.engine.OnGazeSample(r.session, s); err != nil {
				if IsFault(err) {
					r.faults.Add(1)
					r.logger.Warn("sample fault", "error", err)
				} else {
					r.rejected.Add(1)
					r.logger.Debug("sample rejected", "error", err)
				}
			}
			r.publish()
		}
	}
}

func (r *Runner) shutdown() {
	if r.session == nil {
		return
	}
	if r.engine.ActiveTrial() != nil {
		if _, err := r.engine.AbortTrial(r.session, "shutdown"); err != nil {
			r.logger.Warn("abort on shutdown failed", "error", err)
		}
	}
	r.endSession()
	r.publish()
}

func (r *Runner) endSession() (*Session, error) {
	s := r.session
	if err := r.engine.EndSession(s); err != nil {
		return nil, err
	}
	r.session = nil
	r.mu.Lock()
	r.last = s
	r.mu.Unlock()
	if r.onEnd != nil {
		r.onEnd(s)
	}
	return s, nil
}

func (r *Runner) handle(cmd Command) {
	reply := r.apply(cmd)
	if reply.Err != nil {
		r.logger.Debug("command failed", "kind", cmd.Kind, "error", reply.Err)
	}
	r.publish()
	if cmd.reply != nil {
		cmd.reply <- reply
	}
}

func (r *Runner) apply(cmd Command) Reply {
	e := r.engine
	var rep Reply

	switch cmd.Kind {
	case CmdStartSession:
		s, err := e.StartSession()
		if err != nil {
			return Reply{Err: err}
		}
		r.session = s
		rep.SessionID = s.ID

	case CmdEndSession:
		s, err := r.endSession()
		if err != nil {
			return Reply{Err: err}
		}
		rep.SessionID = s.ID
		rep.Session = s

	case CmdStartDwell:
		id, err := e.StartDwell(r.session, cmd.Target)
		rep.TrialID, rep.Err = id, err

	case CmdStartSelection:
		var id string
		var err error
		if len(cmd.Targets) == 0 {
			id, err = e.StartRandomSelection(r.session, cmd.Count)
		} else {
			id, err = e.StartSelection(r.session, cmd.Targets)
		}
		rep.TrialID, rep.Err = id, err

	case CmdAbortTrial:
		rec, err := e.AbortTrial(r.session, cmd.Reason)
		if err != nil {
			return Reply{Err: err}
		}
		rep.TrialID = rec.ID
		rep.Record = &rec

	case CmdStartCalibration:
		rep.Err = e.StartCalibration(r.session)

	case CmdAddCalibration:
		rep.Err = e.AddCalibrationPoint(r.session, cmd.Point)

	case CmdFinishCalibration:
		t, err := e.FinishCalibration(r.session)
		if err != nil {
			return Reply{Err: err}
		}
		rep.Transform = &t
		rep.Residual = e.mapper.Residual()

	case CmdClearCalibration:
		rep.Err = e.ClearCalibration(r.session)

	case CmdStatus:
		st := e.Status()
		rep.Status = &st

	case CmdSnapshot:
		switch {
		case r.session != nil:
			rep.Session = r.session.snapshot()
		default:
			r.mu.RLock()
			rep.Session = r.last
			r.mu.RUnlock()
		}
		if rep.Session == nil {
			return Reply{Err: ErrNoActiveSession}
		}
		rep.SessionID = rep.Session.ID
		rep.Records = rep.Session.Records()

	default:
		rep.Err = ErrUnknownCommand
	}

	if r.session != nil && rep.SessionID == "" {
		rep.SessionID = r.session.ID
	}
	return rep
}

func (r *Runner) publish() {
	st := r.engine.Status()
	r.mu.Lock()
	r.status = st
	r.mu.Unlock()
}

// Status returns the status published after the last processed item. Safe
// for concurrent use.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// LastEnded returns the most recently ended session, or nil. Ended sessions
// are immutable and safe to read from any goroutine.
func (r *Runner) LastEnded() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Stats reports runner counters.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Processed: r.processed.Load(),
		Faults:    r.faults.Load(),
		Rejected:  r.rejected.Load(),
		Dropped:   r.inbox.Dropped(),
		Pending:   r.inbox.Pending(),
	}
}

// RunnerStats are cumulative runner counters.
type RunnerStats struct {
	Processed uint64 `json:"processed"`
	Faults    uint64 `json:"faults"`
	Rejected  uint64 `json:"rejected"` // Stale samples dropped without a fault
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
}

// CalibrationPoint is a convenience constructor for add_calibration_point.
func CalibrationPoint(regionID int, rawX, rawY float64) Command {
	return Command{Kind: CmdAddCalibration, Point: calibration.Point{TargetRegionID: regionID, RawX: rawX, RawY: rawY}}
}
