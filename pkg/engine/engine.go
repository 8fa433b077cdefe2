// Package engine turns a serialized stream of gaze samples and operator
// commands into scored trial records.
//
// Engine methods are not safe for concurrent use. Producers hand samples and
// commands to an Inbox and a single Runner goroutine drives the engine.
package engine

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-eyetouch/pkg/calibration"
	"github.com/teslashibe/go-eyetouch/pkg/gaze"
	"github.com/teslashibe/go-eyetouch/pkg/region"
	"github.com/teslashibe/go-eyetouch/pkg/trajectory"
	"github.com/teslashibe/go-eyetouch/pkg/trial"
)

// Engine owns the region grid, the calibration mapper and the active trial.
type Engine struct {
	cfg      Config
	grid     *region.Grid
	mapper   *calibration.Mapper
	notifier Notifier
	logger   *slog.Logger
	rng      *rand.Rand

	session     *Session
	active      trial.Test
	calibrating bool
	lastTS      float64
	haveTS      bool // lastTS came from a sample of the current session
	lastRegion  int
}

// New creates an engine from cfg. notifier may be nil.
func New(cfg Config, notifier Notifier) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	grid, err := region.Build(cfg.GridRows, cfg.GridCols, cfg.Screen())
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = discard{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		grid:       grid,
		mapper:     calibration.NewMapper(grid, cfg.CalibrationPoints),
		notifier:   notifier,
		logger:     logger.With("component", "engine"),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		lastRegion: trajectory.NoRegion,
	}, nil
}

// SetRand replaces the random source used for generated selection sequences.
func (e *Engine) SetRand(rng *rand.Rand) { e.rng = rng }

// Grid returns the read-only region grid.
func (e *Engine) Grid() *region.Grid { return e.grid }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Session returns the active session, or nil.
func (e *Engine) Session() *Session { return e.session }

// Transform returns the fitted calibration transform and whether one exists.
func (e *Engine) Transform() (calibration.Transform, bool) { return e.mapper.Transform() }

// StartSession opens a new session. Only one session may be active.
func (e *Engine) StartSession() (*Session, error) {
	if e.session != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyActive, e.session.ID)
	}
	cfg := e.cfg
	cfg.Logger = nil
	s := &Session{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		Config:    cfg,
	}
	e.session = s
	e.lastTS, e.haveTS = 0, false
	e.lastRegion = trajectory.NoRegion
	e.logger.Info("session started", "session", s.ID)
	e.notifier.Notify(Event{Kind: EventSessionStarted, SessionID: s.ID, Region: trajectory.NoRegion, Previous: trajectory.NoRegion})
	return s, nil
}

// EndSession closes the session. A running trial is aborted and recorded.
func (e *Engine) EndSession(s *Session) error {
	if err := e.check(s); err != nil {
		return err
	}
	if e.active != nil {
		e.finishActive(e.active.Abort(e.lastTS, "session ended"))
	}
	e.calibrating = false
	s.ended = true
	s.EndedAt = time.Now()
	e.session = nil
	e.logger.Info("session ended", "session", s.ID, "trials", s.Len())
	e.notifier.Notify(Event{Kind: EventSessionEnded, SessionID: s.ID, Region: trajectory.NoRegion, Previous: trajectory.NoRegion, Timestamp: e.lastTS})
	return nil
}

func (e *Engine) check(s *Session) error {
	if e.session == nil {
		return ErrNoActiveSession
	}
	if s != e.session {
		return ErrSessionMismatch
	}
	return nil
}

func (e *Engine) canStartTrial(s *Session) error {
	if err := e.check(s); err != nil {
		return err
	}
	if e.active != nil {
		return fmt.Errorf("%w: %s", ErrTrialInProgress, e.active.ID())
	}
	if e.calibrating {
		return ErrCalibrationInProgress
	}
	return nil
}

// StartDwell arms a dwell trial on target and returns its id.
func (e *Engine) StartDwell(s *Session, target int) (string, error) {
	if err := e.canStartTrial(s); err != nil {
		return "", err
	}
	if !e.grid.Has(target) {
		return "", fmt.Errorf("%w: target region %d not in %dx%d grid", ErrInvalidTrialConfiguration, target, e.grid.Rows(), e.grid.Cols())
	}
	t := trial.NewDwellTest(uuid.New().String(), target, e.cfg.Params())
	return e.arm(t)
}

// StartSelection arms a selection sequence over targets and returns its id.
func (e *Engine) StartSelection(s *Session, targets []int) (string, error) {
	if err := e.canStartTrial(s); err != nil {
		return "", err
	}
	if len(targets) == 0 {
		return "", fmt.Errorf("%w: empty target sequence", ErrInvalidTrialConfiguration)
	}
	for _, id := range targets {
		if !e.grid.Has(id) {
			return "", fmt.Errorf("%w: target region %d not in grid", ErrInvalidTrialConfiguration, id)
		}
	}
	t, err := trial.NewSelectionTest(uuid.New().String(), targets, e.cfg.Params())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTrialConfiguration, err)
	}
	return e.arm(t)
}

// StartRandomSelection arms a selection over count distinct random regions.
// count <= 0 uses the configured default; a count above the number of
// regions is clamped to it.
func (e *Engine) StartRandomSelection(s *Session, count int) (string, error) {
	if err := e.canStartTrial(s); err != nil {
		return "", err
	}
	if count <= 0 {
		count = e.cfg.SelectionCount
	}
	count = min(count, e.grid.Len())
	return e.StartSelection(s, e.grid.Sample(count, e.rng))
}

func (e *Engine) arm(t trial.Test) (string, error) {
	from := t.State()
	if err := t.Arm(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTrialConfiguration, err)
	}
	e.active = t
	e.logger.Info("trial armed", "trial", t.ID(), "type", t.Type(), "target", t.Target())
	e.notifier.Notify(e.trialEvent(EventTrialStateChanged, trial.Transition{
		From: from, To: t.State(), Target: t.Target(),
	}))
	return t.ID(), nil
}

// AbortTrial aborts the running trial. The end time is the latest sample
// timestamp seen by the engine.
func (e *Engine) AbortTrial(s *Session, reason string) (trial.Record, error) {
	if err := e.check(s); err != nil {
		return trial.Record{}, err
	}
	if e.active == nil {
		return trial.Record{}, ErrNoActiveTrial
	}
	if reason == "" {
		reason = "operator abort"
	}
	t := e.active
	e.finishActive(t.Abort(e.lastTS, reason))
	return t.Record(), nil
}

// ActiveTrial returns the running trial, or nil.
func (e *Engine) ActiveTrial() trial.Test { return e.active }

// finishActive emits the final transition and moves the record into the
// session.
func (e *Engine) finishActive(tr trial.Transition) {
	t := e.active
	e.active = nil
	rec := t.Record()
	if e.session != nil {
		e.session.add(rec)
	}
	if tr.Changed() {
		e.notifier.Notify(e.trialEventFor(t, EventTrialStateChanged, tr))
	}
	e.logger.Info("trial completed", "trial", rec.ID, "type", rec.Type, "outcome", rec.Outcome,
		"duration", rec.Duration(), "samples", len(rec.Trajectory))
	ev := e.trialEventFor(t, EventTrialCompleted, tr)
	ev.Outcome = rec.Outcome
	ev.Error = rec.Reason
	e.notifier.Notify(ev)
}

func (e *Engine) trialEvent(kind EventKind, tr trial.Transition) Event {
	return e.trialEventFor(e.active, kind, tr)
}

func (e *Engine) trialEventFor(t trial.Test, kind EventKind, tr trial.Transition) Event {
	ev := Event{
		Kind:      kind,
		From:      tr.From.String(),
		State:     tr.To.String(),
		Target:    tr.Target,
		Step:      tr.Step,
		Progress:  tr.Progress,
		Region:    e.lastRegion,
		Previous:  e.lastRegion,
		Timestamp: e.lastTS,
	}
	if e.session != nil {
		ev.SessionID = e.session.ID
	}
	if t != nil {
		ev.TrialID = t.ID()
		ev.TrialType = t.Type()
	}
	return ev
}

// StartCalibration begins a calibration pass, discarding any previous
// transform and collected points.
func (e *Engine) StartCalibration(s *Session) error {
	if err := e.check(s); err != nil {
		return err
	}
	if e.active != nil {
		return fmt.Errorf("%w: %s", ErrTrialInProgress, e.active.ID())
	}
	e.mapper.Reset()
	e.calibrating = true
	e.logger.Info("calibration started", "min_points", e.mapper.MinPoints())
	return nil
}

// AddCalibrationPoint records one correspondence.
func (e *Engine) AddCalibrationPoint(s *Session, p calibration.Point) error {
	if err := e.check(s); err != nil {
		return err
	}
	if !e.calibrating {
		return ErrCalibrationNotStarted
	}
	if err := e.mapper.Collect(p); err != nil {
		return err
	}
	e.logger.Debug("calibration point", "region", p.TargetRegionID, "collected", e.mapper.Collected())
	return nil
}

// FinishCalibration fits the transform. With too few points the pass stays
// open so the operator can collect more.
func (e *Engine) FinishCalibration(s *Session) (calibration.Transform, error) {
	if err := e.check(s); err != nil {
		return calibration.Transform{}, err
	}
	if !e.calibrating {
		return calibration.Transform{}, ErrCalibrationNotStarted
	}
	t, err := e.mapper.Fit()
	if err != nil {
		e.logger.Warn("calibration fit failed", "error", err)
		return calibration.Transform{}, err
	}
	e.calibrating = false
	e.logger.Info("calibration finished", "residual_px", e.mapper.Residual())
	e.notifier.Notify(Event{
		Kind:      EventCalibrationFinished,
		SessionID: s.ID,
		Region:    e.lastRegion,
		Previous:  e.lastRegion,
		Residual:  e.mapper.Residual(),
		Timestamp: e.lastTS,
	})
	return t, nil
}

// ClearCalibration discards the transform and ends any calibration pass.
func (e *Engine) ClearCalibration(s *Session) error {
	if err := e.check(s); err != nil {
		return err
	}
	if e.active != nil {
		return fmt.Errorf("%w: %s", ErrTrialInProgress, e.active.ID())
	}
	e.mapper.Reset()
	e.calibrating = false
	return nil
}

// Calibrating reports whether a calibration pass is open.
func (e *Engine) Calibrating() bool { return e.calibrating }

// OnGazeSample processes one sample: calibration transform, region lookup,
// then the active trial. It must be called serially.
//
// A malformed sample or a panic while processing aborts the running trial
// and returns a *FaultError; the session stays usable. A sample older than
// the last one processed is dropped with ErrStaleSample and touches no state.
func (e *Engine) OnGazeSample(s *Session, sample gaze.Sample) (tr trial.Transition, err error) {
	if err := e.check(s); err != nil {
		return trial.Transition{}, err
	}
	if verr := sample.Validate(); verr != nil {
		return trial.Transition{}, e.fault(fmt.Errorf("%w: %v", ErrMalformedSample, verr))
	}
	if e.haveTS && sample.Timestamp < e.lastTS {
		return trial.Transition{}, fmt.Errorf("%w: %.3f < %.3f", ErrStaleSample, sample.Timestamp, e.lastTS)
	}

	defer func() {
		if r := recover(); r != nil {
			err = e.fault(fmt.Errorf("panic processing sample %s: %v", sample, r))
			tr = trial.Transition{From: tr.From, To: trial.Aborted}
		}
	}()

	e.lastTS, e.haveTS = sample.Timestamp, true

	x, y := e.mapper.Apply(sample.X, sample.Y)
	mapped := sample.WithPoint(x, y)
	usable := mapped.Usable(e.cfg.ConfidenceThreshold)

	regionID := trajectory.NoRegion
	if r, ok := e.grid.Locate(mapped.X, mapped.Y); ok {
		regionID = r.ID
	}
	if usable && regionID != e.lastRegion {
		prev := e.lastRegion
		e.lastRegion = regionID
		e.notifier.Notify(Event{
			Kind:      EventRegionChanged,
			SessionID: s.ID,
			Region:    regionID,
			Previous:  prev,
			Timestamp: sample.Timestamp,
		})
	}

	if e.active == nil {
		return trial.Transition{}, nil
	}

	t := e.active
	tr = t.Observe(trial.Observation{Sample: mapped, Usable: usable, Region: regionID})

	if tr.To.Terminal() {
		e.finishActive(tr)
		return tr, nil
	}
	if tr.Changed() {
		e.notifier.Notify(e.trialEvent(EventTrialStateChanged, tr))
	}
	if tr.To.Tracking() {
		e.notifier.Notify(e.trialEvent(EventDwellProgress, tr))
	}
	return tr, nil
}

// fault aborts the running trial and reports err. Notifier panics on this
// path are swallowed so a broken observer cannot wedge the engine.
func (e *Engine) fault(cause error) error {
	fe := &FaultError{Err: cause}
	if t := e.active; t != nil {
		fe.TrialID = t.ID()
		e.safely(func() { e.finishActive(t.Abort(e.lastTS, "fault: "+cause.Error())) })
	}
	e.logger.Error("sample processing fault", "trial", fe.TrialID, "error", cause)
	ev := Event{Kind: EventFault, TrialID: fe.TrialID, Error: cause.Error(), Region: e.lastRegion, Previous: e.lastRegion, Timestamp: e.lastTS}
	if e.session != nil {
		ev.SessionID = e.session.ID
	}
	e.safely(func() { e.notifier.Notify(ev) })
	return fe
}

func (e *Engine) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("notifier panic", "panic", r)
		}
	}()
	fn()
}

// Status is a point-in-time view of the engine for operators.
type Status struct {
	SessionID   string     `json:"session_id,omitempty"`
	Trials      int        `json:"trials"`
	TrialID     string     `json:"trial_id,omitempty"`
	TrialType   trial.Type `json:"trial_type,omitempty"`
	State       string     `json:"state"`
	Target      int        `json:"target"`
	Progress    float64    `json:"progress"`
	Region      int        `json:"region"`
	Calibrating bool       `json:"calibrating"`
	Collected   int        `json:"calibration_points"`
	Calibrated  bool       `json:"calibrated"`
	Residual    float64    `json:"calibration_residual"`
	LastSample  float64    `json:"last_sample_ts"`
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	st := Status{
		State:       trial.Idle.String(),
		Target:      trajectory.NoRegion,
		Region:      e.lastRegion,
		Calibrating: e.calibrating,
		Collected:   e.mapper.Collected(),
		Calibrated:  e.mapper.Fitted(),
		Residual:    e.mapper.Residual(),
		LastSample:  e.lastTS,
	}
	if e.session != nil {
		st.SessionID = e.session.ID
		st.Trials = e.session.Len()
	}
	if t := e.active; t != nil {
		st.TrialID = t.ID()
		st.TrialType = t.Type()
		st.State = t.State().String()
		st.Target = t.Target()
		st.Progress = t.Progress()
	}
	return st
}
