// Package trial implements the scored gaze trials: the region-dwell state
// machine and the ordered target-selection sequence built on top of it.
package trial

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-eyetouch/pkg/gaze"
	"github.com/teslashibe/go-eyetouch/pkg/trajectory"
)

// timeEpsilon absorbs float rounding when comparing timestamp differences.
const timeEpsilon = 1e-9

// State is a dwell state machine state.
type State int

const (
	Idle State = iota
	Armed
	Entered
	Dwelling
	Succeeded
	TimedOut
	Aborted
)

var stateNames = [...]string{
	Idle:      "IDLE",
	Armed:     "ARMED",
	Entered:   "ENTERED",
	Dwelling:  "DWELLING",
	Succeeded: "SUCCESS",
	TimedOut:  "TIMEOUT",
	Aborted:   "ABORTED",
}

// String returns the upper-case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Succeeded || s == TimedOut || s == Aborted
}

// Tracking reports whether gaze is currently held on the target.
func (s State) Tracking() bool {
	return s == Entered || s == Dwelling
}

// Outcome maps a terminal state to its outcome; non-terminal states map to "".
func (s State) Outcome() Outcome {
	switch s {
	case Succeeded:
		return OutcomeSuccess
	case TimedOut:
		return OutcomeTimeout
	case Aborted:
		return OutcomeAborted
	default:
		return ""
	}
}

// Outcome is the final result of a trial or step.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeTimeout Outcome = "TIMEOUT"
	OutcomeAborted Outcome = "ABORTED"
)

// Type identifies the kind of trial.
type Type string

const (
	TypeDwell     Type = "DWELL"
	TypeSelection Type = "SELECTION"
)

// Params configures the timing of a dwell trial or selection step.
type Params struct {
	DwellThreshold time.Duration // Continuous time in target required for success
	MaxDuration    time.Duration // Deadline measured from the trial (or step) start
}

// DefaultParams is a 2 s dwell with a 30 s timeout.
func DefaultParams() Params {
	return Params{
		DwellThreshold: 2 * time.Second,
		MaxDuration:    30 * time.Second,
	}
}

// Validate checks that both durations are positive and the dwell fits in
// the deadline.
func (p Params) Validate() error {
	if p.DwellThreshold <= 0 {
		return fmt.Errorf("dwell threshold must be positive, got %v", p.DwellThreshold)
	}
	if p.MaxDuration <= 0 {
		return fmt.Errorf("max trial duration must be positive, got %v", p.MaxDuration)
	}
	if p.DwellThreshold > p.MaxDuration {
		return fmt.Errorf("dwell threshold %v exceeds max trial duration %v", p.DwellThreshold, p.MaxDuration)
	}
	return nil
}

// Observation is one processed sample as seen by a trial.
type Observation struct {
	Sample gaze.Sample
	Usable bool // Confidence met the threshold
	Region int  // Located region id, or trajectory.NoRegion
}

// Transition describes the effect of an observation or abort.
type Transition struct {
	From     State   `json:"from"`
	To       State   `json:"to"`
	Step     int     `json:"step"`   // Active step index (0 for dwell trials)
	Target   int     `json:"target"` // Target of the active step
	Progress float64 `json:"progress"`
	StepDone bool    `json:"step_done,omitempty"` // A selection step succeeded and the next one armed
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool {
	return t.From != t.To || t.StepDone
}

// Step is one completed or terminated step of a selection sequence.
type Step struct {
	Target  int     `json:"target"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Outcome Outcome `json:"outcome"`
}

// Latency is the time the step took.
func (s Step) Latency() float64 {
	return s.End - s.Start
}

// Record is the scored result of one trial. Values returned by tests are
// copies; a terminal record never changes.
type Record struct {
	ID         string             `json:"id"`
	Type       Type               `json:"type"`
	Targets    []int              `json:"targets"`
	Start      float64            `json:"start"`
	End        float64            `json:"end"`
	Outcome    Outcome            `json:"outcome,omitempty"`
	Steps      []Step             `json:"steps,omitempty"`
	Trajectory []trajectory.Entry `json:"trajectory"`
	Reason     string             `json:"reason,omitempty"`
}

// Terminal reports whether the outcome is set.
func (r Record) Terminal() bool {
	return r.Outcome != ""
}

// Duration is End-Start.
func (r Record) Duration() float64 {
	return r.End - r.Start
}

// Test is a running trial driven by observations.
type Test interface {
	ID() string
	Type() Type
	Arm() error
	Observe(Observation) Transition
	Abort(at float64, reason string) Transition
	State() State
	Target() int
	Progress() float64
	Record() Record
}
