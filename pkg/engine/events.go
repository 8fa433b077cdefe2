package engine

import "github.com/teslashibe/go-eyetouch/pkg/trial"

// EventKind identifies a feedback notification.
type EventKind string

const (
	EventTrialStateChanged   EventKind = "trial_state_changed"
	EventDwellProgress       EventKind = "dwell_progress"
	EventTrialCompleted      EventKind = "trial_completed"
	EventRegionChanged       EventKind = "region_changed"
	EventSessionStarted      EventKind = "session_started"
	EventSessionEnded        EventKind = "session_ended"
	EventCalibrationFinished EventKind = "calibration_finished"
	EventFault               EventKind = "fault"
)

// Event is one engine-to-UI notification. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind      EventKind     `json:"kind"`
	SessionID string        `json:"session_id,omitempty"`
	TrialID   string        `json:"trial_id,omitempty"`
	TrialType trial.Type    `json:"trial_type,omitempty"`
	From      string        `json:"from,omitempty"`
	State     string        `json:"state,omitempty"`
	Target    int           `json:"target"`
	Step      int           `json:"step"`
	Progress  float64       `json:"progress"`
	Outcome   trial.Outcome `json:"outcome,omitempty"`
	Region    int           `json:"region"`
	Previous  int           `json:"previous_region"`
	Residual  float64       `json:"residual,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp float64       `json:"ts"` // Sample time, not wall clock
}

// Notifier receives engine events. Notify is called from the engine's
// ingestion goroutine and must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify calls f(ev).
func (f NotifierFunc) Notify(ev Event) { f(ev) }

// Notifiers fans an event out to several notifiers.
type Notifiers []Notifier

// Notify delivers ev to every notifier in order.
func (ns Notifiers) Notify(ev Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ev)
		}
	}
}

type discard struct{}

func (discard) Notify(Event) {}
