package trial

import (
	"fmt"

	"github.com/teslashibe/go-eyetouch/pkg/trajectory"
)

// DwellTest runs one region-dwell trial:
//
//	IDLE -> ARMED -> ENTERED -> DWELLING -> {SUCCESS | TIMEOUT | ABORTED}
//
// Leaving the target resets the dwell timer. Unusable samples are recorded
// but neither advance nor reset it.
type DwellTest struct {
	id     string
	target int
	params Params
	rec    *trajectory.Recorder

	state   State
	started bool
	start   float64 // Clock anchor: first observed sample, or StartAt
	last    float64 // Timestamp of the latest observed sample
	end     float64
	inside  bool    // Usable gaze currently on target
	anchor  float64 // Timestamp of first entry of the current streak
	reason  string
}

// NewDwellTest creates an idle dwell trial for the target region.
func NewDwellTest(id string, target int, params Params) *DwellTest {
	return newDwell(id, target, params, trajectory.NewRecorder())
}

func newDwell(id string, target int, params Params, rec *trajectory.Recorder) *DwellTest {
	return &DwellTest{
		id:     id,
		target: target,
		params: params,
		rec:    rec,
		state:  Idle,
	}
}

// ID returns the trial id.
func (d *DwellTest) ID() string { return d.id }

// Type returns TypeDwell.
func (d *DwellTest) Type() Type { return TypeDwell }

// Target returns the target region id.
func (d *DwellTest) Target() int { return d.target }

// State returns the current state.
func (d *DwellTest) State() State { return d.state }

// Arm moves the trial from IDLE to ARMED.
func (d *DwellTest) Arm() error {
	if d.state != Idle {
		return fmt.Errorf("trial %s: cannot arm from %s", d.id, d.state)
	}
	d.state = Armed
	return nil
}

// StartAt anchors the trial clock at ts instead of the first sample.
func (d *DwellTest) StartAt(ts float64) {
	d.started = true
	d.start = ts
	d.last = ts
}

// Observe processes one sample. Observations before Arm or after a terminal
// state are ignored.
func (d *DwellTest) Observe(o Observation) Transition {
	from := d.state
	if from == Idle || from.Terminal() {
		return d.transition(from)
	}

	ts := o.Sample.Timestamp
	if !d.started {
		d.StartAt(ts)
	}
	d.last = ts

	d.rec.Record(trajectory.Entry{
		Sample: o.Sample,
		Region: o.Region,
		Usable: o.Usable,
		Phase:  from.String(),
	})

	if ts-d.start > d.params.MaxDuration.Seconds()+timeEpsilon {
		d.finish(TimedOut, ts)
		return d.transition(from)
	}

	if !o.Usable {
		return d.transition(from)
	}

	if o.Region != d.target {
		d.inside = false
		d.state = Armed
		return d.transition(from)
	}

	if !d.inside {
		d.inside = true
		d.anchor = ts
		d.state = Entered
	} else {
		d.state = Dwelling
	}

	if ts-d.anchor >= d.params.DwellThreshold.Seconds()-timeEpsilon {
		d.finish(Succeeded, ts)
	}
	return d.transition(from)
}

// Abort terminates the trial from any non-terminal state. at is the latest
// known timestamp and becomes the end time.
func (d *DwellTest) Abort(at float64, reason string) Transition {
	from := d.state
	if from.Terminal() {
		return d.transition(from)
	}
	if !d.started {
		d.StartAt(at)
	}
	if at < d.last {
		at = d.last
	}
	d.reason = reason
	d.finish(Aborted, at)
	return d.transition(from)
}

func (d *DwellTest) finish(s State, at float64) {
	d.state = s
	d.end = at
}

// Progress returns the fraction of the dwell threshold held so far.
func (d *DwellTest) Progress() float64 {
	if d.state == Succeeded {
		return 1
	}
	if !d.inside || d.state.Terminal() {
		return 0
	}
	p := (d.last - d.anchor) / d.params.DwellThreshold.Seconds()
	if p > 1 {
		p = 1
	}
	return p
}

func (d *DwellTest) transition(from State) Transition {
	return Transition{
		From:     from,
		To:       d.state,
		Target:   d.target,
		Progress: d.Progress(),
	}
}

// Record returns a snapshot of the trial record.
func (d *DwellTest) Record() Record {
	return Record{
		ID:         d.id,
		Type:       TypeDwell,
		Targets:    []int{d.target},
		Start:      d.start,
		End:        d.end,
		Outcome:    d.state.Outcome(),
		Trajectory: d.rec.Entries(),
		Reason:     d.reason,
	}
}

// step returns the step summary for selection sequences.
func (d *DwellTest) step() Step {
	return Step{
		Target:  d.target,
		Start:   d.start,
		End:     d.end,
		Outcome: d.state.Outcome(),
	}
}
