package trial

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-eyetouch/pkg/trajectory"
)

// SelectionTest runs an ordered sequence of dwell steps. A step SUCCESS arms
// the next target; a step TIMEOUT or ABORTED ends the whole sequence with
// that outcome.
type SelectionTest struct {
	id      string
	targets []int
	params  Params
	rec     *trajectory.Recorder

	steps   []Step
	current *DwellTest
	idx     int
	state   State // Overall state once terminal; mirrors the step otherwise
	end     float64
	reason  string
}

// NewSelectionTest creates an idle selection sequence.
func NewSelectionTest(id string, targets []int, params Params) (*SelectionTest, error) {
	if len(targets) == 0 {
		return nil, errors.New("selection sequence needs at least one target")
	}
	ts := make([]int, len(targets))
	copy(ts, targets)
	return &SelectionTest{
		id:      id,
		targets: ts,
		params:  params,
		rec:     trajectory.NewRecorder(),
		state:   Idle,
	}, nil
}

// ID returns the trial id.
func (s *SelectionTest) ID() string { return s.id }

// Type returns TypeSelection.
func (s *SelectionTest) Type() Type { return TypeSelection }

// Targets returns a copy of the target sequence.
func (s *SelectionTest) Targets() []int {
	out := make([]int, len(s.targets))
	copy(out, s.targets)
	return out
}

// Target returns the active step's target.
func (s *SelectionTest) Target() int {
	if s.idx >= len(s.targets) {
		return s.targets[len(s.targets)-1]
	}
	return s.targets[s.idx]
}

// StepIndex returns the active step index.
func (s *SelectionTest) StepIndex() int { return s.idx }

// State returns the active step state, or the overall terminal state.
func (s *SelectionTest) State() State {
	if s.state.Terminal() || s.current == nil {
		return s.state
	}
	return s.current.State()
}

// Arm arms the first step.
func (s *SelectionTest) Arm() error {
	if s.state != Idle {
		return fmt.Errorf("trial %s: cannot arm from %s", s.id, s.state)
	}
	s.current = newDwell(s.id, s.targets[0], s.params, s.rec)
	if err := s.current.Arm(); err != nil {
		return err
	}
	s.state = Armed
	return nil
}

// Observe feeds the sample to the active step.
func (s *SelectionTest) Observe(o Observation) Transition {
	from := s.State()
	if s.current == nil || s.state.Terminal() {
		return s.transition(from, false)
	}

	tr := s.current.Observe(o)
	switch tr.To {
	case Succeeded:
		s.steps = append(s.steps, s.current.step())
		s.idx++
		if s.idx == len(s.targets) {
			s.finish(Succeeded, s.current.end)
			return s.transition(from, false)
		}
		prevEnd := s.current.end
		s.current = newDwell(s.id, s.targets[s.idx], s.params, s.rec)
		_ = s.current.Arm()
		s.current.StartAt(prevEnd)
		return s.transition(from, true)
	case TimedOut:
		s.steps = append(s.steps, s.current.step())
		s.finish(TimedOut, s.current.end)
	}
	return s.transition(from, false)
}

// Abort terminates the sequence and the active step.
func (s *SelectionTest) Abort(at float64, reason string) Transition {
	from := s.State()
	if s.state.Terminal() {
		return s.transition(from, false)
	}
	s.reason = reason
	if s.current == nil {
		// Never armed.
		s.finish(Aborted, at)
		return s.transition(from, false)
	}
	s.current.Abort(at, reason)
	s.steps = append(s.steps, s.current.step())
	s.finish(Aborted, s.current.end)
	return s.transition(from, false)
}

func (s *SelectionTest) finish(st State, at float64) {
	s.state = st
	s.end = at
}

// Progress returns the active step's dwell progress.
func (s *SelectionTest) Progress() float64 {
	if s.state == Succeeded {
		return 1
	}
	if s.current == nil || s.state.Terminal() {
		return 0
	}
	return s.current.Progress()
}

// CompletedSteps returns how many steps succeeded.
func (s *SelectionTest) CompletedSteps() int {
	n := 0
	for _, st := range s.steps {
		if st.Outcome == OutcomeSuccess {
			n++
		}
	}
	return n
}

func (s *SelectionTest) transition(from State, stepDone bool) Transition {
	idx := s.idx
	if idx >= len(s.targets) {
		idx = len(s.targets) - 1
	}
	return Transition{
		From:     from,
		To:       s.State(),
		Step:     idx,
		Target:   s.targets[idx],
		Progress: s.Progress(),
		StepDone: stepDone,
	}
}

// Record returns a snapshot of the sequence record.
func (s *SelectionTest) Record() Record {
	steps := make([]Step, len(s.steps))
	copy(steps, s.steps)

	var start float64
	if len(s.steps) > 0 {
		start = s.steps[0].Start
	} else if s.current != nil {
		start = s.current.start
	} else {
		start = s.end
	}

	return Record{
		ID:         s.id,
		Type:       TypeSelection,
		Targets:    s.Targets(),
		Start:      start,
		End:        s.end,
		Outcome:    s.state.Outcome(),
		Steps:      steps,
		Trajectory: s.rec.Entries(),
		Reason:     s.reason,
	}
}
