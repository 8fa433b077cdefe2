package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-eyetouch/pkg/calibration"
	"github.com/teslashibe/go-eyetouch/pkg/gaze"
	"github.com/teslashibe/go-eyetouch/pkg/trial"
)

// DefaultSampleCapacity buffers about one second of 30 Hz gaze.
const DefaultSampleCapacity = 32

// CommandKind identifies an operator command.
type CommandKind string

const (
	CmdStartSession      CommandKind = "start_session"
	CmdEndSession        CommandKind = "end_session"
	CmdStartDwell        CommandKind = "start_dwell"
	CmdStartSelection    CommandKind = "start_selection"
	CmdAbortTrial        CommandKind = "abort_trial"
	CmdStartCalibration  CommandKind = "start_calibration"
	CmdAddCalibration    CommandKind = "add_calibration_point"
	CmdFinishCalibration CommandKind = "finish_calibration"
	CmdClearCalibration  CommandKind = "clear_calibration"
	CmdStatus            CommandKind = "status"
	CmdSnapshot          CommandKind = "snapshot"
)

// Command is one operator request. Only the fields used by Kind are read.
type Command struct {
	Kind    CommandKind       `json:"kind"`
	Target  int               `json:"target"`            // start_dwell
	Targets []int             `json:"targets,omitempty"` // start_selection; empty means random
	Count   int               `json:"count,omitempty"`   // start_selection random length
	Point   calibration.Point `json:"point"`             // add_calibration_point
	Reason  string            `json:"reason,omitempty"`  // abort_trial

	reply chan Reply
}

// Reply is the result of a command.
type Reply struct {
	SessionID string                 `json:"session_id,omitempty"`
	TrialID   string                 `json:"trial_id,omitempty"`
	Transform *calibration.Transform `json:"transform,omitempty"`
	Residual  float64                `json:"residual,omitempty"`
	Record    *trial.Record          `json:"record,omitempty"`
	Status    *Status                `json:"status,omitempty"`
	Session   *Session               `json:"-"` // Ended session on end_session; live session on snapshot
	Records   []trial.Record         `json:"-"`
	Err       error                  `json:"-"`
}

// Inbox is the single serialized channel between producers and the engine.
// Samples go through a bounded queue that drops the oldest sample when full;
// commands are never dropped.
type Inbox struct {
	samples  chan gaze.Sample
	commands chan Command

	pushMu  sync.Mutex
	dropped atomic.Uint64
	pushed  atomic.Uint64
}

// NewInbox creates an inbox holding up to capacity pending samples.
func NewInbox(capacity int) *Inbox {
	if capacity < 1 {
		capacity = DefaultSampleCapacity
	}
	return &Inbox{
		samples:  make(chan gaze.Sample, capacity),
		commands: make(chan Command, 16),
	}
}

// PushSample enqueues s without blocking. When the queue is full the oldest
// pending sample is discarded to make room. Returns false if a sample was
// dropped.
func (in *Inbox) PushSample(s gaze.Sample) bool {
	in.pushMu.Lock()
	defer in.pushMu.Unlock()

	in.pushed.Add(1)
	clean := true
	for {
		select {
		case in.samples <- s:
			return clean
		default:
		}
		select {
		case <-in.samples:
			in.dropped.Add(1)
			clean = false
		default:
			// Consumer drained it meanwhile; retry the send.
		}
	}
}

// Submit sends cmd and waits for the reply.
func (in *Inbox) Submit(ctx context.Context, cmd Command) (Reply, error) {
	cmd.reply = make(chan Reply, 1)
	select {
	case in.commands <- cmd:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case r := <-cmd.reply:
		return r, r.Err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Dropped returns the number of samples discarded because the queue was full.
func (in *Inbox) Dropped() uint64 { return in.dropped.Load() }

// Pushed returns the number of samples offered to the inbox.
func (in *Inbox) Pushed() uint64 { return in.pushed.Load() }

// Pending returns the number of queued samples.
func (in *Inbox) Pending() int { return len(in.samples) }

// Capacity returns the sample queue capacity.
func (in *Inbox) Capacity() int { return cap(in.samples) }
