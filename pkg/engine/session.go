package engine

import (
	"time"

	"github.com/teslashibe/go-eyetouch/pkg/trajectory"
	"github.com/teslashibe/go-eyetouch/pkg/trial"
)

// Session is an explicitly owned handle for one test session. It is passed
// to every engine operation; the engine rejects handles that are not its
// active session.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Config    Config    `json:"config"` // Snapshot taken at start

	records []trial.Record
	ended   bool
}

// Ended reports whether the session has been closed. An ended session never
// changes again.
func (s *Session) Ended() bool { return s.ended }

// Len returns the number of completed trials.
func (s *Session) Len() int { return len(s.records) }

// Records returns deep copies of the completed trial records in start order.
func (s *Session) Records() []trial.Record {
	out := make([]trial.Record, len(s.records))
	for i, r := range s.records {
		out[i] = cloneRecord(r)
	}
	return out
}

func (s *Session) add(r trial.Record) {
	s.records = append(s.records, cloneRecord(r))
}

// snapshot returns a detached copy that other goroutines may read while the
// live session keeps changing.
func (s *Session) snapshot() *Session {
	c := *s
	c.records = s.Records()
	return &c
}

func cloneRecord(r trial.Record) trial.Record {
	r.Targets = append([]int(nil), r.Targets...)
	r.Steps = append([]trial.Step(nil), r.Steps...)
	r.Trajectory = append([]trajectory.Entry(nil), r.Trajectory...)
	return r
}

// NewEndedSession builds a closed session from already completed records,
// as restored from an archive.
func NewEndedSession(id string, started, ended time.Time, cfg Config, records []trial.Record) *Session {
	s := &Session{ID: id, StartedAt: started, EndedAt: ended, Config: cfg, ended: true}
	for _, r := range records {
		s.add(r)
	}
	return s
}
