// Package trajectory records every gaze sample seen during a trial.
package trajectory

import "github.com/teslashibe/go-eyetouch/pkg/gaze"

// NoRegion marks a sample that fell outside the grid.
const NoRegion = -1

// Entry is one recorded sample with its classification.
type Entry struct {
	Sample gaze.Sample `json:"sample"`
	Region int         `json:"region"` // NoRegion when off-grid
	Usable bool        `json:"usable"`
	Phase  string      `json:"phase"` // Trial state when the sample arrived
}

// Located reports whether the sample landed on the grid.
func (e Entry) Located() bool {
	return e.Region != NoRegion
}

// Recorder is an append-only, insertion-ordered log scoped to one trial.
// Not safe for concurrent use; the owning trial serializes access.
type Recorder struct {
	entries []Entry
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{entries: make([]Entry, 0, 64)}
}

// Record appends an entry in arrival order.
func (r *Recorder) Record(e Entry) {
	r.entries = append(r.entries, e)
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	return len(r.entries)
}

// Entries returns a copy of all entries.
func (r *Recorder) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Samples returns a copy of the raw samples in arrival order.
func (r *Recorder) Samples() []gaze.Sample {
	out := make([]gaze.Sample, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Sample
	}
	return out
}

// Last returns the most recent entry.
func (r *Recorder) Last() (Entry, bool) {
	if len(r.entries) == 0 {
		return Entry{}, false
	}
	return r.entries[len(r.entries)-1], true
}
