// Package gaze defines the data contract between gaze estimators and the
// interaction test engine.
package gaze

import (
	"fmt"
	"math"
)

// Sample is one confidence-scored gaze point produced by an estimator.
// Timestamp is monotonic seconds; the engine never reads the wall clock.
type Sample struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"` // 0-1
	Timestamp  float64 `json:"ts"`
}

// Usable reports whether the sample meets the confidence threshold.
func (s Sample) Usable(threshold float64) bool {
	return s.Confidence >= threshold
}

// WithPoint returns a copy of the sample moved to (x, y).
func (s Sample) WithPoint(x, y float64) Sample {
	s.X = x
	s.Y = y
	return s
}

// Validate rejects samples that cannot be processed at all.
func (s Sample) Validate() error {
	fields := [...]struct {
		name string
		v    float64
	}{{"x", s.X}, {"y", s.Y}, {"confidence", s.Confidence}, {"ts", s.Timestamp}}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%s is not finite", f.name)
		}
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %.3f outside [0,1]", s.Confidence)
	}
	return nil
}

// String formats the sample for logs.
func (s Sample) String() string {
	return fmt.Sprintf("(%.1f, %.1f) conf=%.2f t=%.3f", s.X, s.Y, s.Confidence, s.Timestamp)
}
