package gaze

import (
	"errors"
	"math/rand"
	"sync"
)

// ErrNoGaze is returned by an estimator when a frame yields no gaze point
// (no pupil found, eyes closed). Sources skip such frames.
var ErrNoGaze = errors.New("gaze: no gaze point in frame")

// Frame is one camera frame handed to an estimator.
type Frame struct {
	Data      []byte  // Encoded image (JPEG)
	Width     int     // Pixels
	Height    int     // Pixels
	Timestamp float64 // Monotonic seconds at capture
}

// Estimator turns a raw frame into a confidence-scored gaze sample.
// Pupil detection and gaze estimation live behind this function type.
type Estimator func(Frame) (Sample, error)

// MockEstimator stands in for the real algorithm. It reports the screen
// centre with uniform jitter and a fixed confidence.
type MockEstimator struct {
	ScreenWidth  float64
	ScreenHeight float64
	Jitter       float64 // +- pixels
	Confidence   float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockEstimator creates a mock estimator that looks at the screen centre
// with +-50 px jitter and confidence 0.85.
func NewMockEstimator(screenWidth, screenHeight float64, seed int64) *MockEstimator {
	return &MockEstimator{
		ScreenWidth:  screenWidth,
		ScreenHeight: screenHeight,
		Jitter:       50,
		Confidence:   0.85,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// Estimate implements Estimator.
func (m *MockEstimator) Estimate(f Frame) (Sample, error) {
	m.mu.Lock()
	dx := (m.rng.Float64()*2 - 1) * m.Jitter
	dy := (m.rng.Float64()*2 - 1) * m.Jitter
	m.mu.Unlock()

	return Sample{
		X:          m.ScreenWidth/2 + dx,
		Y:          m.ScreenHeight/2 + dy,
		Confidence: m.Confidence,
		Timestamp:  f.Timestamp,
	}, nil
}

// Func returns the estimator as the Estimator function type.
func (m *MockEstimator) Func() Estimator {
	return m.Estimate
}
