package camera

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-eyetouch/pkg/gaze"
)

// FrameSource delivers captured frames. ReadFrame blocks until the next
// frame and returns io.EOF when the device is closed.
type FrameSource interface {
	ReadFrame(ctx context.Context) (gaze.Frame, error)
	Close() error
}

// EstimatorSource runs each frame through a gaze estimator. Frames for which
// the estimator finds no gaze are skipped.
type EstimatorSource struct {
	frames   FrameSource
	estimate gaze.Estimator
	logger   *slog.Logger

	frameCount atomic.Uint64
	noGaze     atomic.Uint64
}

// NewEstimatorSource wires frames into estimate.
func NewEstimatorSource(frames FrameSource, estimate gaze.Estimator, logger *slog.Logger) *EstimatorSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &EstimatorSource{
		frames:   frames,
		estimate: estimate,
		logger:   logger.With("component", "camera-source"),
	}
}

// Next implements source.Source.
func (s *EstimatorSource) Next(ctx context.Context) (gaze.Sample, error) {
	for {
		f, err := s.frames.ReadFrame(ctx)
		if err != nil {
			return gaze.Sample{}, err
		}
		s.frameCount.Add(1)

		sample, err := s.estimate(f)
		if errors.Is(err, gaze.ErrNoGaze) {
			s.noGaze.Add(1)
			continue
		}
		if err != nil {
			return gaze.Sample{}, err
		}
		return sample, nil
	}
}

// Close closes the frame source.
func (s *EstimatorSource) Close() error { return s.frames.Close() }

// Frames returns how many frames were read and how many had no gaze.
func (s *EstimatorSource) Frames() (read, noGaze uint64) {
	return s.frameCount.Load(), s.noGaze.Load()
}

// Ticker is a FrameSource producing empty frames at the configured rate.
// It drives estimators that do not need pixels, such as the mock.
type Ticker struct {
	cfg    Config
	start  time.Time
	ticker *time.Ticker
	closed chan struct{}
	once   sync.Once
}

// NewTicker creates a Ticker at cfg.Framerate.
func NewTicker(cfg Config) *Ticker {
	fps := cfg.Framerate
	if fps < 1 {
		fps = DefaultConfig().Framerate
	}
	return &Ticker{
		cfg:    cfg,
		start:  time.Now(),
		ticker: time.NewTicker(time.Second / time.Duration(fps)),
		closed: make(chan struct{}),
	}
}

// ReadFrame waits for the next tick.
func (t *Ticker) ReadFrame(ctx context.Context) (gaze.Frame, error) {
	select {
	case <-ctx.Done():
		return gaze.Frame{}, ctx.Err()
	case <-t.closed:
		return gaze.Frame{}, io.EOF
	case now := <-t.ticker.C:
		return gaze.Frame{
			Width:     t.cfg.Width,
			Height:    t.cfg.Height,
			Timestamp: now.Sub(t.start).Seconds(),
		}, nil
	}
}

// Close stops the ticker.
func (t *Ticker) Close() error {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.closed)
	})
	return nil
}
