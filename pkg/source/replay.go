package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-eyetouch/pkg/gaze"
	"github.com/teslashibe/go-eyetouch/pkg/protocol"
)

// Replay plays back a fixed list of samples. It is restartable with Rewind,
// so one recording can drive several sessions.
type Replay struct {
	mu      sync.Mutex
	samples []gaze.Sample
	idx     int

	// Speed > 0 paces delivery by the embedded timestamps (1 = real time).
	// Zero delivers as fast as the consumer reads.
	Speed float64
	start time.Time
}

// NewReplay creates an unpaced replay of samples.
func NewReplay(samples []gaze.Sample) *Replay {
	return &Replay{samples: append([]gaze.Sample(nil), samples...)}
}

// LoadReplay reads one sample per line, either bare sample objects or gaze
// envelopes. Blank lines and lines starting with # are skipped.
func LoadReplay(r io.Reader) (*Replay, error) {
	var samples []gaze.Sample
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		s, err := protocol.DecodeGaze([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("replay line %d: %w", line, err)
		}
		samples = append(samples, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay: %w", err)
	}
	return NewReplay(samples), nil
}

// Next returns the next sample, or io.EOF at the end.
func (r *Replay) Next(ctx context.Context) (gaze.Sample, error) {
	if err := ctx.Err(); err != nil {
		return gaze.Sample{}, err
	}

	r.mu.Lock()
	if r.idx >= len(r.samples) {
		r.mu.Unlock()
		return gaze.Sample{}, io.EOF
	}
	s := r.samples[r.idx]
	first := r.samples[0].Timestamp
	if r.idx == 0 {
		r.start = time.Now()
	}
	r.idx++
	start, speed := r.start, r.Speed
	r.mu.Unlock()

	if speed > 0 {
		due := start.Add(time.Duration((s.Timestamp - first) / speed * float64(time.Second)))
		if wait := time.Until(due); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return gaze.Sample{}, ctx.Err()
			}
		}
	}
	return s, nil
}

// Rewind restarts playback from the first sample.
func (r *Replay) Rewind() {
	r.mu.Lock()
	r.idx = 0
	r.mu.Unlock()
}

// Len returns the number of samples in the recording.
func (r *Replay) Len() int { return len(r.samples) }

// Close implements Source.
func (r *Replay) Close() error { return nil }
