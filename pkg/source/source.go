// Package source provides gaze sample producers and the pump that feeds them
// into the engine inbox.
package source

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/teslashibe/go-eyetouch/pkg/gaze"
)

// Source produces gaze samples. Next blocks until a sample is available and
// returns io.EOF once a finite source is exhausted.
type Source interface {
	Next(ctx context.Context) (gaze.Sample, error)
	Close() error
}

// Sink accepts samples without blocking. *engine.Inbox implements it.
type Sink interface {
	PushSample(gaze.Sample) bool
}

// PumpStats reports what a pump forwarded.
type PumpStats struct {
	Forwarded uint64
	Dropped   uint64 // Pushes that displaced an older sample
}

// Pump forwards samples from src to sink until src is exhausted or ctx is
// done. io.EOF and context cancellation end the pump without error.
func Pump(ctx context.Context, src Source, sink Sink, logger *slog.Logger) (PumpStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var st PumpStats
	for {
		s, err := src.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			logger.Info("gaze source exhausted", "forwarded", st.Forwarded, "dropped", st.Dropped)
			return st, nil
		case ctx.Err() != nil:
			return st, nil
		default:
			return st, err
		}
		st.Forwarded++
		if !sink.PushSample(s) {
			st.Dropped++
		}
	}
}
