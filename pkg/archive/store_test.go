package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/gaze"
	"github.com/teslashibe/go-eyetouch/pkg/results"
	"github.com/teslashibe/go-eyetouch/pkg/trajectory"
	"github.com/teslashibe/go-eyetouch/pkg/trial"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive", "eyetouch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleSession(id string, started time.Time) *engine.Session {
	recs := []trial.Record{
		{
			ID: "t1", Type: trial.TypeDwell, Targets: []int{4}, Start: 0, End: 2, Outcome: trial.OutcomeSuccess,
			Trajectory: []trajectory.Entry{
				{Sample: gaze.Sample{X: 1, Y: 2, Confidence: 0.9, Timestamp: 0}, Region: 4, Usable: true, Phase: "ARMED"},
				{Sample: gaze.Sample{X: 1, Y: 2, Confidence: 0.9, Timestamp: 2}, Region: 4, Usable: true, Phase: "ENTERED"},
			},
		},
		{
			ID: "t2", Type: trial.TypeSelection, Targets: []int{1, 2}, Start: 3, End: 9, Outcome: trial.OutcomeTimeout,
			Steps: []trial.Step{
				{Target: 1, Start: 3, End: 4, Outcome: trial.OutcomeSuccess},
				{Target: 2, Start: 4, End: 9, Outcome: trial.OutcomeTimeout},
			},
			Reason: "",
		},
	}
	return engine.NewEndedSession(id, started, started.Add(time.Minute), engine.DefaultConfig(), recs)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	orig := sampleSession("s-1", t0)

	require.NoError(t, st.Save(ctx, orig))
	got, err := st.Load(ctx, "s-1")
	require.NoError(t, err)

	assert.True(t, got.Ended())
	assert.True(t, got.StartedAt.Equal(t0))
	assert.Equal(t, orig.Config.GridRows, got.Config.GridRows)
	assert.Equal(t, orig.Config.DwellThreshold, got.Config.DwellThreshold)
	assert.Equal(t, orig.Records(), got.Records())

	// The restored session exports exactly like the original.
	a, err := results.Export(orig)
	require.NoError(t, err)
	b, err := results.Export(got)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestSave_ReplacesExisting(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, st.Save(ctx, sampleSession("s-1", t0)))
	require.NoError(t, st.Save(ctx, sampleSession("s-1", t0)))

	got, err := st.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
}

func TestSave_RejectsOpenSession(t *testing.T) {
	e, err := engine.New(engine.DefaultConfig(), nil)
	require.NoError(t, err)
	s, err := e.StartSession()
	require.NoError(t, err)

	err = openStore(t).Save(context.Background(), s)
	assert.ErrorIs(t, err, results.ErrSessionOpen)
}

func TestList_NewestFirst(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, st.Save(ctx, sampleSession("old", t0)))
	require.NoError(t, st.Save(ctx, sampleSession("new", t0.Add(time.Hour))))

	list, err := st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, 2, list[0].Trials)
	assert.InDelta(t, 0.5, list[0].SuccessRate, 1e-12)

	list, err = st.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLoad_NotFound(t *testing.T) {
	_, err := openStore(t).Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
