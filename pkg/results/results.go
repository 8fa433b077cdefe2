// Package results scores completed sessions and exports them as CSV.
package results

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/trial"
)

// ErrSessionOpen is returned when exporting a session that has not ended.
var ErrSessionOpen = errors.New("results: session still open")

// Header is the fixed CSV header row.
var Header = []string{
	"trial_type",
	"outcome",
	"target",
	"success_rate_component",
	"accuracy_component",
	"duration",
	"timestamp",
}

// TypeStats aggregates the trials of one type.
type TypeStats struct {
	Total        int     `json:"total"`
	Successful   int     `json:"successful"`
	SuccessRate  float64 `json:"success_rate"`
	MeanAccuracy float64 `json:"mean_accuracy"`
	MeanDuration float64 `json:"mean_duration"`
}

// Summary is the per-session score.
type Summary struct {
	SessionID      string                   `json:"session_id"`
	Ended          bool                     `json:"ended"`
	Total          int                      `json:"total_tests"`
	Successful     int                      `json:"successful"`
	SuccessRate    float64                  `json:"success_rate"`
	MeanAccuracy   float64                  `json:"average_accuracy"`
	MeanDuration   float64                  `json:"average_duration"`
	MedianDuration float64                  `json:"median_duration"`
	ByType         map[trial.Type]TypeStats `json:"by_type"`
}

// Summarize scores every completed trial of s.
func Summarize(s *engine.Session) Summary {
	sum := SummarizeRecords(s.Records())
	sum.SessionID = s.ID
	sum.Ended = s.Ended()
	return sum
}

// SummarizeRecords scores a list of completed trial records.
func SummarizeRecords(recs []trial.Record) Summary {
	sum := Summary{ByType: map[trial.Type]TypeStats{}}
	if len(recs) == 0 {
		return sum
	}

	durations := make([]float64, 0, len(recs))
	var accSum, durSum float64
	for _, r := range recs {
		acc := Accuracy(r)
		d := r.Duration()
		ok := r.Outcome == trial.OutcomeSuccess

		sum.Total++
		accSum += acc
		durSum += d
		durations = append(durations, d)

		ts := sum.ByType[r.Type]
		ts.Total++
		ts.MeanAccuracy += acc
		ts.MeanDuration += d
		if ok {
			sum.Successful++
			ts.Successful++
		}
		sum.ByType[r.Type] = ts
	}

	n := float64(sum.Total)
	sum.SuccessRate = float64(sum.Successful) / n
	sum.MeanAccuracy = accSum / n
	sum.MeanDuration = durSum / n
	sum.MedianDuration = median(durations)

	for k, ts := range sum.ByType {
		tn := float64(ts.Total)
		ts.SuccessRate = float64(ts.Successful) / tn
		ts.MeanAccuracy /= tn
		ts.MeanDuration /= tn
		sum.ByType[k] = ts
	}
	return sum
}

// Accuracy scores one trial.
//
// Dwell: usable samples inside the target while the trial was ENTERED or
// DWELLING, over all usable samples in those phases. Selection: successful
// steps over attempted steps. Both are 0 when nothing qualifies.
func Accuracy(r trial.Record) float64 {
	switch r.Type {
	case trial.TypeSelection:
		if len(r.Steps) == 0 {
			return 0
		}
		ok := 0
		for _, s := range r.Steps {
			if s.Outcome == trial.OutcomeSuccess {
				ok++
			}
		}
		return float64(ok) / float64(len(r.Steps))

	default:
		if len(r.Targets) == 0 {
			return 0
		}
		target := r.Targets[0]
		entered, dwelling := trial.Entered.String(), trial.Dwelling.String()
		var in, total int
		for _, e := range r.Trajectory {
			if !e.Usable || (e.Phase != entered && e.Phase != dwelling) {
				continue
			}
			total++
			if e.Region == target {
				in++
			}
		}
		if total == 0 {
			return 0
		}
		return float64(in) / float64(total)
	}
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// Rows renders one row per trial, header first. The session must have ended.
func Rows(s *engine.Session) ([][]string, error) {
	if !s.Ended() {
		return nil, fmt.Errorf("%w: %s", ErrSessionOpen, s.ID)
	}
	recs := s.Records()
	rows := make([][]string, 0, len(recs)+1)
	rows = append(rows, append([]string(nil), Header...))
	for _, r := range recs {
		rows = append(rows, Row(r))
	}
	return rows, nil
}

// Row renders one trial record.
func Row(r trial.Record) []string {
	success := 0.0
	if r.Outcome == trial.OutcomeSuccess {
		success = 1
	}
	return []string{
		string(r.Type),
		string(r.Outcome),
		targetLabel(r.Targets),
		num(success),
		num(Accuracy(r)),
		num(r.Duration()),
		num(r.End),
	}
}

func targetLabel(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, "-")
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// WriteCSV writes the session as CSV to w.
func WriteCSV(w io.Writer, s *engine.Session) error {
	rows, err := Rows(s)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// Export returns the CSV bytes for s. Repeated calls on the same ended
// session return identical bytes.
func Export(s *engine.Session) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
