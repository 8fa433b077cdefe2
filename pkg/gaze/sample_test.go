package gaze

import (
	"math"
	"testing"
)

func TestSample_Usable(t *testing.T) {
	s := Sample{Confidence: 0.6}
	if !s.Usable(0.6) {
		t.Error("expected sample at threshold to be usable")
	}
	if s.Usable(0.61) {
		t.Error("expected sample below threshold to be unusable")
	}
}

func TestSample_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sample  Sample
		wantErr bool
	}{
		{"ok", Sample{X: 1, Y: 2, Confidence: 0.5, Timestamp: 1}, false},
		{"nan x", Sample{X: math.NaN(), Confidence: 0.5}, true},
		{"inf ts", Sample{Timestamp: math.Inf(1), Confidence: 0.5}, true},
		{"confidence above one", Sample{Confidence: 1.5}, true},
		{"negative confidence", Sample{Confidence: -0.1}, true},
	}

	for _, tc := range tests {
		err := tc.sample.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestSample_ValidateReportsFirstBadField(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		sample Sample
		want   string
	}{
		{Sample{X: nan, Y: nan, Confidence: nan, Timestamp: nan}, "x is not finite"},
		{Sample{Y: nan, Confidence: nan, Timestamp: nan}, "y is not finite"},
		{Sample{Confidence: math.Inf(-1), Timestamp: nan}, "confidence is not finite"},
		{Sample{Timestamp: nan}, "ts is not finite"},
	}

	for _, tc := range tests {
		for i := 0; i < 50; i++ {
			err := tc.sample.Validate()
			if err == nil || err.Error() != tc.want {
				t.Fatalf("Validate() = %v, want %q", err, tc.want)
			}
		}
	}
}

func TestMockEstimator_StaysNearCentre(t *testing.T) {
	m := NewMockEstimator(1920, 1080, 42)
	est := m.Func()

	for i := 0; i < 100; i++ {
		s, err := est(Frame{Timestamp: float64(i) / 30})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if math.Abs(s.X-960) > 50 || math.Abs(s.Y-540) > 50 {
			t.Errorf("sample %d out of jitter range: %v", i, s)
		}
		if s.Confidence != 0.85 {
			t.Errorf("expected confidence 0.85, got %v", s.Confidence)
		}
		if s.Timestamp != float64(i)/30 {
			t.Errorf("expected frame timestamp to carry over, got %v", s.Timestamp)
		}
	}
}
