package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-eyetouch/pkg/calibration"
	"github.com/teslashibe/go-eyetouch/pkg/region"
	"github.com/teslashibe/go-eyetouch/pkg/trial"
)

// Config holds the engine's test parameters.
// Use functional options (WithXxx) to adjust DefaultConfig.
type Config struct {
	// Screen partition
	GridRows     int     `json:"grid_rows" yaml:"grid_rows"`
	GridCols     int     `json:"grid_cols" yaml:"grid_cols"`
	ScreenWidth  float64 `json:"screen_width" yaml:"screen_width"`
	ScreenHeight float64 `json:"screen_height" yaml:"screen_height"`

	// Calibration
	CalibrationPoints int `json:"calibration_points" yaml:"calibration_points"` // Minimum points before Fit

	// Trial timing
	DwellThreshold   time.Duration `json:"dwell_threshold" yaml:"dwell_threshold"`
	MaxTrialDuration time.Duration `json:"max_trial_duration" yaml:"max_trial_duration"`

	// Samples below this confidence are recorded but ignored by the dwell timer
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`

	// Default length of a randomly generated selection sequence
	SelectionCount int `json:"selection_count" yaml:"selection_count"`

	// Observability
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// Option is a functional option for configuring the engine.
type Option func(*Config)

// WithGrid sets the grid dimensions.
func WithGrid(rows, cols int) Option {
	return func(c *Config) {
		c.GridRows = rows
		c.GridCols = cols
	}
}

// WithScreen sets the screen size in pixels.
func WithScreen(width, height float64) Option {
	return func(c *Config) {
		c.ScreenWidth = width
		c.ScreenHeight = height
	}
}

// WithCalibrationPoints sets the minimum calibration point count.
func WithCalibrationPoints(n int) Option {
	return func(c *Config) {
		c.CalibrationPoints = n
	}
}

// WithTiming sets the dwell threshold and trial deadline.
func WithTiming(dwell, maxDuration time.Duration) Option {
	return func(c *Config) {
		c.DwellThreshold = dwell
		c.MaxTrialDuration = maxDuration
	}
}

// WithConfidenceThreshold sets the usable-sample threshold.
func WithConfidenceThreshold(v float64) Option {
	return func(c *Config) {
		c.ConfidenceThreshold = v
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the harness defaults: a 3x3 grid on a 1920x1080
// screen, 9-point calibration, 2 s dwell and 30 s trial timeout.
func DefaultConfig() Config {
	return Config{
		GridRows:            3,
		GridCols:            3,
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		CalibrationPoints:   9,
		DwellThreshold:      2 * time.Second,
		MaxTrialDuration:    30 * time.Second,
		ConfidenceThreshold: 0.5,
		SelectionCount:      3,
		Logger:              slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.GridRows < 1 || c.GridCols < 1 {
		return fmt.Errorf("grid must be at least 1x1, got %dx%d", c.GridRows, c.GridCols)
	}
	if c.ScreenWidth <= 0 || c.ScreenHeight <= 0 {
		return fmt.Errorf("screen size must be positive, got %.0fx%.0f", c.ScreenWidth, c.ScreenHeight)
	}
	if c.CalibrationPoints < calibration.MinAffinePoints {
		return fmt.Errorf("calibration_points must be at least %d, got %d", calibration.MinAffinePoints, c.CalibrationPoints)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %.2f", c.ConfidenceThreshold)
	}
	if c.SelectionCount < 1 || c.SelectionCount > c.GridRows*c.GridCols {
		return fmt.Errorf("selection_count must be in [1,%d], got %d", c.GridRows*c.GridCols, c.SelectionCount)
	}
	return c.Params().Validate()
}

// Params returns the per-trial timing parameters.
func (c Config) Params() trial.Params {
	return trial.Params{
		DwellThreshold: c.DwellThreshold,
		MaxDuration:    c.MaxTrialDuration,
	}
}

// Screen returns the screen rectangle.
func (c Config) Screen() region.Rect {
	return region.Screen(c.ScreenWidth, c.ScreenHeight)
}
