package calibration

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCalibrationData is returned by Fit before enough points
	// have been collected. Collect more points and retry.
	ErrInsufficientCalibrationData = errors.New("calibration: insufficient calibration data")

	// ErrUnknownRegion is returned when a point targets a region outside the grid.
	ErrUnknownRegion = errors.New("calibration: unknown target region")

	// ErrDegenerateCalibration is returned when the raw points are collinear
	// or coincident and no affine map can be fitted.
	ErrDegenerateCalibration = errors.New("calibration: degenerate calibration points")
)

// InsufficientDataError reports how many points were collected against the
// configured minimum.
type InsufficientDataError struct {
	Have int
	Need int
}

// Error implements the error interface.
func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("calibration: have %d points, need at least %d", e.Have, e.Need)
}

// Unwrap lets errors.Is match ErrInsufficientCalibrationData.
func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientCalibrationData
}
