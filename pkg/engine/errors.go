package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine operations.
var (
	// ErrSessionAlreadyActive is returned when starting a session while one is open.
	ErrSessionAlreadyActive = errors.New("engine: session already active")

	// ErrNoActiveSession is returned when an operation needs an open session.
	ErrNoActiveSession = errors.New("engine: no active session")

	// ErrSessionMismatch is returned when a stale or foreign session handle is used.
	ErrSessionMismatch = errors.New("engine: session handle is not the active session")

	// ErrInvalidTrialConfiguration is returned when a trial cannot be started
	// with the given targets.
	ErrInvalidTrialConfiguration = errors.New("engine: invalid trial configuration")

	// ErrTrialInProgress is returned when a trial or calibration would overlap
	// a running trial.
	ErrTrialInProgress = errors.New("engine: trial in progress")

	// ErrCalibrationInProgress is returned when a trial is started mid-calibration.
	ErrCalibrationInProgress = errors.New("engine: calibration in progress")

	// ErrNoActiveTrial is returned when aborting with no running trial.
	ErrNoActiveTrial = errors.New("engine: no active trial")

	// ErrCalibrationNotStarted is returned when calibration points arrive
	// outside a calibration pass.
	ErrCalibrationNotStarted = errors.New("engine: calibration not started")

	// ErrMalformedSample is returned for samples with non-finite or
	// out-of-range fields.
	ErrMalformedSample = errors.New("engine: malformed gaze sample")

	// ErrStaleSample is returned for a sample stamped earlier than the last
	// one processed in the session. It is a malformed sample but not a
	// fault: the sample is dropped and the running trial continues.
	ErrStaleSample = fmt.Errorf("%w: timestamp precedes the last processed sample", ErrMalformedSample)

	// ErrUnknownCommand is returned for an unrecognized command kind.
	ErrUnknownCommand = errors.New("engine: unknown command")
)

// FaultError reports an unexpected failure while processing a sample. The
// trial that was running has been forced to ABORTED.
type FaultError struct {
	// TrialID is the aborted trial, empty if none was running.
	TrialID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	if e.TrialID == "" {
		return fmt.Sprintf("engine: fault: %v", e.Err)
	}
	return fmt.Sprintf("engine: fault in trial %s: %v", e.TrialID, e.Err)
}

// Unwrap returns the underlying error.
func (e *FaultError) Unwrap() error {
	return e.Err
}

// IsFault reports whether err is a processing fault.
func IsFault(err error) bool {
	var fe *FaultError
	return errors.As(err, &fe)
}
