package types

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the failure taxonomy. Specific failures wrap one
// of these so callers can branch with errors.Is.
var (
	// ErrConfiguration indicates invalid or missing setup detected before or
	// during monitoring.
	ErrConfiguration = errors.New("configuration error")

	// ErrPathResolution indicates a webhook response path did not resolve.
	ErrPathResolution = errors.New("response path not found")

	// ErrArgumentExtraction indicates a contract event lacked a configured argument.
	ErrArgumentExtraction = errors.New("event argument missing")

	// ErrRemoteCall indicates a network or RPC failure.
	ErrRemoteCall = errors.New("remote call failed")

	// ErrExecutor indicates the action executor failed.
	ErrExecutor = errors.New("action execution failed")

	// ErrBusy indicates Start was called while a run is active.
	ErrBusy = errors.New("run loop already running")

	// ErrNotRunning indicates Interrupt was called with no active run.
	ErrNotRunning = errors.New("run loop not running")

	// ErrCallback indicates a user callback returned an error or panicked.
	ErrCallback = errors.New("condition callback failed")
)

// Configuration failures. All wrap ErrConfiguration.
var (
	ErrMissingProvider   = fmt.Errorf("%w: provider endpoint required", ErrConfiguration)
	ErrInvalidNetwork    = fmt.Errorf("%w: invalid chain identifier", ErrConfiguration)
	ErrDuplicatePriority = fmt.Errorf("%w: duplicate action priority", ErrConfiguration)
	ErrNoConditions      = fmt.Errorf("%w: conditions not set", ErrConfiguration)
	ErrNoActions         = fmt.Errorf("%w: actions not set", ErrConfiguration)
	ErrNoLogic           = fmt.Errorf("%w: conditional logic not set", ErrConfiguration)
	ErrInvalidOperator   = fmt.Errorf("%w: invalid match operator", ErrConfiguration)
	ErrInvalidCondition  = fmt.Errorf("%w: invalid condition", ErrConfiguration)
)

// PhaseError records which phase of a run failed.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return e.Phase + ": " + e.Err.Error()
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// WithPhase wraps err with phase context. Returns nil for nil err.
func WithPhase(phase string, err error) error {
	if err == nil {
		return nil
	}
	return &PhaseError{Phase: phase, Err: err}
}
