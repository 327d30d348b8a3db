package dot1x

import "errors"

// Sentinel errors for the management surface and endpoint plumbing.
// Malformed wire input never surfaces through these: it is counted on
// the port and dropped.
var (
	// ErrInvalidParameter indicates an unknown parameter name.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidPort indicates a port index outside 1..numPorts.
	// Port index 0 is always a configuration error, even with switch
	// tagging enabled.
	ErrInvalidPort = errors.New("invalid port index")

	// ErrWrongValue indicates a parameter value outside its range.
	ErrWrongValue = errors.New("value out of range")

	// ErrWrongState indicates an operation invalid in the current state.
	ErrWrongState = errors.New("wrong state for operation")

	// ErrInvalidLength indicates an over-long buffer-bound value.
	ErrInvalidLength = errors.New("invalid length")

	// ErrServiceClosing indicates the context is shutting down.
	ErrServiceClosing = errors.New("service closing")

	// ErrNotImplemented indicates an operation outside this engine.
	ErrNotImplemented = errors.New("not implemented")
)
