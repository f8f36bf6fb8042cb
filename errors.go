package layershim

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNoDispatch indicates a call for an object the layer has no table for
	// and no passthrough library to forward to.
	ErrNoDispatch = errors.New("layershim: no dispatch context for object")

	// ErrNoLink indicates the create-info chain carries no loader link info.
	ErrNoLink = errors.New("layershim: loader link info not found in create-info chain")

	// ErrClosed indicates the layer has been closed.
	ErrClosed = errors.New("layershim: layer is closed")

	// ErrNoPassthrough indicates passthrough loading is not supported on this platform.
	ErrNoPassthrough = errors.New("layershim: passthrough not supported on this platform")
)

// Result is an API result code as returned across the C boundary.
type Result int32

// Result codes used by the layer.
const (
	Success                   Result = 0
	NotReady                  Result = 1
	Incomplete                Result = 5
	ErrorOutOfHostMemory      Result = -1
	ErrorInitializationFailed Result = -3
	ErrorLayerNotPresent      Result = -6
	ErrorExtensionNotPresent  Result = -7
)

// String returns the name of the result code.
func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case NotReady:
		return "not ready"
	case Incomplete:
		return "incomplete"
	case ErrorOutOfHostMemory:
		return "out of host memory"
	case ErrorInitializationFailed:
		return "initialization failed"
	case ErrorLayerNotPresent:
		return "layer not present"
	case ErrorExtensionNotPresent:
		return "extension not present"
	default:
		return fmt.Sprintf("result(%d)", int32(r))
	}
}

// ResultError is a non-success result returned by the next layer.
type ResultError struct {
	Op     string
	Result Result
	Err    error // underlying cause, if any
}

// Error implements the error interface.
func (e *ResultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("layershim: %s: %s: %v", e.Op, e.Result, e.Err)
	}
	return fmt.Sprintf("layershim: %s: %s", e.Op, e.Result)
}

// Unwrap returns the underlying cause.
func (e *ResultError) Unwrap() error {
	return e.Err
}

// NewResultError creates a ResultError for a failed result.
// Returns nil if r is not negative.
func NewResultError(r Result, op string) error {
	if r >= 0 {
		return nil
	}
	return &ResultError{Op: op, Result: r}
}

// ResultOf maps an error to the result code to hand back to the caller.
func ResultOf(err error) Result {
	if err == nil {
		return Success
	}
	var re *ResultError
	if errors.As(err, &re) {
		return re.Result
	}
	return ErrorInitializationFailed
}
