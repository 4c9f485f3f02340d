package types

import (
	"fmt"
)

// The error taxonomy shared by the driver contract and the render-context
// API:
//
//   - construction failures (ErrUnsupported, ErrNotImplemented,
//     ErrInvalidParameter) are synchronous, typed and never fatal: the
//     caller may retry with different parameters or fall back to another
//     driver;
//   - transient resource pressure (ErrNotReady) is resolved by caller
//     retry/backpressure;
//   - teardown races surface as ErrDestroyed, never as undefined behavior.

// ErrUnsupported means the requested backend (or its version/extensions)
// is not supported.
type ErrUnsupported struct {
	Reason string
}

func (e ErrUnsupported) Error() string {
	if e.Reason == "" {
		return "unsupported"
	}
	return fmt.Sprintf("unsupported: %s", e.Reason)
}

// ErrNotImplemented means the requested operation or API type is unknown
// to this build.
type ErrNotImplemented struct {
	What string
}

func (e ErrNotImplemented) Error() string {
	if e.What == "" {
		return "not implemented"
	}
	return fmt.Sprintf("not implemented: %s", e.What)
}

// ErrInvalidParameter means a provided parameter was malformed or a
// required parameter was missing.
type ErrInvalidParameter struct {
	Param string
	Err   error
}

func (e ErrInvalidParameter) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid parameter '%s': %v", e.Param, e.Err)
	}
	return fmt.Sprintf("invalid parameter '%s'", e.Param)
}

func (e ErrInvalidParameter) Unwrap() error {
	return e.Err
}

// ErrNotReady is a local "try again" condition: the frame queue is over
// capacity or the output is still blocked. It is not a failure.
type ErrNotReady struct {
	Reason string
}

func (e ErrNotReady) Error() string {
	if e.Reason == "" {
		return "not ready"
	}
	return fmt.Sprintf("not ready: %s", e.Reason)
}

// ErrDestroyed is returned to callers which raced against a concurrent
// destroy/free: the operation did not happen, but the caller observed a
// clean failure.
type ErrDestroyed struct{}

func (e ErrDestroyed) Error() string {
	return "the object is already destroyed"
}
