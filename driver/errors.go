package driver

import (
	"fmt"
)

// ErrProbeFailed wraps a Preinit failure of one candidate driver; the
// engine falls through to the next candidate.
type ErrProbeFailed struct {
	Name string
	Err  error
}

func (e ErrProbeFailed) Error() string {
	return fmt.Sprintf("unable to preinit driver '%s': %v", e.Name, e.Err)
}

func (e ErrProbeFailed) Unwrap() error {
	return e.Err
}

// ErrNoDriver means no candidate driver could be initialized.
type ErrNoDriver struct {
	Tried []string
}

func (e ErrNoDriver) Error() string {
	return fmt.Sprintf("no usable video output driver (tried: %v)", e.Tried)
}

// ErrUnknownDriver means a requested driver name is not registered.
type ErrUnknownDriver struct {
	Name string
}

func (e ErrUnknownDriver) Error() string {
	return fmt.Sprintf("unknown video output driver '%s'", e.Name)
}
