package daemon

import (
	"errors"
	"fmt"
)

// ErrDaemonClosed signals that the actor has terminated. Mailbox submission
// and pending replies resolve to this error; callers must treat the handle
// as dead and must not retry against it.
var ErrDaemonClosed = errors.New("daemon: closed")

// InvalidStateError indicates an operation requested in a state that forbids
// it, such as a mutating call on an identity-less handle or a bootstrap
// request after the first user exists.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return "daemon: invalid state: " + e.Reason
}

// IsInvalidState reports whether err is (or wraps) an InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// ServiceUnavailableError indicates a subsystem collaborator could not be
// reached or started. Callers may retry.
type ServiceUnavailableError struct {
	Subsystem string
	Err       error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("daemon: %s unavailable: %v", e.Subsystem, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error {
	return e.Err
}

// IsServiceUnavailable reports whether err is (or wraps) a ServiceUnavailableError.
func IsServiceUnavailable(err error) bool {
	var target *ServiceUnavailableError
	return errors.As(err, &target)
}
