package sandbox

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned when an operation is attempted before Start
	// completed or after Cleanup began. This is a caller bug, not retried.
	ErrNotStarted = errors.New("sandbox not started")

	// ErrAlreadyStarted is returned by Start on an already running sandbox.
	// Starting twice would leak the first environment.
	ErrAlreadyStarted = errors.New("sandbox already started")

	// ErrNotFound is returned by ReadFile for a missing path, distinguishable
	// from transport or permission failures.
	ErrNotFound = errors.New("file not found")
)

// ProvisioningError reports that the environment could not be created —
// image pull failure, auth rejection, quota exceeded. Fatal to the session.
type ProvisioningError struct {
	Backend string // "docker" or "daytona"
	Err     error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s sandbox: %v", e.Backend, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }
