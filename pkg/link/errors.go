package link

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported means this device class cannot use the channel at
	// all. Fatal for the call, not for the process; every operation that
	// touches the session surfaces it identically.
	ErrNotSupported = errors.New("link: messaging not supported on this device")

	// ErrNotActive means the session exists but is not activated. Callers
	// should Activate first.
	ErrNotActive = errors.New("link: session not activated")

	// ErrClosed means the Session has been closed and no further
	// operations are possible on it.
	ErrClosed = errors.New("link: session closed")
)

// PlatformError wraps an opaque failure surfaced by the platform for a
// specific operation. The underlying error is propagated verbatim and never
// retried by this package.
type PlatformError struct {
	Op  string
	Err error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("link: platform %s: %v", e.Op, e.Err)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}
