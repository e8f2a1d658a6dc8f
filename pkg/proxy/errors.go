package proxy

import (
	"fmt"
	"time"
)

// UpstreamUnavailableError is returned when the upstream can't be reached
// or the connection to it fails before a response is received.
type UpstreamUnavailableError struct {
	Target string // upstream origin
	Path   string // original request path
	Err    error
}

// Error implements the error interface.
func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream %s unavailable for %s: %v", e.Target, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// UpstreamTimeoutError is returned when the upstream doesn't respond
// within the request deadline.
type UpstreamTimeoutError struct {
	Target  string // upstream origin
	Path    string // original request path
	Timeout time.Duration
	Err     error
}

// Error implements the error interface.
func (e *UpstreamTimeoutError) Error() string {
	return fmt.Sprintf("upstream %s timed out after %s for %s", e.Target, e.Timeout, e.Path)
}

// Unwrap returns the underlying error.
func (e *UpstreamTimeoutError) Unwrap() error { return e.Err }
