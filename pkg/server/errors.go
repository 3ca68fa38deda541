package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry and session operations.
var (
	// ErrRegistryClosed is returned by Acquire after Shutdown.
	ErrRegistryClosed = errors.New("server: registry closed")

	// ErrSessionClosed is returned when an operation is attempted on an
	// evicted or shut down session.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrMaxSessionsReached is returned when the session limit is reached.
	ErrMaxSessionsReached = errors.New("server: max sessions reached")

	// ErrNotLoaded is returned by Edit before the document has loaded.
	ErrNotLoaded = errors.New("server: document not loaded")

	// ErrOpenTimeout is returned when a connection does not send its open
	// message in time.
	ErrOpenTimeout = errors.New("server: no open message")
)

// SessionError wraps an error with the key of the session it occurred in.
type SessionError struct {
	Key string
	Op  string
	Err error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: session %s: %s: %v", e.Key, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}
