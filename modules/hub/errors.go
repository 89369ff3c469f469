package hub

import (
	"errors"
	"fmt"
)

// Error codes carried by the "error" frame.
const (
	CodeMalformedFrame    = "malformed_frame"
	CodeUnknownEvent      = "unknown_event"
	CodeValidationFailed  = "validation_failed"
	CodePersistenceFailed = "persistence_failed"
	CodeInternal          = "internal_error"
	CodeRateLimited       = "rate_limited"
)

var (
	// ErrUnauthenticated is returned for any operation on a connection without an identity.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrUnknownConnection is returned when a connection id is not registered or already closed.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrDuplicateConnection is returned when a connection id is opened twice.
	ErrDuplicateConnection = errors.New("connection already open")
	// ErrAuthTimeout is returned when the auth collaborator does not answer in time.
	ErrAuthTimeout = errors.New("authentication timed out")
)

// AuthenticationError means the token was rejected. The connection stays open.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// ValidationError means the event was rejected before any state changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// PersistenceError means the durable store failed. Nothing was delivered.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ProtocolError means the frame could not be decoded into a known event.
type ProtocolError struct {
	Code   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return e.Reason
}
