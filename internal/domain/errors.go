package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine.
var (
	ErrSourceNotFound       = errors.New("source not found")
	ErrStreamNotFound       = errors.New("stream not found")
	ErrUnknownConnectorKind = errors.New("unknown connector kind")
	ErrCursorRegression     = errors.New("cursor value regresses stored cursor")
	ErrJobTerminal          = errors.New("job is in a terminal state")
)

// ConnectorError wraps an error raised by a connector with its retry class.
// Transient errors (timeouts, connection resets) are retried with backoff;
// permanent errors (auth failure, missing stream) fail the stream immediately.
type ConnectorError struct {
	Err       error
	Transient bool
}

func (e *ConnectorError) Error() string {
	if e.Transient {
		return fmt.Sprintf("transient connector error: %v", e.Err)
	}
	return fmt.Sprintf("permanent connector error: %v", e.Err)
}

func (e *ConnectorError) Unwrap() error {
	return e.Err
}

// TransientError marks err as retryable.
func TransientError(err error) error {
	return &ConnectorError{Err: err, Transient: true}
}

// PermanentError marks err as not retryable.
func PermanentError(err error) error {
	return &ConnectorError{Err: err, Transient: false}
}

// IsTransient reports whether err is a connector error classified as
// transient. Unclassified errors are treated as permanent: retrying an
// unknown failure mode risks duplicating side effects.
func IsTransient(err error) bool {
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	return false
}
