package realtime

import (
	"errors"
	"fmt"

	"github.com/Prescott-Data/nexus-framework/nexus-realtime/internal/dispatch"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/protocol"
)

var (
	// ErrNotConnected is returned when a frame is sent while the client is not connected.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("realtime: client closed")
	// ErrAlreadyConnected is returned by a second Connect.
	ErrAlreadyConnected = errors.New("realtime: already connected")
)

// DecodeError and ListenerError are the internal error kinds surfaced to
// loggers and metrics.
type (
	DecodeError   = protocol.DecodeError
	ListenerError = dispatch.ListenerError
)

// PermanentError represents an error that should not be retried.
// When the client encounters this error it stops reconnecting and closes.
type PermanentError struct {
	Err error
}

// NewPermanentError creates a new PermanentError.
func NewPermanentError(err error) *PermanentError {
	return &PermanentError{Err: err}
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent error: %v", e.Err)
}

// Unwrap provides compatibility for Go 1.13+ error chains.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// TransportError reports a lost connection. It triggers the reconnect policy.
type TransportError struct {
	Code int
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection lost (code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("connection lost (code %d)", e.Code)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SubscriptionError reports a channel the relay or the authorizer rejected.
// It is never retried automatically; subscribe again once the cause is fixed.
type SubscriptionError struct {
	Channel string
	Reason  string
	Status  int
	Err     error
}

func (e *SubscriptionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("subscription to %s failed (status %d): %s", e.Channel, e.Status, e.Reason)
	}
	return fmt.Sprintf("subscription to %s failed: %s", e.Channel, e.Reason)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
