// Package transport owns the raw socket to the relay. It knows nothing about
// the relay protocol and never retries; reconnection belongs to the caller.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send once the connection is closed.
var ErrNotConnected = errors.New("transport: not connected")

// CloseAbnormal is reported when the connection ended without a close frame.
const CloseAbnormal = 1006

// Handler receives connection signals. Calls for one connection are
// sequential: OnOpen, any number of OnMessage, optionally OnError, then
// exactly one OnClose. OnOpen runs before the first OnMessage. OnClose is
// not called when the local side closed the connection.
type Handler interface {
	OnOpen(conn Conn)
	OnMessage(frame []byte)
	OnError(err error)
	OnClose(code int)
}

// Conn is an open connection.
type Conn interface {
	// Send queues a text frame. It fails with ErrNotConnected once closed.
	Send(frame []byte) error
	// Close closes the connection. It is safe to call more than once.
	Close() error
}

// Dialer opens connections. Dial blocks until the handshake completes, fails,
// or ctx is cancelled.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, h Handler) (Conn, error)
}

// HandshakeError reports a dial rejected by the server with an HTTP status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }
