package realtime

import "time"

// State is the connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateChange describes a transition. Delay is the backoff before the next
// attempt and is only set when entering StateReconnecting. Err is the cause
// of a transition into Reconnecting or Closed, if any.
type StateChange struct {
	From    State
	To      State
	Attempt int
	Delay   time.Duration
	Err     error
}
