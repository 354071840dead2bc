package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// ConnectionEstablished is the payload of the relay's handshake event.
type ConnectionEstablished struct {
	SocketID        string
	ActivityTimeout time.Duration
}

// ParseConnectionEstablished extracts the socket id assigned by the relay.
func ParseConnectionEstablished(data json.RawMessage) (ConnectionEstablished, error) {
	socketID := gjson.GetBytes(data, "socket_id").String()
	if socketID == "" {
		return ConnectionEstablished{}, fmt.Errorf("connection_established without socket_id")
	}
	return ConnectionEstablished{
		SocketID:        socketID,
		ActivityTimeout: time.Duration(gjson.GetBytes(data, "activity_timeout").Int()) * time.Second,
	}, nil
}

// ErrorClass tells the supervisor how to react to a relay error code.
type ErrorClass int

const (
	// ErrorInformational leaves the connection as is.
	ErrorInformational ErrorClass = iota
	// ErrorFatal must not be retried (4000-4099).
	ErrorFatal
	// ErrorReconnectBackoff reconnects after the backoff delay (4100-4199).
	ErrorReconnectBackoff
	// ErrorReconnectNow reconnects immediately (4200-4299).
	ErrorReconnectNow
)

// ClassifyCode maps a relay error or close code to an ErrorClass.
func ClassifyCode(code int) ErrorClass {
	switch {
	case code >= 4000 && code <= 4099:
		return ErrorFatal
	case code >= 4100 && code <= 4199:
		return ErrorReconnectBackoff
	case code >= 4200 && code <= 4299:
		return ErrorReconnectNow
	default:
		return ErrorInformational
	}
}

// RelayError is the payload of the relay's error event.
type RelayError struct {
	Code    int
	Message string
}

func (e RelayError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("relay error: %s", e.Message)
	}
	return fmt.Sprintf("relay error %d: %s", e.Code, e.Message)
}

// ParseError extracts code and message. The code is zero when the relay sent null.
func ParseError(data json.RawMessage) RelayError {
	return RelayError{
		Code:    int(gjson.GetBytes(data, "code").Int()),
		Message: gjson.GetBytes(data, "message").String(),
	}
}

// SubscriptionRejection is the payload of a subscription_error event.
type SubscriptionRejection struct {
	Type   string
	Reason string
	Status int
}

// ParseSubscriptionError extracts the rejection reason. Relays send either an
// object with type/error/status or a plain string.
func ParseSubscriptionError(data json.RawMessage) SubscriptionRejection {
	r := gjson.ParseBytes(data)
	if !r.IsObject() {
		return SubscriptionRejection{Reason: r.String()}
	}
	return SubscriptionRejection{
		Type:   r.Get("type").String(),
		Reason: r.Get("error").String(),
		Status: int(r.Get("status").Int()),
	}
}

// Member is a presence channel member.
type Member struct {
	ID   string          `json:"user_id"`
	Info json.RawMessage `json:"user_info,omitempty"`
}

// ParsePresence extracts the member list of a presence subscription_succeeded
// payload, in the order the relay listed the ids.
func ParsePresence(data json.RawMessage) []Member {
	presence := gjson.GetBytes(data, "presence")
	if !presence.Exists() {
		return nil
	}
	hash := presence.Get("hash")
	var members []Member
	presence.Get("ids").ForEach(func(_, id gjson.Result) bool {
		m := Member{ID: id.String()}
		if info := hash.Get(gjson.Escape(m.ID)); info.Exists() {
			m.Info = json.RawMessage(info.Raw)
		}
		members = append(members, m)
		return true
	})
	return members
}

// ParseMember extracts a member_added or member_removed payload.
func ParseMember(data json.RawMessage) (Member, error) {
	r := gjson.ParseBytes(data)
	id := r.Get("user_id").String()
	if id == "" {
		return Member{}, fmt.Errorf("member event without user_id")
	}
	m := Member{ID: id}
	if info := r.Get("user_info"); info.Exists() {
		m.Info = json.RawMessage(info.Raw)
	}
	return m, nil
}
