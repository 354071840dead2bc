package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind classifies an inbound envelope.
type Kind int

const (
	KindEvent Kind = iota // domain event, delivered to listeners
	KindConnectionEstablished
	KindSubscriptionSucceeded
	KindSubscriptionError
	KindError
	KindPing
	KindPong
	KindMemberAdded
	KindMemberRemoved
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindConnectionEstablished:
		return "connection_established"
	case KindSubscriptionSucceeded:
		return "subscription_succeeded"
	case KindSubscriptionError:
		return "subscription_error"
	case KindError:
		return "error"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindMemberAdded:
		return "member_added"
	case KindMemberRemoved:
		return "member_removed"
	default:
		return "unknown"
	}
}

// Envelope is a decoded inbound frame.
type Envelope struct {
	Kind    Kind
	Event   string
	Channel string
	Data    json.RawMessage
	UserID  string
}

// ChannelAuth is the material returned by a channel authorizer.
type ChannelAuth struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// DecodeError reports an inbound frame that could not be decoded.
type DecodeError struct {
	Frame  []byte
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %s", e.Reason)
}

// Codec encodes outbound frames and decodes inbound ones for a given set of names.
type Codec struct {
	names Names
	kinds map[string]Kind
}

// NewCodec creates a Codec. Empty fields in names fall back to DefaultNames.
func NewCodec(names Names) *Codec {
	names = names.withDefaults()
	return &Codec{
		names: names,
		kinds: map[string]Kind{
			names.ConnectionEstablished: KindConnectionEstablished,
			names.SubscriptionSucceeded: KindSubscriptionSucceeded,
			names.SubscriptionError:     KindSubscriptionError,
			names.Error:                 KindError,
			names.Ping:                  KindPing,
			names.Pong:                  KindPong,
			names.MemberAdded:           KindMemberAdded,
			names.MemberRemoved:         KindMemberRemoved,
		},
	}
}

// RequiresAuth reports whether the channel name needs an authorized subscribe.
func (c *Codec) RequiresAuth(channel string) bool {
	return strings.HasPrefix(channel, c.names.PrivateChannelPrefix) || c.IsPresence(channel)
}

// IsPresence reports whether the channel is a presence channel.
func (c *Codec) IsPresence(channel string) bool {
	return strings.HasPrefix(channel, c.names.PresenceChannelPrefix)
}

type outbound struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data"`
}

type subscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

// EncodeSubscribe builds a subscribe request. auth may be empty for public channels.
func (c *Codec) EncodeSubscribe(channel string, auth ChannelAuth) ([]byte, error) {
	return json.Marshal(outbound{
		Event: c.names.Subscribe,
		Data:  subscribeData{Channel: channel, Auth: auth.Auth, ChannelData: auth.ChannelData},
	})
}

// EncodeUnsubscribe builds an unsubscribe request.
func (c *Codec) EncodeUnsubscribe(channel string) ([]byte, error) {
	return json.Marshal(outbound{
		Event: c.names.Unsubscribe,
		Data:  subscribeData{Channel: channel},
	})
}

// EncodePong builds the reply to a relay ping.
func (c *Codec) EncodePong() ([]byte, error) {
	return json.Marshal(outbound{Event: c.names.Pong, Data: struct{}{}})
}

// EncodePing builds a client-initiated ping.
func (c *Codec) EncodePing() ([]byte, error) {
	return json.Marshal(outbound{Event: c.names.Ping, Data: struct{}{}})
}

// EncodeClientEvent builds a client event. The event name must carry the client
// event prefix and the channel must be private or presence.
func (c *Codec) EncodeClientEvent(channel, event string, data any) ([]byte, error) {
	if !strings.HasPrefix(event, c.names.ClientEventPrefix) {
		return nil, fmt.Errorf("client event %q must start with %q", event, c.names.ClientEventPrefix)
	}
	if !c.RequiresAuth(channel) {
		return nil, fmt.Errorf("client events are only allowed on private or presence channels, got %q", channel)
	}
	return json.Marshal(outbound{Event: event, Channel: channel, Data: data})
}

// Decode parses an inbound frame. Malformed frames yield a *DecodeError.
func (c *Codec) Decode(frame []byte) (Envelope, error) {
	if !gjson.ValidBytes(frame) {
		return Envelope{}, &DecodeError{Frame: frame, Reason: "invalid JSON"}
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return Envelope{}, &DecodeError{Frame: frame, Reason: "frame is not an object"}
	}
	event := root.Get("event")
	if event.Type != gjson.String || event.Str == "" {
		return Envelope{}, &DecodeError{Frame: frame, Reason: "missing event name"}
	}

	env := Envelope{
		Kind:    KindEvent,
		Event:   event.Str,
		Channel: root.Get("channel").String(),
		UserID:  root.Get("user_id").String(),
	}
	if k, ok := c.kinds[env.Event]; ok {
		env.Kind = k
	}

	env.Data = unwrapData(root.Get("data"))
	return env, nil
}

// unwrapData returns the payload as raw JSON. Relays commonly send the payload
// as a JSON-encoded string; that string is unwrapped when it holds valid JSON.
func unwrapData(data gjson.Result) json.RawMessage {
	if !data.Exists() {
		return nil
	}
	if data.Type == gjson.String && gjson.Valid(data.Str) {
		if inner := gjson.Parse(data.Str); inner.IsObject() || inner.IsArray() {
			return json.RawMessage(data.Str)
		}
	}
	return json.RawMessage(data.Raw)
}

// Authorizer obtains auth material for a private or presence channel. It is
// called off the dispatch path and may block on network I/O.
type Authorizer interface {
	Authorize(ctx context.Context, socketID, channel string) (ChannelAuth, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, socketID, channel string) (ChannelAuth, error)

// Authorize calls f.
func (f AuthorizerFunc) Authorize(ctx context.Context, socketID, channel string) (ChannelAuth, error) {
	return f(ctx, socketID, channel)
}
