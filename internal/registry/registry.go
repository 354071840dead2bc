// Package registry tracks desired and confirmed channel subscriptions.
//
// The registry performs no I/O. Each method returns what the caller must send,
// so the supervisor stays the only owner of the connection.
package registry

import (
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/protocol"
)

// Phase is where a subscription stands on the current connection.
type Phase int

const (
	PhaseIdle        Phase = iota // nothing sent on this connection yet
	PhaseAuthorizing              // waiting for the authorizer
	PhasePending                  // subscribe sent, waiting for the relay
	PhaseActive                   // relay confirmed
	PhaseFailed                   // relay or authorizer rejected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAuthorizing:
		return "authorizing"
	case PhasePending:
		return "pending"
	case PhaseActive:
		return "active"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Subscription is the state of one channel.
type Subscription struct {
	Name       string
	Desired    bool
	Phase      Phase
	Authorizer protocol.Authorizer

	attempt uint64
	members []protocol.Member
}

// Active reports whether the relay confirmed the subscription.
func (s *Subscription) Active() bool { return s.Phase == PhaseActive }

// Request is a subscription the caller must start.
type Request struct {
	Name       string
	Authorizer protocol.Authorizer
}

// Registry is not safe for concurrent use; it is owned by the supervisor loop.
type Registry struct {
	subs      map[string]*Subscription
	order     []string
	connected bool
	seq       uint64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{subs: make(map[string]*Subscription)}
}

// Subscribe marks the channel as desired. It returns true when the caller must
// start a subscribe now: the connection is up and nothing is in flight or
// confirmed. A previously failed channel is started again.
func (r *Registry) Subscribe(name string, auth protocol.Authorizer) bool {
	s, ok := r.subs[name]
	if !ok {
		s = &Subscription{Name: name}
		r.subs[name] = s
		r.order = append(r.order, name)
	}
	s.Desired = true
	if auth != nil {
		s.Authorizer = auth
	}
	return r.connected && (s.Phase == PhaseIdle || s.Phase == PhaseFailed)
}

// Unsubscribe marks the channel as no longer desired. It returns true when the
// caller must send an unsubscribe frame now. A subscribe still waiting for the
// relay is kept until the relay answers, see Succeeded.
func (r *Registry) Unsubscribe(name string) bool {
	s, ok := r.subs[name]
	if !ok {
		return false
	}
	switch s.Phase {
	case PhaseActive:
		r.remove(name)
		return true
	case PhasePending:
		s.Desired = false
		return false
	default:
		r.remove(name)
		return false
	}
}

// Connected records a new connection. Every channel restarts from idle and the
// desired ones are returned in subscription order.
func (r *Registry) Connected() []Request {
	r.connected = true
	var reqs []Request
	for _, name := range append([]string(nil), r.order...) {
		s := r.subs[name]
		if !s.Desired {
			r.remove(name)
			continue
		}
		s.Phase = PhaseIdle
		s.members = nil
		reqs = append(reqs, Request{Name: name, Authorizer: s.Authorizer})
	}
	return reqs
}

// Disconnected clears all confirmations.
func (r *Registry) Disconnected() {
	r.connected = false
	for _, name := range append([]string(nil), r.order...) {
		s := r.subs[name]
		if !s.Desired {
			r.remove(name)
			continue
		}
		s.Phase = PhaseIdle
		s.members = nil
	}
}

// BeginAuthorize moves the channel to authorizing and returns a token that
// must be presented with the result.
func (r *Registry) BeginAuthorize(name string) uint64 {
	s, ok := r.subs[name]
	if !ok {
		return 0
	}
	r.seq++
	s.Phase = PhaseAuthorizing
	s.attempt = r.seq
	return s.attempt
}

// Authorized reports whether an authorizer result for attempt is still wanted.
func (r *Registry) Authorized(name string, attempt uint64) bool {
	s, ok := r.subs[name]
	return ok && r.connected && s.Desired && s.Phase == PhaseAuthorizing && s.attempt == attempt
}

// AuthorizeFailed records a failed authorization. It returns true when the
// failure belongs to the current attempt and must be surfaced.
func (r *Registry) AuthorizeFailed(name string, attempt uint64) bool {
	if !r.Authorized(name, attempt) {
		return false
	}
	r.subs[name].Phase = PhaseFailed
	return true
}

// MarkPending records that a subscribe frame was sent.
func (r *Registry) MarkPending(name string) {
	if s, ok := r.subs[name]; ok {
		s.Phase = PhasePending
	}
}

// Succeeded applies a relay confirmation. known is false for channels the
// registry does not track. unsubscribe is true when the application dropped
// interest while the subscribe was in flight; the caller must then send an
// unsubscribe frame.
func (r *Registry) Succeeded(name string, members []protocol.Member) (known, unsubscribe bool) {
	s, ok := r.subs[name]
	if !ok || !r.connected {
		return false, false
	}
	if !s.Desired {
		r.remove(name)
		return true, true
	}
	s.Phase = PhaseActive
	s.members = members
	return true, false
}

// Failed applies a relay rejection. It returns true when the rejection
// concerns a channel the application still wants and must be surfaced. The
// channel is not retried until the next connection or an explicit Subscribe.
func (r *Registry) Failed(name string) bool {
	s, ok := r.subs[name]
	if !ok {
		return false
	}
	if !s.Desired {
		r.remove(name)
		return false
	}
	s.Phase = PhaseFailed
	s.members = nil
	return true
}

// IsActive reports whether events for the channel may be dispatched.
func (r *Registry) IsActive(name string) bool {
	s, ok := r.subs[name]
	return ok && r.connected && s.Phase == PhaseActive
}

// Get returns a copy of the channel state.
func (r *Registry) Get(name string) (Subscription, bool) {
	s, ok := r.subs[name]
	if !ok {
		return Subscription{}, false
	}
	return *s, true
}

// Channels returns the desired channels in subscription order.
func (r *Registry) Channels() []string {
	var out []string
	for _, name := range r.order {
		if r.subs[name].Desired {
			out = append(out, name)
		}
	}
	return out
}

// Members returns the members of an active presence channel.
func (r *Registry) Members(name string) []protocol.Member {
	s, ok := r.subs[name]
	if !ok || s.Phase != PhaseActive {
		return nil
	}
	return append([]protocol.Member(nil), s.members...)
}

// AddMember records a member_added event. It returns false for inactive channels.
func (r *Registry) AddMember(name string, m protocol.Member) bool {
	s, ok := r.subs[name]
	if !ok || s.Phase != PhaseActive {
		return false
	}
	for i, existing := range s.members {
		if existing.ID == m.ID {
			s.members[i] = m
			return true
		}
	}
	s.members = append(s.members, m)
	return true
}

// RemoveMember records a member_removed event.
func (r *Registry) RemoveMember(name, id string) bool {
	s, ok := r.subs[name]
	if !ok || s.Phase != PhaseActive {
		return false
	}
	for i, existing := range s.members {
		if existing.ID == id {
			s.members = append(s.members[:i:i], s.members[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) remove(name string) {
	delete(r.subs, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
