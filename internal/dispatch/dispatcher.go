// Package dispatch routes decoded domain events to listeners keyed by
// channel and event name.
package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Wildcard matches every event on a channel.
const Wildcard = "*"

// Event is a domain event delivered to listeners.
type Event struct {
	Channel string
	Name    string
	Data    json.RawMessage
	UserID  string
}

// Listener receives events.
type Listener func(Event)

// ID identifies a registered listener.
type ID uint64

// ListenerError reports a listener that panicked.
type ListenerError struct {
	ID      ID
	Channel string
	Event   string
	Value   any
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %d for %s/%s panicked: %v", e.ID, e.Channel, e.Event, e.Value)
}

type key struct {
	channel string
	event   string
}

type entry struct {
	id ID
	fn Listener
}

// Dispatcher holds listeners. On and Off are safe for concurrent use; Dispatch
// is expected to run on a single goroutine.
type Dispatcher struct {
	mu        sync.RWMutex
	next      ID
	listeners map[key][]entry
	index     map[ID]key
	onError   func(*ListenerError)
}

// New creates a Dispatcher. onError may be nil.
func New(onError func(*ListenerError)) *Dispatcher {
	return &Dispatcher{
		listeners: make(map[key][]entry),
		index:     make(map[ID]key),
		onError:   onError,
	}
}

// On registers fn for event on channel. Use Wildcard as event to receive
// every event on the channel.
func (d *Dispatcher) On(channel, event string, fn Listener) ID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	id := d.next
	k := key{channel: channel, event: event}
	d.listeners[k] = append(d.listeners[k], entry{id: id, fn: fn})
	d.index[id] = k
	return id
}

// Off removes a listener. It reports whether the listener was registered.
func (d *Dispatcher) Off(id ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	k, ok := d.index[id]
	if !ok {
		return false
	}
	delete(d.index, id)

	entries := d.listeners[k]
	for i, e := range entries {
		if e.id == id {
			// Copy so a Dispatch holding the old slice is unaffected.
			next := make([]entry, 0, len(entries)-1)
			next = append(next, entries[:i]...)
			next = append(next, entries[i+1:]...)
			entries = next
			break
		}
	}
	if len(entries) == 0 {
		delete(d.listeners, k)
	} else {
		d.listeners[k] = entries
	}
	return true
}

// Len returns the number of registered listeners.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.index)
}

// Dispatch delivers ev to exact listeners, then wildcard listeners, in
// registration order. It returns the number of listeners invoked.
func (d *Dispatcher) Dispatch(ev Event) int {
	d.mu.RLock()
	exact := d.listeners[key{channel: ev.Channel, event: ev.Name}]
	var wild []entry
	if ev.Name != Wildcard {
		wild = d.listeners[key{channel: ev.Channel, event: Wildcard}]
	}
	d.mu.RUnlock()

	for _, e := range exact {
		d.invoke(e, ev)
	}
	for _, e := range wild {
		d.invoke(e, ev)
	}
	return len(exact) + len(wild)
}

func (d *Dispatcher) invoke(e entry, ev Event) {
	defer func() {
		if r := recover(); r != nil && d.onError != nil {
			d.onError(&ListenerError{ID: e.id, Channel: ev.Channel, Event: ev.Name, Value: r})
		}
	}()
	e.fn(ev)
}
