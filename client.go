// Package realtime is a channel event client for Pusher-compatible relays.
//
// A Client keeps one WebSocket connection to the relay alive. It subscribes
// and authorizes channels, and delivers domain events to listeners registered
// per channel and event name. Connection loss is recovered with exponential
// backoff. Rejected subscriptions are reported and never retried on their own.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/Prescott-Data/nexus-framework/nexus-realtime/internal/dispatch"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/internal/registry"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/protocol"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/telemetry"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/transport"
)

// Event is a domain event delivered to listeners.
type Event = dispatch.Event

// Listener receives events.
type Listener = dispatch.Listener

// ListenerID identifies a registered listener.
type ListenerID = dispatch.ID

// Wildcard matches every event on a channel.
const Wildcard = dispatch.Wildcard

var (
	errConnectTimeout = errors.New("timed out waiting for connection_established")
	errPongTimeout    = errors.New("relay did not answer ping")
)

// Client manages one relay connection and its channel subscriptions.
//
// All methods are safe for concurrent use and never block on the network.
// Their effects are applied by a single supervisor goroutine in the order the
// calls were made, interleaved with the connection's own events.
type Client struct {
	id                string
	logger            Logger
	metrics           Metrics
	retryPolicy       RetryPolicy
	dialer            transport.Dialer
	codec             *protocol.Codec
	connectTimeout    time.Duration
	authTimeout       time.Duration
	activityTimeout   time.Duration
	pongTimeout       time.Duration
	defaultAuthorizer protocol.Authorizer

	hmu              sync.RWMutex
	stateHandlers    []func(StateChange)
	subErrorHandlers []func(*SubscriptionError)

	dispatcher *dispatch.Dispatcher
	state      atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Mailbox.
	qmu            sync.Mutex
	queue          []message
	wake           chan struct{}
	started        bool
	closeRequested bool
	closeDelivered bool
	stopped        bool

	// Loop state, guarded by mu and only written by the supervisor goroutine.
	mu            sync.Mutex
	registry      *registry.Registry
	endpoint      string
	gen           uint64
	conn          transport.Conn
	socketID      string
	idleTimeout   time.Duration
	awaitingPong  bool
	lastErr       error
	terminalErr   error
	attempt       int
	bo            *backoff.ExponentialBackOff
	retryTimer    *time.Timer
	connectTimer  *time.Timer
	activityTimer *time.Timer
	dialCancel    context.CancelFunc
	notes         []func()
}

// New creates a new Client with optional configurations.
func New(opts ...Option) *Client {
	// Define default values
	c := &Client{
		id:             uuid.NewString(),
		logger:         &nopLogger{},
		metrics:        &nopMetrics{},
		retryPolicy:    DefaultRetryPolicy(),
		codec:          protocol.NewCodec(protocol.DefaultNames()),
		connectTimeout: 15 * time.Second,
		authTimeout:    10 * time.Second,
		pongTimeout:    30 * time.Second,
		done:           make(chan struct{}),
		wake:           make(chan struct{}, 1),
		registry:       registry.New(),
	}

	// Apply all the functional options provided by the user
	for _, opt := range opts {
		opt(c)
	}

	if c.dialer == nil {
		c.dialer = transport.NewWebSocketDialer()
	}
	c.dispatcher = dispatch.New(c.onListenerError)
	c.bo = newBackOff(c.retryPolicy)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// NewStandard creates a new Client with production-ready defaults:
// - Structured JSON logging (Slog) to Stdout
// - Prometheus metrics registered to the default registry
func NewStandard(labels map[string]string, opts ...Option) *Client {
	// Prepend telemetry options so user can still override them if needed
	defaultOpts := []Option{
		WithLogger(telemetry.NewLogger()),
		WithMetrics(telemetry.NewMetrics(nil, labels)), // nil = use default registry
	}
	return New(append(defaultOpts, opts...)...)
}

// ID returns the client's instance id, used to correlate logs.
func (c *Client) ID() string { return c.id }

// Connect starts the supervisor and begins connecting to endpoint. It returns
// immediately; progress is reported through state changes.
func (c *Client) Connect(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("realtime: empty endpoint")
	}
	c.qmu.Lock()
	switch {
	case c.closeRequested || c.stopped:
		c.qmu.Unlock()
		return ErrClosed
	case c.started:
		c.qmu.Unlock()
		return ErrAlreadyConnected
	}
	c.started = true
	c.qmu.Unlock()

	c.post(cmdOpen{endpoint: endpoint})
	go c.run()
	return nil
}

// Close stops the client. Any pending backoff and in-flight dial or channel
// authorization are aborted. It is safe to call more than once.
func (c *Client) Close() error {
	c.cancel()

	c.qmu.Lock()
	if c.closeRequested {
		c.qmu.Unlock()
		return nil
	}
	c.closeRequested = true
	started := c.started
	if !started {
		c.stopped = true
	}
	c.qmu.Unlock()

	if !started {
		c.mu.Lock()
		c.setState(StateClosed, StateChange{})
		notes := c.takeNotes()
		c.mu.Unlock()
		runNotes(notes)
		close(c.done)
		return nil
	}
	c.signal()
	return nil
}

// Done is closed once the client has shut down, either through Close or
// after a permanent error.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the permanent error that shut the client down, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminalErr
}

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// SocketID returns the id assigned by the relay to the current connection.
func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Subscribe expresses interest in a channel. auth may be nil: private and
// presence channels then use the client's default authorizer. Subscribing to
// a channel that is already wanted is a no-op, except that a previously
// rejected channel is tried again.
func (c *Client) Subscribe(channel string, auth protocol.Authorizer) error {
	if channel == "" {
		return fmt.Errorf("realtime: empty channel name")
	}
	if c.isClosed() {
		return ErrClosed
	}
	c.post(cmdSubscribe{channel: channel, auth: auth})
	return nil
}

// Unsubscribe drops interest in a channel. Listeners stay registered.
func (c *Client) Unsubscribe(channel string) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.post(cmdUnsubscribe{channel: channel})
	return nil
}

// On registers fn for event on channel; use Wildcard to receive every event
// on the channel. Listeners may be registered before subscribing and survive
// reconnects.
func (c *Client) On(channel, event string, fn Listener) ListenerID {
	return c.dispatcher.On(channel, event, fn)
}

// Off removes a listener registered with On.
func (c *Client) Off(id ListenerID) bool {
	return c.dispatcher.Off(id)
}

// OnStateChange registers a handler for connection state changes.
func (c *Client) OnStateChange(fn func(StateChange)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.stateHandlers = append(c.stateHandlers, fn)
}

// OnSubscriptionError registers a handler for rejected subscriptions.
func (c *Client) OnSubscriptionError(fn func(*SubscriptionError)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.subErrorHandlers = append(c.subErrorHandlers, fn)
}

// Trigger sends a client event on a private or presence channel. It fails
// with ErrNotConnected unless the client is connected.
func (c *Client) Trigger(channel, event string, data any) error {
	if c.isClosed() {
		return ErrClosed
	}
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	frame, err := c.codec.EncodeClientEvent(channel, event, data)
	if err != nil {
		return err
	}
	c.post(cmdSend{frame: frame})
	return nil
}

// Channels returns the channels the application currently wants.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Channels()
}

// Members returns the members of a subscribed presence channel.
func (c *Client) Members(channel string) []protocol.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Members(channel)
}

// --- Mailbox ---

type message interface{}

type (
	cmdOpen          struct{ endpoint string }
	cmdClose         struct{ dropped []message }
	cmdSubscribe     struct {
		channel string
		auth    protocol.Authorizer
	}
	cmdUnsubscribe struct{ channel string }
	cmdSend        struct{ frame []byte }

	evOpened struct {
		gen  uint64
		conn transport.Conn
	}
	evDialFailed struct {
		gen uint64
		err error
	}
	evMessage struct {
		gen   uint64
		frame []byte
	}
	evTransportError struct {
		gen uint64
		err error
	}
	evClosed struct {
		gen  uint64
		code int
	}
	evRetry          struct{ gen uint64 }
	evConnectTimeout struct{ gen uint64 }
	evActivity       struct{ gen uint64 }
	evAuthorized     struct {
		gen     uint64
		channel string
		attempt uint64
		auth    protocol.ChannelAuth
		err     error
	}
)

// post queues m. It returns false once the client has stopped.
func (c *Client) post(m message) bool {
	c.qmu.Lock()
	if c.stopped {
		c.qmu.Unlock()
		return false
	}
	c.queue = append(c.queue, m)
	c.qmu.Unlock()
	c.signal()
	return true
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pop returns the next message. A requested close jumps the queue.
func (c *Client) pop() (message, bool) {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	if c.closeRequested && !c.closeDelivered {
		c.closeDelivered = true
		dropped := c.queue
		c.queue = nil
		return cmdClose{dropped: dropped}, true
	}
	if len(c.queue) == 0 {
		return nil, false
	}
	m := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return m, true
}

func (c *Client) isClosed() bool {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return c.closeRequested || c.stopped
}

func (c *Client) run() {
	defer close(c.done)
	for range c.wake {
		for {
			m, ok := c.pop()
			if !ok {
				break
			}
			c.mu.Lock()
			c.handle(m)
			notes := c.takeNotes()
			c.mu.Unlock()

			runNotes(notes)

			c.qmu.Lock()
			stopped := c.stopped
			c.qmu.Unlock()
			if stopped {
				return
			}
		}
	}
}

func (c *Client) takeNotes() []func() {
	notes := c.notes
	c.notes = nil
	return notes
}

func runNotes(notes []func()) {
	for _, n := range notes {
		n()
	}
}

// --- Supervisor ---

func (c *Client) handle(m message) {
	switch m := m.(type) {
	case cmdOpen:
		c.endpoint = m.endpoint
		c.setState(StateConnecting, StateChange{})
		c.dial()

	case cmdClose:
		c.logger.Info("Closing client", "clientID", c.id)
		discard(m.dropped)
		c.shutdown(nil)

	case cmdSubscribe:
		if c.registry.Subscribe(m.channel, m.auth) {
			sub, _ := c.registry.Get(m.channel)
			c.startSubscribe(registry.Request{Name: m.channel, Authorizer: sub.Authorizer})
		}

	case cmdUnsubscribe:
		if c.registry.Unsubscribe(m.channel) {
			c.sendUnsubscribe(m.channel)
		}

	case cmdSend:
		if err := c.send(m.frame); err != nil {
			c.logger.Error(err, "Dropping client event", "clientID", c.id)
		}

	case evOpened:
		if m.gen != c.gen {
			m.conn.Close()
			return
		}
		c.conn = m.conn
		c.lastErr = nil
		c.metrics.IncConnections()
		c.logger.Info("Successfully established WebSocket connection", "clientID", c.id, "endpoint", c.endpoint)

	case evDialFailed:
		if m.gen != c.gen {
			return
		}
		c.logger.Error(m.err, "Dial failed", "clientID", c.id, "endpoint", c.endpoint)
		if isPermanentDialError(m.err) {
			c.shutdown(NewPermanentError(m.err))
			return
		}
		c.reconnect(&TransportError{Err: m.err}, false)

	case evMessage:
		if m.gen != c.gen {
			return
		}
		if c.State() == StateConnected {
			c.awaitingPong = false
			c.armActivity(c.idleTimeout)
		}
		c.handleFrame(m.frame)

	case evTransportError:
		if m.gen != c.gen {
			return
		}
		c.lastErr = m.err

	case evClosed:
		if m.gen != c.gen {
			return
		}
		c.conn = nil
		err := &TransportError{Code: m.code, Err: c.lastErr}
		c.logger.Error(err, "Connection closed by relay", "clientID", c.id, "code", m.code)
		switch protocol.ClassifyCode(m.code) {
		case protocol.ErrorFatal:
			c.shutdown(NewPermanentError(err))
		case protocol.ErrorReconnectNow:
			c.reconnect(err, true)
		default:
			c.reconnect(err, false)
		}

	case evRetry:
		if m.gen != c.gen || c.State() != StateReconnecting {
			return
		}
		c.setState(StateConnecting, StateChange{Attempt: c.attempt})
		c.dial()

	case evConnectTimeout:
		if m.gen != c.gen || c.State() != StateConnecting {
			return
		}
		c.logger.Info("Connect attempt timed out", "clientID", c.id, "after", c.connectTimeout)
		c.reconnect(&TransportError{Err: errConnectTimeout}, false)

	case evActivity:
		if m.gen != c.gen || c.State() != StateConnected {
			return
		}
		if c.awaitingPong {
			c.logger.Info("Relay did not answer ping", "clientID", c.id, "after", c.pongTimeout)
			c.reconnect(&TransportError{Err: errPongTimeout}, false)
			return
		}
		ping, err := c.codec.EncodePing()
		if err == nil {
			err = c.send(ping)
		}
		if err != nil {
			c.logger.Error(err, "Failed to send ping", "clientID", c.id)
		}
		c.awaitingPong = true
		c.armActivity(c.pongTimeout)

	case evAuthorized:
		if m.gen != c.gen {
			return
		}
		if m.err != nil {
			if c.registry.AuthorizeFailed(m.channel, m.attempt) {
				c.logger.Error(m.err, "Channel authorization failed", "clientID", c.id, "channel", m.channel)
				c.reportSubscriptionError(&SubscriptionError{Channel: m.channel, Reason: m.err.Error(), Err: m.err})
			}
			return
		}
		if c.registry.Authorized(m.channel, m.attempt) {
			c.sendSubscribe(m.channel, m.auth)
		}
	}
}

func (c *Client) handleFrame(frame []byte) {
	env, err := c.codec.Decode(frame)
	if err != nil {
		c.metrics.IncDecodeErrors()
		c.logger.Error(err, "Dropping malformed frame", "clientID", c.id, "size", len(frame))
		return
	}

	switch env.Kind {
	case protocol.KindConnectionEstablished:
		established, err := protocol.ParseConnectionEstablished(env.Data)
		if err != nil {
			c.metrics.IncDecodeErrors()
			c.logger.Error(err, "Dropping malformed frame", "clientID", c.id, "event", env.Event)
			return
		}
		c.onEstablished(established)

	case protocol.KindSubscriptionSucceeded:
		var members []protocol.Member
		if c.codec.IsPresence(env.Channel) {
			members = protocol.ParsePresence(env.Data)
		}
		known, unsubscribe := c.registry.Succeeded(env.Channel, members)
		switch {
		case !known:
			c.logger.Info("Ignoring confirmation for unknown channel", "clientID", c.id, "channel", env.Channel)
		case unsubscribe:
			c.sendUnsubscribe(env.Channel)
		default:
			c.logger.Info("Subscribed", "clientID", c.id, "channel", env.Channel)
		}

	case protocol.KindSubscriptionError:
		rej := protocol.ParseSubscriptionError(env.Data)
		if c.registry.Failed(env.Channel) {
			c.reportSubscriptionError(&SubscriptionError{Channel: env.Channel, Reason: rej.Reason, Status: rej.Status})
		}

	case protocol.KindError:
		relayErr := protocol.ParseError(env.Data)
		switch protocol.ClassifyCode(relayErr.Code) {
		case protocol.ErrorFatal:
			c.shutdown(NewPermanentError(relayErr))
		case protocol.ErrorReconnectBackoff:
			c.reconnect(&TransportError{Code: relayErr.Code, Err: relayErr}, false)
		case protocol.ErrorReconnectNow:
			c.reconnect(&TransportError{Code: relayErr.Code, Err: relayErr}, true)
		default:
			c.logger.Error(relayErr, "Relay reported an error", "clientID", c.id)
		}

	case protocol.KindPing:
		pong, err := c.codec.EncodePong()
		if err == nil {
			err = c.send(pong)
		}
		if err != nil {
			c.logger.Error(err, "Failed to send pong", "clientID", c.id)
		}

	case protocol.KindPong:

	case protocol.KindMemberAdded, protocol.KindMemberRemoved:
		member, err := protocol.ParseMember(env.Data)
		if err != nil {
			c.metrics.IncDecodeErrors()
			c.logger.Error(err, "Dropping malformed frame", "clientID", c.id, "event", env.Event)
			return
		}
		var applied bool
		if env.Kind == protocol.KindMemberAdded {
			applied = c.registry.AddMember(env.Channel, member)
		} else {
			applied = c.registry.RemoveMember(env.Channel, member.ID)
		}
		if applied {
			c.deliver(env)
		}

	default:
		if !c.registry.IsActive(env.Channel) {
			c.metrics.IncDroppedEvents()
			return
		}
		c.deliver(env)
	}
}

func (c *Client) deliver(env protocol.Envelope) {
	ev := Event{Channel: env.Channel, Name: env.Event, Data: env.Data, UserID: env.UserID}
	c.notes = append(c.notes, func() { c.dispatcher.Dispatch(ev) })
}

func (c *Client) onEstablished(established protocol.ConnectionEstablished) {
	if c.State() != StateConnecting {
		return
	}
	stopTimer(c.connectTimer)
	c.socketID = established.SocketID
	c.attempt = 0
	c.bo.Reset()
	c.metrics.SetConnectionStatus(1)
	c.setState(StateConnected, StateChange{})
	c.idleTimeout = idleTimeout(c.activityTimeout, established.ActivityTimeout)
	c.armActivity(c.idleTimeout)
	c.logger.Info("Connection established", "clientID", c.id, "socketID", c.socketID)

	for _, req := range c.registry.Connected() {
		c.startSubscribe(req)
	}
}

func (c *Client) startSubscribe(req registry.Request) {
	auth := req.Authorizer
	if auth == nil && c.codec.RequiresAuth(req.Name) {
		auth = c.defaultAuthorizer
		if auth == nil {
			if c.registry.Failed(req.Name) {
				c.reportSubscriptionError(&SubscriptionError{Channel: req.Name, Reason: "no authorizer configured for channel"})
			}
			return
		}
	}
	if auth == nil {
		c.sendSubscribe(req.Name, protocol.ChannelAuth{})
		return
	}

	attempt := c.registry.BeginAuthorize(req.Name)
	c.metrics.IncChannelAuths()
	gen, socketID, channel := c.gen, c.socketID, req.Name
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.authTimeout)
		defer cancel()
		result, err := auth.Authorize(ctx, socketID, channel)
		c.post(evAuthorized{gen: gen, channel: channel, attempt: attempt, auth: result, err: err})
	}()
}

func (c *Client) sendSubscribe(channel string, auth protocol.ChannelAuth) {
	frame, err := c.codec.EncodeSubscribe(channel, auth)
	if err != nil {
		c.logger.Error(err, "Failed to encode subscribe", "clientID", c.id, "channel", channel)
		return
	}
	// A failed send surfaces as a dropped connection; the channel is
	// subscribed again after reconnecting.
	if err := c.send(frame); err != nil {
		c.logger.Error(err, "Failed to send subscribe", "clientID", c.id, "channel", channel)
	}
	c.registry.MarkPending(channel)
}

func (c *Client) sendUnsubscribe(channel string) {
	frame, err := c.codec.EncodeUnsubscribe(channel)
	if err == nil {
		err = c.send(frame)
	}
	if err != nil {
		c.logger.Error(err, "Failed to send unsubscribe", "clientID", c.id, "channel", channel)
	}
}

func (c *Client) send(frame []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.Send(frame)
}

func (c *Client) dial() {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.ctx)
	c.dialCancel = cancel
	endpoint := c.endpoint

	c.logger.Info("Dialing relay", "clientID", c.id, "endpoint", endpoint, "attempt", c.attempt)
	go func() {
		if _, err := c.dialer.Dial(ctx, endpoint, &connHandler{c: c, gen: gen}); err != nil {
			c.post(evDialFailed{gen: gen, err: err})
		}
	}()
	if c.connectTimeout > 0 {
		c.connectTimer = time.AfterFunc(c.connectTimeout, func() { c.post(evConnectTimeout{gen: gen}) })
	}
}

// teardown drops the current connection attempt or connection.
func (c *Client) teardown() {
	stopTimer(c.connectTimer)
	stopTimer(c.retryTimer)
	stopTimer(c.activityTimer)
	c.awaitingPong = false
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.State() == StateConnected {
		c.metrics.IncDisconnects()
	}
	c.metrics.SetConnectionStatus(0)
	c.registry.Disconnected()
	c.socketID = ""
	// Invalidate everything still in flight for the old connection.
	c.gen++
}

func (c *Client) reconnect(cause error, immediate bool) {
	c.teardown()

	delay := time.Duration(0)
	if !immediate {
		delay = c.bo.NextBackOff()
		if delay == backoff.Stop {
			c.shutdown(NewPermanentError(fmt.Errorf("reconnect attempts exhausted: %w", cause)))
			return
		}
	}
	c.attempt++
	c.metrics.IncReconnectAttempts()
	c.logger.Info("Reconnecting", "clientID", c.id, "attempt", c.attempt, "after", delay, "cause", cause.Error())
	c.setState(StateReconnecting, StateChange{Attempt: c.attempt, Delay: delay, Err: cause})

	gen := c.gen
	c.retryTimer = time.AfterFunc(delay, func() { c.post(evRetry{gen: gen}) })
}

func (c *Client) shutdown(err error) {
	c.teardown()
	c.cancel()
	if err != nil {
		c.terminalErr = err
		c.logger.Error(err, "Permanent error; will not retry", "clientID", c.id)
	}
	c.setState(StateClosed, StateChange{Err: err})

	c.qmu.Lock()
	c.stopped = true
	dropped := c.queue
	c.queue = nil
	c.qmu.Unlock()
	discard(dropped)
}

// discard closes connections carried by messages that will never be handled.
func discard(msgs []message) {
	for _, m := range msgs {
		if opened, ok := m.(evOpened); ok {
			opened.conn.Close()
		}
	}
}

// armActivity schedules an activity check after d of silence. Zero disables it.
func (c *Client) armActivity(d time.Duration) {
	stopTimer(c.activityTimer)
	c.activityTimer = nil
	if d <= 0 {
		return
	}
	gen := c.gen
	c.activityTimer = time.AfterFunc(d, func() { c.post(evActivity{gen: gen}) })
}

// idleTimeout is the shorter of the configured and the relay-advertised
// activity timeouts, ignoring unset values.
func idleTimeout(configured, advertised time.Duration) time.Duration {
	switch {
	case configured <= 0:
		return advertised
	case advertised <= 0 || configured < advertised:
		return configured
	default:
		return advertised
	}
}

func (c *Client) setState(to State, change StateChange) {
	from := c.State()
	if from == to {
		return
	}
	c.state.Store(int32(to))
	change.From, change.To = from, to

	c.hmu.RLock()
	handlers := append([]func(StateChange){}, c.stateHandlers...)
	c.hmu.RUnlock()
	c.notes = append(c.notes, func() {
		for _, h := range handlers {
			h(change)
		}
	})
}

func (c *Client) reportSubscriptionError(err *SubscriptionError) {
	c.metrics.IncSubscriptionFailures()
	c.logger.Error(err, "Subscription rejected", "clientID", c.id, "channel", err.Channel)

	c.hmu.RLock()
	handlers := append([]func(*SubscriptionError){}, c.subErrorHandlers...)
	c.hmu.RUnlock()
	c.notes = append(c.notes, func() {
		for _, h := range handlers {
			h(err)
		}
	})
}

func (c *Client) onListenerError(err *dispatch.ListenerError) {
	c.metrics.IncListenerErrors()
	c.logger.Error(err, "Listener panicked", "clientID", c.id, "channel", err.Channel, "event", err.Event)
}

func isPermanentDialError(err error) bool {
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return true
	}
	var hsErr *transport.HandshakeError
	if errors.As(err, &hsErr) {
		return hsErr.StatusCode == http.StatusUnauthorized || hsErr.StatusCode == http.StatusForbidden
	}
	return false
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func newBackOff(p RetryPolicy) *backoff.ExponentialBackOff {
	d := DefaultRetryPolicy()
	if p.MinBackoff <= 0 {
		p.MinBackoff = d.MinBackoff
	}
	if p.MaxBackoff < p.MinBackoff {
		p.MaxBackoff = p.MinBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.MinBackoff),
		backoff.WithMaxInterval(p.MaxBackoff),
		backoff.WithMultiplier(p.Multiplier),
		backoff.WithRandomizationFactor(p.Jitter),
		backoff.WithMaxElapsedTime(0),
	)
}

// connHandler forwards transport signals of one connection into the mailbox.
type connHandler struct {
	c   *Client
	gen uint64
}

// OnOpen hands the connection to the supervisor, or closes it when the
// client stopped while the handshake was in flight.
func (h *connHandler) OnOpen(conn transport.Conn) {
	if !h.c.post(evOpened{gen: h.gen, conn: conn}) {
		conn.Close()
	}
}

func (h *connHandler) OnMessage(frame []byte) { h.c.post(evMessage{gen: h.gen, frame: frame}) }
func (h *connHandler) OnError(err error)      { h.c.post(evTransportError{gen: h.gen, err: err}) }
func (h *connHandler) OnClose(code int)       { h.c.post(evClosed{gen: h.gen, code: code}) }
