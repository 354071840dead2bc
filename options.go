package realtime

import (
	"time"

	"github.com/Prescott-Data/nexus-framework/nexus-realtime/protocol"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/transport"
)

// --- Interfaces ---

// Logger is an interface that allows for plugging in custom structured loggers.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(err error, msg string, keysAndValues ...interface{})
}

// Metrics is an interface that allows for plugging in custom metrics collectors.
type Metrics interface {
	IncConnections()
	IncDisconnects()
	IncReconnectAttempts()
	IncChannelAuths()
	IncSubscriptionFailures()
	IncDecodeErrors()
	IncListenerErrors()
	IncDroppedEvents()
	SetConnectionStatus(status float64)
}

// --- No-op Implementations ---

type nopLogger struct{}

func (l *nopLogger) Info(msg string, keysAndValues ...interface{})             {}
func (l *nopLogger) Error(err error, msg string, keysAndValues ...interface{}) {}

type nopMetrics struct{}

func (m *nopMetrics) IncConnections()                    {}
func (m *nopMetrics) IncDisconnects()                    {}
func (m *nopMetrics) IncReconnectAttempts()              {}
func (m *nopMetrics) IncChannelAuths()                   {}
func (m *nopMetrics) IncSubscriptionFailures()           {}
func (m *nopMetrics) IncDecodeErrors()                   {}
func (m *nopMetrics) IncListenerErrors()                 {}
func (m *nopMetrics) IncDroppedEvents()                  {}
func (m *nopMetrics) SetConnectionStatus(status float64) {}

// --- Configuration ---

// RetryPolicy defines the backoff strategy for reconnections. Delays start at
// MinBackoff and grow by Multiplier up to MaxBackoff. Jitter is the
// randomization factor in [0, 1): each delay is spread by ±Jitter of itself.
type RetryPolicy struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MinBackoff: 1 * time.Second,
		MaxBackoff: 30 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger for the Client.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets a custom metrics collector for the Client.
func WithMetrics(metrics Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// WithRetryPolicy sets the reconnection policy for the Client.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithDialer sets the transport used to reach the relay.
// Defaults to a transport.WebSocketDialer.
func WithDialer(dialer transport.Dialer) Option {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// WithNames overrides the relay's control-event names.
func WithNames(names protocol.Names) Option {
	return func(c *Client) {
		c.codec = protocol.NewCodec(names)
	}
}

// WithConnectTimeout bounds the wait between dialing and the relay's
// connection_established event. Defaults to 15 seconds.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.connectTimeout = d
	}
}

// WithAuthTimeout bounds a single channel authorization. Defaults to 10 seconds.
func WithAuthTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.authTimeout = d
	}
}

// WithActivityTimeout sets how long the connection may stay silent before a
// ping is sent. The relay's advertised activity timeout is used when it is
// shorter or when d is zero.
func WithActivityTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.activityTimeout = d
	}
}

// WithPongTimeout bounds the wait for any frame after a ping. The connection
// is dropped and reconnected when it expires. Defaults to 30 seconds.
func WithPongTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.pongTimeout = d
	}
}

// WithAuthorizer sets the authorizer used for private and presence channels
// subscribed without an explicit one.
func WithAuthorizer(auth protocol.Authorizer) Option {
	return func(c *Client) {
		c.defaultAuthorizer = auth
	}
}

// WithStateHandler registers a handler for connection state changes.
func WithStateHandler(fn func(StateChange)) Option {
	return func(c *Client) {
		c.stateHandlers = append(c.stateHandlers, fn)
	}
}

// WithSubscriptionErrorHandler registers a handler for rejected subscriptions.
func WithSubscriptionErrorHandler(fn func(*SubscriptionError)) Option {
	return func(c *Client) {
		c.subErrorHandlers = append(c.subErrorHandlers, fn)
	}
}
