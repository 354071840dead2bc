package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer dials relays with gorilla/websocket.
type WebSocketDialer struct {
	dialer           *websocket.Dialer
	header           http.Header
	messageSizeLimit int64
	writeTimeout     time.Duration
	pingInterval     time.Duration
}

// Option configures a WebSocketDialer.
type Option func(*WebSocketDialer)

// WithDialer sets a custom websocket.Dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(w *WebSocketDialer) { w.dialer = d }
}

// WithHeader sets headers sent with the handshake.
func WithHeader(h http.Header) Option {
	return func(w *WebSocketDialer) { w.header = h.Clone() }
}

// WithMessageSizeLimit sets the maximum size of an inbound frame.
// Defaults to 64KB.
func WithMessageSizeLimit(limit int64) Option {
	return func(w *WebSocketDialer) { w.messageSizeLimit = limit }
}

// WithWriteTimeout sets the deadline for each write. Defaults to 10 seconds.
func WithWriteTimeout(d time.Duration) Option {
	return func(w *WebSocketDialer) { w.writeTimeout = d }
}

// WithPingInterval sets how often a websocket ping is sent. Defaults to 30 seconds.
func WithPingInterval(d time.Duration) Option {
	return func(w *WebSocketDialer) { w.pingInterval = d }
}

// NewWebSocketDialer creates a dialer with production defaults.
func NewWebSocketDialer(opts ...Option) *WebSocketDialer {
	w := &WebSocketDialer{
		dialer:           websocket.DefaultDialer,
		messageSizeLimit: 65536, // 64KB
		writeTimeout:     10 * time.Second,
		pingInterval:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dial implements Dialer.
func (w *WebSocketDialer) Dial(ctx context.Context, endpoint string, h Handler) (Conn, error) {
	ws, resp, err := w.dialer.DialContext(ctx, endpoint, w.header)
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("failed to establish WebSocket connection: %w", err)
	}

	ws.SetReadLimit(w.messageSizeLimit)
	ws.SetReadDeadline(time.Now().Add(w.pingInterval + w.writeTimeout))
	ws.SetPongHandler(func(string) error {
		// Extend the read deadline upon receiving a pong.
		ws.SetReadDeadline(time.Now().Add(w.pingInterval + w.writeTimeout))
		return nil
	})

	c := &wsConn{
		ws:           ws,
		handler:      h,
		writeChan:    make(chan []byte, 16),
		done:         make(chan struct{}),
		writeTimeout: w.writeTimeout,
		pingInterval: w.pingInterval,
	}
	h.OnOpen(c)
	go c.writePump()
	go c.readPump()
	return c, nil
}

type wsConn struct {
	ws           *websocket.Conn
	handler      Handler
	writeChan    chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
}

// Send implements Conn.
func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	select {
	case c.writeChan <- frame:
		return nil
	case <-c.done:
		return ErrNotConnected
	}
}

// Close implements Conn.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) readPump() {
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			remote := false
			c.closeOnce.Do(func() {
				remote = true
				close(c.done)
				c.ws.Close()
			})
			if !remote {
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.handler.OnClose(closeErr.Code)
				return
			}
			c.handler.OnError(err)
			c.handler.OnClose(CloseAbnormal)
			return
		}
		// Any inbound frame proves the peer is alive.
		c.ws.SetReadDeadline(time.Now().Add(c.pingInterval + c.writeTimeout))
		c.handler.OnMessage(message)
	}
}

func (c *wsConn) writePump() {
	pingTicker := time.NewTicker(c.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case message := <-c.writeChan:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				// The read pump observes the broken connection and reports it.
				c.ws.Close()
				return
			}
		case <-pingTicker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.ws.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
