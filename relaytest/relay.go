// Package relaytest provides an in-process Pusher-compatible relay and
// channel auth endpoint for tests.
package relaytest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/Prescott-Data/nexus-framework/nexus-realtime/protocol"
)

// Frame is a frame received from a client.
type Frame struct {
	SocketID string
	Event    string
	Channel  string
	Data     json.RawMessage
}

// Server is a relay serving /app/{key} and /broadcasting/auth.
type Server struct {
	AppKey string
	Secret string

	names    protocol.Names
	upgrader websocket.Upgrader
	http     *httptest.Server

	mu              sync.Mutex
	conns           map[*conn]struct{}
	frames          []Frame
	dials           int
	failHandshakes  int
	silent          bool
	ignorePings     bool
	rejected        map[string]int
	members         map[string]map[string]json.RawMessage
	authToken       string
	authCalls       int
	activityTimeout int
}

type conn struct {
	ws       *websocket.Conn
	socketID string
	wmu      sync.Mutex
	channels map[string]string // channel -> presence user id
}

// Option configures a Server.
type Option func(*Server)

// WithApp sets the app key and secret used to verify channel signatures.
func WithApp(key, secret string) Option {
	return func(s *Server) {
		s.AppKey = key
		s.Secret = secret
	}
}

// WithAuthToken makes the auth endpoint require "Authorization: Bearer token".
func WithAuthToken(token string) Option {
	return func(s *Server) { s.authToken = token }
}

// NewServer starts a relay. Close it when done.
func NewServer(opts ...Option) *Server {
	s := &Server{
		AppKey:          "app-key",
		Secret:          "app-secret",
		names:           protocol.DefaultNames(),
		conns:           make(map[*conn]struct{}),
		rejected:        make(map[string]int),
		members:         make(map[string]map[string]json.RawMessage),
		activityTimeout: 120,
	}
	for _, o := range opts {
		o(s)
	}

	r := chi.NewRouter()
	r.Get("/app/{key}", s.handleWebSocket)
	r.Post("/broadcasting/auth", s.handleAuth)
	s.http = httptest.NewServer(r)
	return s
}

// URL returns the WebSocket endpoint for the server's app key.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/app/" + s.AppKey + "?protocol=7&client=relaytest"
}

// AuthURL returns the channel auth endpoint.
func (s *Server) AuthURL() string {
	return s.http.URL + "/broadcasting/auth"
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.DropConnections(0)
	s.http.Close()
}

// FailHandshakes makes the next n WebSocket upgrades fail with 503.
func (s *Server) FailHandshakes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failHandshakes = n
}

// Silence stops the relay from sending connection_established on new
// connections.
func (s *Server) Silence(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// IgnorePings stops the relay from answering pusher:ping.
func (s *Server) IgnorePings(ignore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignorePings = ignore
}

// RejectChannel answers subscriptions to channel with a subscription_error
// carrying status. A zero status accepts the channel again.
func (s *Server) RejectChannel(channel string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.rejected, channel)
		return
	}
	s.rejected[channel] = status
}

// Dials returns the number of upgrade attempts, failed ones included.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// AuthCalls returns the number of requests to the auth endpoint.
func (s *Server) AuthCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCalls
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Frames returns the frames received so far, optionally filtered by event.
func (s *Server) Frames(event string) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Frame
	for _, f := range s.frames {
		if event == "" || f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// Subscribers returns the number of connections subscribed to channel.
func (s *Server) Subscribers(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for c := range s.conns {
		if _, ok := c.channels[channel]; ok {
			n++
		}
	}
	return n
}

// Publish sends a domain event to every connection subscribed to channel.
// data is JSON-encoded and sent as a string, as Pusher does.
func (s *Server) Publish(channel, event string, data any) error {
	frame, err := encode(event, channel, data)
	if err != nil {
		return err
	}
	for _, c := range s.snapshot() {
		s.mu.Lock()
		_, ok := c.channels[channel]
		s.mu.Unlock()
		if ok {
			c.write(frame)
		}
	}
	return nil
}

// Broadcast sends a raw frame to every connection.
func (s *Server) Broadcast(frame []byte) {
	for _, c := range s.snapshot() {
		c.write(frame)
	}
}

// SendError sends pusher:error with code to every connection.
func (s *Server) SendError(code int, message string) {
	frame, _ := encode(s.names.Error, "", map[string]any{"code": code, "message": message})
	s.Broadcast(frame)
}

// DropConnections closes every connection with the close code. A zero code
// closes the TCP connection without a close frame.
func (s *Server) DropConnections(code int) {
	for _, c := range s.snapshot() {
		if code != 0 {
			c.wmu.Lock()
			c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
			c.wmu.Unlock()
		}
		c.ws.Close()
	}
}

func (s *Server) snapshot() []*conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.dials++
	if s.failHandshakes > 0 {
		s.failHandshakes--
		s.mu.Unlock()
		http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
		return
	}
	silent := s.silent
	s.mu.Unlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{
		ws:       ws,
		socketID: fmt.Sprintf("%d.%d", uuid.New().ID(), uuid.New().ID()),
		channels: make(map[string]string),
	}

	if chi.URLParam(r, "key") != s.AppKey {
		frame, _ := encode(s.names.Error, "", map[string]any{"code": 4001, "message": "App key " + chi.URLParam(r, "key") + " not in this cluster"})
		c.write(frame)
		ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(4001, ""), time.Now().Add(time.Second))
		ws.Close()
		return
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer s.disconnect(c)

	if !silent {
		frame, _ := encode(s.names.ConnectionEstablished, "", map[string]any{
			"socket_id":        c.socketID,
			"activity_timeout": s.activityTimeout,
		})
		c.write(frame)
	}

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(c, msg)
	}
}

func (s *Server) handleFrame(c *conn, msg []byte) {
	parsed := gjson.ParseBytes(msg)
	f := Frame{
		SocketID: c.socketID,
		Event:    parsed.Get("event").String(),
		Channel:  parsed.Get("channel").String(),
		Data:     json.RawMessage(parsed.Get("data").Raw),
	}
	if f.Channel == "" {
		f.Channel = parsed.Get("data.channel").String()
	}
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()

	switch {
	case f.Event == s.names.Ping:
		s.mu.Lock()
		ignore := s.ignorePings
		s.mu.Unlock()
		if !ignore {
			frame, _ := encode(s.names.Pong, "", map[string]any{})
			c.write(frame)
		}
	case f.Event == s.names.Subscribe:
		s.subscribe(c, parsed.Get("data"))
	case f.Event == s.names.Unsubscribe:
		s.unsubscribe(c, f.Channel)
	case strings.HasPrefix(f.Event, s.names.ClientEventPrefix):
		s.forwardClientEvent(c, f, msg)
	}
}

func (s *Server) subscribe(c *conn, data gjson.Result) {
	channel := data.Get("channel").String()
	channelData := data.Get("channel_data").String()

	s.mu.Lock()
	status, rejected := s.rejected[channel]
	s.mu.Unlock()
	if rejected {
		s.sendSubscriptionError(c, channel, status, "Subscription rejected")
		return
	}

	needsAuth := strings.HasPrefix(channel, s.names.PrivateChannelPrefix) || strings.HasPrefix(channel, s.names.PresenceChannelPrefix)
	if needsAuth && !hmac.Equal([]byte(data.Get("auth").String()), []byte(s.sign(c.socketID, channel, channelData))) {
		s.sendSubscriptionError(c, channel, http.StatusUnauthorized, "Invalid signature")
		return
	}

	// Channels are recorded after the confirmation is written, so a Publish
	// seen by a subscriber always follows its subscription_succeeded.
	if !strings.HasPrefix(channel, s.names.PresenceChannelPrefix) {
		frame, _ := encode(s.names.SubscriptionSucceeded, channel, map[string]any{})
		c.write(frame)
		s.mu.Lock()
		c.channels[channel] = ""
		s.mu.Unlock()
		return
	}

	member := gjson.Parse(channelData)
	userID := member.Get("user_id").String()
	info := json.RawMessage(member.Get("user_info").Raw)
	if len(info) == 0 {
		info = json.RawMessage("null")
	}

	s.mu.Lock()
	if s.members[channel] == nil {
		s.members[channel] = make(map[string]json.RawMessage)
	}
	_, existed := s.members[channel][userID]
	s.members[channel][userID] = info
	ids := make([]string, 0, len(s.members[channel]))
	hash := make(map[string]json.RawMessage, len(s.members[channel]))
	for id, inf := range s.members[channel] {
		ids = append(ids, id)
		hash[id] = inf
	}
	s.mu.Unlock()

	frame, _ := encode(s.names.SubscriptionSucceeded, channel, map[string]any{
		"presence": map[string]any{"ids": ids, "hash": hash, "count": len(ids)},
	})
	c.write(frame)
	s.mu.Lock()
	c.channels[channel] = userID
	s.mu.Unlock()

	if !existed {
		added, _ := encode(s.names.MemberAdded, channel, map[string]any{"user_id": userID, "user_info": info})
		s.toOthers(c, channel, added)
	}
}

func (s *Server) unsubscribe(c *conn, channel string) {
	s.mu.Lock()
	userID, ok := c.channels[channel]
	delete(c.channels, channel)
	s.mu.Unlock()
	if ok && strings.HasPrefix(channel, s.names.PresenceChannelPrefix) {
		s.leave(c, channel, userID)
	}
}

func (s *Server) disconnect(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	channels := make(map[string]string, len(c.channels))
	for ch, id := range c.channels {
		channels[ch] = id
	}
	c.channels = make(map[string]string)
	s.mu.Unlock()

	for ch, id := range channels {
		if strings.HasPrefix(ch, s.names.PresenceChannelPrefix) {
			s.leave(c, ch, id)
		}
	}
	c.ws.Close()
}

// leave removes a presence member once no connection holds it.
func (s *Server) leave(c *conn, channel, userID string) {
	s.mu.Lock()
	for other := range s.conns {
		if id, ok := other.channels[channel]; ok && other != c && id == userID {
			s.mu.Unlock()
			return
		}
	}
	delete(s.members[channel], userID)
	s.mu.Unlock()

	frame, _ := encode(s.names.MemberRemoved, channel, map[string]any{"user_id": userID})
	s.toOthers(c, channel, frame)
}

func (s *Server) forwardClientEvent(from *conn, f Frame, raw []byte) {
	s.mu.Lock()
	_, subscribed := from.channels[f.Channel]
	s.mu.Unlock()
	if !subscribed {
		return
	}
	s.toOthers(from, f.Channel, raw)
}

func (s *Server) toOthers(from *conn, channel string, frame []byte) {
	for _, c := range s.snapshot() {
		if c == from {
			continue
		}
		s.mu.Lock()
		_, ok := c.channels[channel]
		s.mu.Unlock()
		if ok {
			c.write(frame)
		}
	}
}

func (s *Server) sendSubscriptionError(c *conn, channel string, status int, reason string) {
	frame, _ := encode(s.names.SubscriptionError, channel, map[string]any{
		"type":   "AuthError",
		"error":  reason,
		"status": status,
	})
	c.write(frame)
}

// sign returns the Pusher channel signature "key:hex(hmac_sha256(secret, socket_id:channel[:channel_data]))".
func (s *Server) sign(socketID, channel, channelData string) string {
	payload := socketID + ":" + channel
	if channelData != "" {
		payload += ":" + channelData
	}
	mac := hmac.New(sha256.New, []byte(s.Secret))
	mac.Write([]byte(payload))
	return s.AppKey + ":" + hex.EncodeToString(mac.Sum(nil))
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.authCalls++
	token := s.authToken
	s.mu.Unlock()

	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"message": "This action is unauthorized."})
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	socketID := r.PostForm.Get("socket_id")
	channel := r.PostForm.Get("channel_name")
	if socketID == "" || channel == "" {
		http.Error(w, "socket_id and channel_name are required", http.StatusUnprocessableEntity)
		return
	}

	var out protocol.ChannelAuth
	if strings.HasPrefix(channel, s.names.PresenceChannelPrefix) {
		userID := r.PostForm.Get("user_id")
		if userID == "" {
			userID = "user-" + socketID
		}
		channelData, _ := json.Marshal(map[string]any{
			"user_id":   userID,
			"user_info": map[string]string{"name": userID},
		})
		out.ChannelData = string(channelData)
	}
	out.Auth = s.sign(socketID, channel, out.ChannelData)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (c *conn) write(frame []byte) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	c.ws.WriteMessage(websocket.TextMessage, frame)
}

// encode builds a Pusher frame with data encoded as a JSON string.
func encode(event, channel string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	frame := map[string]any{"event": event, "data": string(payload)}
	if channel != "" {
		frame["channel"] = channel
	}
	return json.Marshal(frame)
}
