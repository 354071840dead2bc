package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prescott-Data/nexus-framework/nexus-realtime/config"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/relaytest"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/telemetry"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func relayConfig(t *testing.T, srv *relaytest.Server) *config.Config {
	t.Helper()
	u, err := url.Parse(srv.URL())
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Relay.Scheme = "ws"
	cfg.Relay.Host = host
	cfg.Relay.Port = p
	cfg.Relay.AppKey = srv.AppKey
	cfg.Reconnect.MinBackoff = 10 * time.Millisecond
	cfg.Reconnect.MaxBackoff = 50 * time.Millisecond
	return cfg
}

func TestListen_PrintsEvents(t *testing.T) {
	srv := relaytest.NewServer()
	defer srv.Close()

	cfg := relayConfig(t, srv)
	logger := telemetry.NewLoggerWithWriter(&syncBuffer{}, slog.LevelDebug)
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- listen(ctx, cfg, logger, listenOptions{
			channels: []string{"orders"},
			event:    "*",
			out:      out,
		})
	}()

	require.Eventually(t, func() bool { return srv.Subscribers("orders") == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, srv.Publish("orders", "order.created", map[string]any{"id": 7}))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "order.created") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not return after cancel")
	}

	var line printedEvent
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(out.String(), "\n", 2)[0]), &line))
	assert.Equal(t, "orders", line.Channel)
	assert.Equal(t, "order.created", line.Event)
	assert.JSONEq(t, `{"id":7}`, string(line.Data))
}

func TestListen_EventFilter(t *testing.T) {
	srv := relaytest.NewServer()
	defer srv.Close()

	cfg := relayConfig(t, srv)
	logger := telemetry.NewLoggerWithWriter(&syncBuffer{}, slog.LevelInfo)
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listen(ctx, cfg, logger, listenOptions{channels: []string{"orders"}, event: "order.paid", out: out})

	require.Eventually(t, func() bool { return srv.Subscribers("orders") == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, srv.Publish("orders", "order.created", map[string]any{"id": 1}))
	require.NoError(t, srv.Publish("orders", "order.paid", map[string]any{"id": 1}))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "order.paid") }, 2*time.Second, 10*time.Millisecond)
	assert.NotContains(t, out.String(), "order.created")
}

func TestListen_FatalRelayErrorReturns(t *testing.T) {
	srv := relaytest.NewServer()
	defer srv.Close()

	cfg := relayConfig(t, srv)
	cfg.Relay.AppKey = "wrong-key"
	logger := telemetry.NewLoggerWithWriter(&syncBuffer{}, slog.LevelInfo)

	err := listen(context.Background(), cfg, logger, listenOptions{channels: []string{"orders"}, event: "*", out: &syncBuffer{}})
	require.Error(t, err)
}

func TestAuthorizeCommand(t *testing.T) {
	srv := relaytest.NewServer()
	defer srv.Close()

	t.Setenv("REALTIME_RELAY_HOST", "127.0.0.1")
	t.Setenv("REALTIME_RELAY_APP_KEY", srv.AppKey)
	t.Setenv("REALTIME_AUTH_ENDPOINT", srv.AuthURL())

	out := &syncBuffer{}
	root := newRootCmd()
	root.SetOut(out)
	root.SetErr(&syncBuffer{})
	root.SetArgs([]string{"authorize", "--socket-id", "123.456", "private-orders"})
	require.NoError(t, root.Execute())

	var got struct {
		Auth string `json:"auth"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.String()), &got))
	assert.True(t, strings.HasPrefix(got.Auth, srv.AppKey+":"), got.Auth)
}

func TestAuthorizeCommand_RequiresEndpoint(t *testing.T) {
	t.Setenv("REALTIME_RELAY_HOST", "127.0.0.1")
	t.Setenv("REALTIME_RELAY_APP_KEY", "app-key")

	root := newRootCmd()
	root.SetOut(&syncBuffer{})
	root.SetErr(&syncBuffer{})
	root.SetArgs([]string{"authorize", "--socket-id", "1.2", "private-orders"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.endpoint")
}

func TestListenCommand_RequiresChannels(t *testing.T) {
	t.Setenv("REALTIME_RELAY_HOST", "127.0.0.1")
	t.Setenv("REALTIME_RELAY_APP_KEY", "app-key")

	root := newRootCmd()
	root.SetOut(&syncBuffer{})
	root.SetErr(&syncBuffer{})
	root.SetArgs([]string{"listen"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no channels")
}
