package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	realtime "github.com/Prescott-Data/nexus-framework/nexus-realtime"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/internal/auth"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "realtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithEnv(t *testing.T) {
	t.Setenv("REALTIME_RELAY_HOST", "relay.example.com")
	t.Setenv("REALTIME_RELAY_APP_KEY", "app-key")

	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "wss", cfg.Relay.Scheme)
	assert.Equal(t, 7, cfg.Relay.Protocol)
	assert.Equal(t, time.Second, cfg.Reconnect.MinBackoff)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxBackoff)
	assert.Equal(t, int64(64*1024), cfg.Transport.MessageSizeLimit)
	assert.Equal(t, "pusher:subscribe", cfg.Events.Subscribe)
	assert.Equal(t, "wss://relay.example.com/app/app-key?client=nexus-realtime&protocol=7&version=1.0.0", cfg.Endpoint())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeYAML(t, `
relay:
  scheme: ws
  host: 127.0.0.1
  port: 6001
  app_key: local
auth:
  endpoint: http://127.0.0.1:8000/broadcasting/auth
  strategy:
    type: header
    config:
      header_name: X-Api-Key
  credentials:
    api_key: from-file
reconnect:
  min_backoff: 500ms
  max_backoff: 10s
channels:
  - sport-session.42
  - private-user.7
events:
  subscribe: custom:subscribe
`)
	t.Setenv("REALTIME_RECONNECT_MAX_BACKOFF", "20s")
	t.Setenv("REALTIME_AUTH_CREDENTIALS_API_KEY", "from-env")

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "ws://127.0.0.1:6001/app/local?client=nexus-realtime&protocol=7&version=1.0.0", cfg.Endpoint())
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.MinBackoff)
	assert.Equal(t, 20*time.Second, cfg.Reconnect.MaxBackoff)
	assert.Equal(t, []string{"sport-session.42", "private-user.7"}, cfg.Channels)
	assert.Equal(t, "custom:subscribe", cfg.Events.Subscribe)
	assert.Equal(t, "pusher:unsubscribe", cfg.Events.Unsubscribe)
	assert.Equal(t, auth.TypeHeader, cfg.Auth.Strategy.Type)
	assert.Equal(t, "X-Api-Key", cfg.Auth.Strategy.Config["header_name"])
	assert.Equal(t, "from-env", cfg.Auth.Credentials["api_key"])
}

func TestLoad_ChannelsFromEnv(t *testing.T) {
	t.Setenv("REALTIME_RELAY_HOST", "relay.example.com")
	t.Setenv("REALTIME_RELAY_APP_KEY", "k")
	t.Setenv("REALTIME_CHANNELS", "a,presence-b")

	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "presence-b"}, cfg.Channels)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing host", "relay: {app_key: k}"},
		{"missing app key", "relay: {host: relay.example.com}"},
		{"bad scheme", "relay: {host: relay.example.com, app_key: k, scheme: http}"},
		{"max below min", "relay: {host: relay.example.com, app_key: k}\nreconnect: {min_backoff: 5s, max_backoff: 1s}"},
		{"jitter out of range", "relay: {host: relay.example.com, app_key: k}\nreconnect: {jitter: 1.5}"},
		{"bad auth url", "relay: {host: relay.example.com, app_key: k}\nauth: {endpoint: not a url}"},
		{"bad strategy", "relay: {host: relay.example.com, app_key: k}\nauth: {strategy: {type: kerberos}}"},
		{"token and strategy", "relay: {host: relay.example.com, app_key: k}\nauth: {bearer_token: t, strategy: {type: oauth2}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), writeYAML(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read YAML file")
}

func TestSensitiveString(t *testing.T) {
	s := SensitiveString("secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprint(s))
	assert.Equal(t, "secret", s.Value())

	b, err := json.Marshal(struct{ Token SensitiveString }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Token":"[REDACTED]"}`, string(b))
}

func TestLoad_BearerTokenIsSensitive(t *testing.T) {
	path := writeYAML(t, "relay: {host: relay.example.com, app_key: k}\nauth: {endpoint: 'https://app.example/broadcasting/auth', bearer_token: tok}")

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.Auth.BearerToken.Value())
	assert.NotNil(t, cfg.Authorizer(nil))
}

func TestLoad_StrategyFromEnv(t *testing.T) {
	t.Setenv("REALTIME_RELAY_HOST", "relay.example.com")
	t.Setenv("REALTIME_RELAY_APP_KEY", "k")
	t.Setenv("REALTIME_AUTH_ENDPOINT", "https://app.example/broadcasting/auth")
	t.Setenv("REALTIME_AUTH_STRATEGY_TYPE", "header")
	t.Setenv("REALTIME_AUTH_STRATEGY_CONFIG_HEADER_NAME", "X-Api-Key")
	t.Setenv("REALTIME_AUTH_CREDENTIALS_TOKEN", "secret")

	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, auth.TypeHeader, cfg.Auth.Strategy.Type)
	assert.Equal(t, "X-Api-Key", cfg.Auth.Strategy.Config["header_name"])
	assert.Equal(t, "secret", cfg.Auth.Credentials["token"])
	assert.NotNil(t, cfg.Authorizer(nil))
}

func TestTransformEnvKey(t *testing.T) {
	tests := map[string]string{
		"REALTIME_RELAY_APP_KEY":                    "relay.app_key",
		"REALTIME_CHANNELS":                         "channels",
		"REALTIME_AUTH_CREDENTIALS_SECRET_KEY":      "auth.credentials.secret_key",
		"REALTIME_AUTH_STRATEGY_CONFIG_HEADER_NAME": "auth.strategy.config.header_name",
		"REALTIME_AUTH_STRATEGY_TYPE":               "auth.strategy.type",
		"REALTIME_EVENTS_CLIENT_EVENT_PREFIX":       "events.client_event_prefix",
		"REALTIME__":                                "",
	}
	for in, want := range tests {
		got, _ := transformEnvKey(in, "v")
		assert.Equal(t, want, got, in)
	}
}

func TestClientOptions(t *testing.T) {
	cfg := Default()
	cfg.Relay.Host = "relay.example.com"
	cfg.Relay.AppKey = "k"
	assert.Len(t, cfg.ClientOptions(nil), 7)
	assert.Nil(t, cfg.Authorizer(nil))

	cfg.Auth.Endpoint = "https://app.example/broadcasting/auth"
	opts := cfg.ClientOptions(nil)
	assert.Len(t, opts, 8)

	c := realtime.New(opts...)
	defer c.Close()
	assert.Equal(t, realtime.StateDisconnected, c.State())
}
