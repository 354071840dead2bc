// Package config loads the client configuration from defaults, an optional
// YAML file and REALTIME_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Prescott-Data/nexus-framework/nexus-realtime/internal/auth"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/protocol"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "REALTIME_"

// Config is the complete client configuration. It is built once by Load and
// not modified afterwards.
type Config struct {
	Relay     RelayConfig     `koanf:"relay"`
	Auth      AuthConfig      `koanf:"auth"`
	Reconnect ReconnectConfig `koanf:"reconnect"`
	Transport TransportConfig `koanf:"transport"`
	Channels  []string        `koanf:"channels"  validate:"dive,required"`
	Events    protocol.Names  `koanf:"events"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
}

// RelayConfig locates the relay's WebSocket endpoint.
type RelayConfig struct {
	Scheme     string `koanf:"scheme"      validate:"oneof=ws wss"`
	Host       string `koanf:"host"        validate:"required,hostname|ip"`
	Port       int    `koanf:"port"        validate:"min=0,max=65535"`
	Path       string `koanf:"path"`
	AppKey     string `koanf:"app_key"     validate:"required"`
	Protocol   int    `koanf:"protocol"    validate:"min=1"`
	ClientName string `koanf:"client_name"`
	Version    string `koanf:"version"`
}

// AuthConfig configures the channel auth endpoint used for private and
// presence channels.
type AuthConfig struct {
	Endpoint    string            `koanf:"endpoint"     validate:"omitempty,url"`
	BearerToken SensitiveString   `koanf:"bearer_token" sensitive:"true"`
	Strategy    auth.Strategy     `koanf:"strategy"`
	Credentials map[string]string `koanf:"credentials"  sensitive:"true"`
	Timeout     time.Duration     `koanf:"timeout"      validate:"min=0"`
	Retries     int               `koanf:"retries"      validate:"min=0,max=10"`
	MinDelay    time.Duration     `koanf:"min_delay"    validate:"min=0"`
	MaxDelay    time.Duration     `koanf:"max_delay"    validate:"min=0"`
	RetryOn429  bool              `koanf:"retry_on_429"`
}

// ReconnectConfig is the reconnect policy.
type ReconnectConfig struct {
	MinBackoff     time.Duration `koanf:"min_backoff"     validate:"gt=0"`
	MaxBackoff     time.Duration `koanf:"max_backoff"     validate:"gtefield=MinBackoff"`
	Multiplier     float64       `koanf:"multiplier"      validate:"gte=1"`
	Jitter         float64       `koanf:"jitter"          validate:"gte=0,lt=1"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"min=0"`
}

// TransportConfig tunes the WebSocket connection.
type TransportConfig struct {
	PingInterval     time.Duration `koanf:"ping_interval"      validate:"gt=0"`
	WriteTimeout     time.Duration `koanf:"write_timeout"      validate:"gt=0"`
	MessageSizeLimit int64         `koanf:"message_size_limit" validate:"gt=0"`
	ActivityTimeout  time.Duration `koanf:"activity_timeout"   validate:"min=0"`
	PongTimeout      time.Duration `koanf:"pong_timeout"       validate:"gt=0"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// SensitiveString is a string that is redacted when printed or marshaled.
type SensitiveString string

func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Value returns the unredacted string.
func (s SensitiveString) Value() string { return string(s) }

// MarshalJSON implements json.Marshaler with redaction.
func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// Default returns the default configuration. Relay host and app key have no
// default and must be provided.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Scheme:     "wss",
			Path:       "/app",
			Protocol:   7,
			ClientName: "nexus-realtime",
			Version:    "1.0.0",
		},
		Auth: AuthConfig{
			Timeout:  10 * time.Second,
			Retries:  2,
			MinDelay: 200 * time.Millisecond,
			MaxDelay: 2 * time.Second,
		},
		Reconnect: ReconnectConfig{
			MinBackoff:     1 * time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2,
			Jitter:         0.2,
			ConnectTimeout: 15 * time.Second,
		},
		Transport: TransportConfig{
			PingInterval:     30 * time.Second,
			WriteTimeout:     10 * time.Second,
			MessageSizeLimit: 64 * 1024,
			PongTimeout:      30 * time.Second,
		},
		Events: protocol.DefaultNames(),
		Log:    LogConfig{Level: "info"},
	}
}

// Endpoint returns the relay WebSocket URL, for example
// wss://relay.example:443/app/key?protocol=7&client=nexus-realtime&version=1.0.0.
func (c *Config) Endpoint() string {
	host := c.Relay.Host
	if c.Relay.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Relay.Host, c.Relay.Port)
	}
	q := url.Values{}
	q.Set("protocol", strconv.Itoa(c.Relay.Protocol))
	if c.Relay.ClientName != "" {
		q.Set("client", c.Relay.ClientName)
	}
	if c.Relay.Version != "" {
		q.Set("version", c.Relay.Version)
	}
	u := url.URL{
		Scheme:   c.Relay.Scheme,
		Host:     host,
		Path:     path(c.Relay.Path, c.Relay.AppKey),
		RawQuery: q.Encode(),
	}
	return u.String()
}

func path(prefix, key string) string {
	for len(prefix) > 0 && prefix[len(prefix)-1] == '/' {
		prefix = prefix[:len(prefix)-1]
	}
	return prefix + "/" + url.PathEscape(key)
}
