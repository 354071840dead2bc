package config

import (
	realtime "github.com/Prescott-Data/nexus-framework/nexus-realtime"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/authclient"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/internal/auth"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/transport"
)

// Authorizer returns the channel authorizer described by the auth section,
// or nil when no endpoint is configured.
func (c *Config) Authorizer(logger authclient.Logger) *authclient.Client {
	if c.Auth.Endpoint == "" {
		return nil
	}
	opts := []authclient.Option{
		authclient.WithRetry(authclient.RetryPolicy{
			Retries:    c.Auth.Retries,
			MinDelay:   c.Auth.MinDelay,
			MaxDelay:   c.Auth.MaxDelay,
			RetryOn429: c.Auth.RetryOn429,
		}),
	}
	if logger != nil {
		opts = append(opts, authclient.WithLogger(logger))
	}
	switch {
	case c.Auth.BearerToken != "":
		opts = append(opts, authclient.WithBearerToken(c.Auth.BearerToken.Value()))
	case c.Auth.Strategy.Type != "":
		opts = append(opts, authclient.WithStrategy(c.Auth.Strategy, auth.Credentials(c.Auth.Credentials)))
	}
	return authclient.New(c.Auth.Endpoint, opts...)
}

// ClientOptions translates the configuration into realtime options. Logger
// and metrics are left to the caller.
func (c *Config) ClientOptions(logger authclient.Logger) []realtime.Option {
	opts := []realtime.Option{
		realtime.WithRetryPolicy(realtime.RetryPolicy{
			MinBackoff: c.Reconnect.MinBackoff,
			MaxBackoff: c.Reconnect.MaxBackoff,
			Multiplier: c.Reconnect.Multiplier,
			Jitter:     c.Reconnect.Jitter,
		}),
		realtime.WithConnectTimeout(c.Reconnect.ConnectTimeout),
		realtime.WithAuthTimeout(c.Auth.Timeout),
		realtime.WithActivityTimeout(c.Transport.ActivityTimeout),
		realtime.WithPongTimeout(c.Transport.PongTimeout),
		realtime.WithNames(c.Events),
		realtime.WithDialer(transport.NewWebSocketDialer(
			transport.WithPingInterval(c.Transport.PingInterval),
			transport.WithWriteTimeout(c.Transport.WriteTimeout),
			transport.WithMessageSizeLimit(c.Transport.MessageSizeLimit),
		)),
	}
	if a := c.Authorizer(logger); a != nil {
		opts = append(opts, realtime.WithAuthorizer(a))
	}
	return opts
}
