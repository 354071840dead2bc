// Package authclient authorizes private and presence channels against an
// HTTP auth endpoint, such as Laravel's /broadcasting/auth.
package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Prescott-Data/nexus-framework/nexus-realtime/internal/auth"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/protocol"
)

// Client is a thin HTTP client for a channel auth endpoint. It implements
// protocol.Authorizer.
type Client struct {
	endpoint   string
	httpClient *http.Client
	strategy   auth.Strategy
	creds      auth.Credentials
	header     http.Header
	params     url.Values
	retry      RetryPolicy
	logger     Logger
}

var _ protocol.Authorizer = (*Client)(nil)

// Logger is a minimal structured logging interface.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(err error, msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})         {}
func (nopLogger) Error(error, string, ...interface{}) {}

// RetryPolicy configures retries of transient failures.
type RetryPolicy struct {
	Retries    int           // total attempts = Retries + 1
	MinDelay   time.Duration // base backoff (e.g., 200ms)
	MaxDelay   time.Duration // cap (e.g., 2s)
	RetryOn429 bool          // also retry on 429
}

func (p RetryPolicy) normalized() RetryPolicy {
	q := p
	if q.Retries < 0 {
		q.Retries = 0
	}
	if q.MinDelay <= 0 {
		q.MinDelay = 200 * time.Millisecond
	}
	if q.MaxDelay <= 0 {
		q.MaxDelay = 2 * time.Second
	}
	if q.MaxDelay < q.MinDelay {
		q.MaxDelay = q.MinDelay
	}
	return q
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }
func WithRetry(p RetryPolicy) Option       { return func(c *Client) { c.retry = p } }
func WithLogger(l Logger) Option           { return func(c *Client) { c.logger = l } }

// WithStrategy attaches credentials to every request using strategy.
func WithStrategy(strategy auth.Strategy, creds auth.Credentials) Option {
	return func(c *Client) {
		c.strategy = strategy
		c.creds = creds
	}
}

// WithBearerToken sends "Authorization: Bearer <token>".
func WithBearerToken(token string) Option {
	return WithStrategy(auth.Strategy{Type: auth.TypeOAuth2}, auth.Credentials{"access_token": token})
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Add(key, value) }
}

// WithParam adds a static form parameter to every request.
func WithParam(key, value string) Option {
	return func(c *Client) { c.params.Add(key, value) }
}

// New creates a new Client posting to endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		header:     make(http.Header),
		params:     make(url.Values),
		retry:      RetryPolicy{Retries: 2},
		logger:     nopLogger{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ErrorEnvelope is a structured error body returned by the auth endpoint.
type ErrorEnvelope struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEnvelope) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth endpoint %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("auth endpoint %d: %s", e.Status, e.Message)
}

// StatusError is an unsuccessful response without a structured body.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("auth endpoint %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("auth endpoint %d", e.StatusCode)
}

// Authorize requests a signature for socketID to join channel.
func (c *Client) Authorize(ctx context.Context, socketID, channel string) (protocol.ChannelAuth, error) {
	if strings.TrimSpace(socketID) == "" {
		return protocol.ChannelAuth{}, errors.New("missing socket_id")
	}
	if strings.TrimSpace(channel) == "" {
		return protocol.ChannelAuth{}, errors.New("missing channel_name")
	}

	form := url.Values{}
	for k, vs := range c.params {
		form[k] = append([]string(nil), vs...)
	}
	form.Set("socket_id", socketID)
	form.Set("channel_name", channel)

	resp, err := c.do(ctx, form.Encode())
	if err != nil {
		return protocol.ChannelAuth{}, err
	}
	defer resp.Body.Close()

	var out protocol.ChannelAuth
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return protocol.ChannelAuth{}, fmt.Errorf("decode auth response: %w", err)
	}
	if out.Auth == "" {
		return protocol.ChannelAuth{}, errors.New("auth response has no auth signature")
	}
	return out, nil
}

// do posts body, retrying transport failures and retryable statuses.
func (c *Client) do(ctx context.Context, body string) (*http.Response, error) {
	pol := c.retry.normalized()
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(pol.MinDelay),
		backoff.WithMaxInterval(pol.MaxDelay),
		backoff.WithMaxElapsedTime(0),
	)

	attempt := 0
	op := func() (*http.Response, error) {
		attempt++
		c.logger.Info("Requesting channel auth", "url", c.endpoint, "attempt", attempt)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		for k, vs := range c.header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if err := auth.Apply(req, c.strategy, c.creds); err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		retryable := resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout
		if pol.RetryOn429 && resp.StatusCode == http.StatusTooManyRequests {
			retryable = true
		}
		defer resp.Body.Close()
		if !retryable {
			return nil, backoff.Permanent(readAuthError(resp.Body, resp.StatusCode))
		}
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	notify := func(err error, delay time.Duration) {
		c.logger.Error(err, "Retrying channel auth", "after", delay)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(pol.Retries)), ctx)
	return backoff.RetryNotifyWithData(op, policy, notify)
}

func readAuthError(r io.Reader, status int) error {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	e := &ErrorEnvelope{Status: status}
	if err := json.Unmarshal(b, e); err == nil && (e.Code != "" || e.Message != "") {
		return e
	}
	return &StatusError{StatusCode: status, Body: strings.TrimSpace(string(b))}
}
