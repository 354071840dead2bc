package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prescott-Data/nexus-framework/nexus-realtime/internal/auth"
)

var fastRetry = RetryPolicy{Retries: 2, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestAuthorize(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/broadcasting/auth", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "123.456", r.PostForm.Get("socket_id"))
		assert.Equal(t, "presence-room.1", r.PostForm.Get("channel_name"))
		assert.Equal(t, "web", r.PostForm.Get("client"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "1", r.Header.Get("X-Tenant"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"auth":         "key:sig",
			"channel_data": `{"user_id":"u1"}`,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL+"/broadcasting/auth",
		WithBearerToken("tok"),
		WithHeader("X-Tenant", "1"),
		WithParam("client", "web"),
	)
	out, err := c.Authorize(context.Background(), "123.456", "presence-room.1")
	require.NoError(t, err)
	assert.Equal(t, "key:sig", out.Auth)
	assert.Equal(t, `{"user_id":"u1"}`, out.ChannelData)
}

func TestAuthorize_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"auth": "key:sig"})
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(fastRetry))
	out, err := c.Authorize(context.Background(), "1.2", "private-a")
	require.NoError(t, err)
	assert.Equal(t, "key:sig", out.Auth)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAuthorize_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(fastRetry))
	_, err := c.Authorize(context.Background(), "1.2", "private-a")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr), "got %v", err)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAuthorize_429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithRetry(fastRetry)).Authorize(context.Background(), "1.2", "private-a")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "429 is not retried by default")

	calls.Store(0)
	policy := fastRetry
	policy.RetryOn429 = true
	_, err = New(srv.URL, WithRetry(policy)).Authorize(context.Background(), "1.2", "private-a")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAuthorize_Forbidden(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "This action is unauthorized."})
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithRetry(fastRetry)).Authorize(context.Background(), "1.2", "private-a")

	var envelope *ErrorEnvelope
	require.True(t, errors.As(err, &envelope), "got %v", err)
	assert.Equal(t, http.StatusForbidden, envelope.Status)
	assert.Equal(t, "This action is unauthorized.", envelope.Message)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestAuthorize_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Authorize(context.Background(), "1.2", "private-a")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "nope", statusErr.Body)
}

func TestAuthorize_MissingSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Authorize(context.Background(), "1.2", "private-a")
	assert.ErrorContains(t, err, "no auth signature")
}

func TestAuthorize_HMACStrategy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Signature"))
		_, _ = w.Write([]byte(`{"auth":"key:sig"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithStrategy(
		auth.Strategy{Type: auth.TypeHMACPayload, Config: map[string]string{"header_name": "X-Signature"}},
		auth.Credentials{"api_secret": "s"},
	))
	_, err := c.Authorize(context.Background(), "1.2", "private-a")
	require.NoError(t, err)
}

func TestAuthorize_StrategyErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(fastRetry), WithStrategy(auth.Strategy{Type: auth.TypeHeader}, auth.Credentials{}))
	_, err := c.Authorize(context.Background(), "1.2", "private-a")
	assert.ErrorContains(t, err, "api_key")
	assert.Zero(t, calls.Load())
}

func TestAuthorize_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL, WithRetry(fastRetry)).Authorize(ctx, "1.2", "private-a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAuthorize_MissingInput(t *testing.T) {
	c := New("http://unused")
	_, err := c.Authorize(context.Background(), "", "private-a")
	assert.Error(t, err)
	_, err = c.Authorize(context.Background(), "1.2", " ")
	assert.Error(t, err)
}
