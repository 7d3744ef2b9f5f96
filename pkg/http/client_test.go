package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, 0, nil)
	body, err := client.Get(context.Background(), "/", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClientDoesNotRetryRateLimit(t *testing.T) {
	// 429 must surface on the first attempt so callers can pause
	// globally instead of hammering the upstream.
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, 0, nil)
	_, err := client.Get(context.Background(), "/", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsRateLimit())
	assert.Equal(t, 7*time.Second, apiErr.RetryAfter)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClientSignsRequests(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, 0, &HeaderSigner{Header: "X-API-Key", Value: "sekrit"})
	_, err := client.Post(context.Background(), "/", map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, "sekrit", got.Load())
}

func TestClientRateLimiterBoundsOutboundRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, 1, nil)

	_, err := client.Get(context.Background(), "/", nil)
	require.NoError(t, err)

	// The burst token is spent; a second request cannot proceed within
	// a deadline shorter than the refill interval.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Get(ctx, "/", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}

func TestClientCircuitBreakerOpens(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, 0, nil)

	opened := false
	for i := 0; i < 10; i++ {
		_, err := client.Get(context.Background(), "/", nil)
		require.Error(t, err)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			opened = true
			break
		}
	}
	require.True(t, opened, "breaker should open after sustained failures")

	served := attempts.Load()
	_, err := client.Get(context.Background(), "/", nil)
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, served, attempts.Load(), "open breaker must not reach the server")
}
