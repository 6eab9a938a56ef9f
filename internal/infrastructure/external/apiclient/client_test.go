package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachlab/extension-tracker/pkg/circuitbreaker"
	"github.com/coachlab/extension-tracker/pkg/retry"
)

func newTestClient(baseURL string, mutate ...func(*Config)) *Client {
	cfg := Config{
		Name:    "test",
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
		RateLimiter: RateLimiterConfig{
			RequestsPerSecond: 1000,
			BurstSize:         100,
			WaitTimeout:       time.Second,
		},
		Retrier: retry.New(
			retry.WithMaxAttempts(3),
			retry.WithInitialDelay(time.Millisecond),
			retry.WithMaxDelay(5*time.Millisecond),
			retry.WithJitter(0),
			retry.WithRetryIf(IsRetryable),
		),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg)
}

func TestClient_GetSendsHeadersAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v4/values", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		assert.Equal(t, "ROWS", r.URL.Query().Get("majorDimension"))
		assert.Equal(t, "2022-06-28", r.Header.Get("Notion-Version"))
		_ = json.NewEncoder(w).Encode(map[string]string{"range": "A:E"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, func(cfg *Config) {
		cfg.Headers = map[string]string{"Notion-Version": "2022-06-28"}
		cfg.Query = url.Values{"key": {"secret"}}
	})

	var out struct {
		Range string `json:"range"`
	}
	err := c.Get(context.Background(), "/v4/values", url.Values{"majorDimension": {"ROWS"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "A:E", out.Range)
}

func TestClient_PostEncodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 100, body["page_size"])
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Post(context.Background(), "/query", map[string]int{"page_size": 100}, nil)
	assert.NoError(t, err)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	var out map[string]bool
	require.NoError(t, c.Get(context.Background(), "/", nil, &out))
	assert.True(t, out["ok"])
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"object":"error","status":404,"code":"object_not_found","message":"Could not find database"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Get(context.Background(), "/databases/x", nil, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "object_not_found", apiErr.Code)
	assert.Equal(t, "Could not find database", apiErr.Message)
	assert.EqualValues(t, 1, calls.Load())
	assert.True(t, c.Available(), "4xx must not trip the breaker")
}

func TestClient_GoogleErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Get(context.Background(), "/", nil, nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "PERMISSION_DENIED", apiErr.Code)
	assert.Equal(t, "The caller does not have permission", apiErr.Message)
}

func TestClient_RateLimitedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	require.NoError(t, c.Get(context.Background(), "/", nil, nil))
	assert.EqualValues(t, 2, calls.Load())
}

func TestClient_BreakerOpensOnRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, func(cfg *Config) {
		cfg.Breaker = circuitbreaker.New("test",
			circuitbreaker.WithFailureThreshold(1),
			circuitbreaker.WithTimeout(time.Hour),
			circuitbreaker.WithIsFailure(IsFailure),
		)
	})

	err := c.Get(context.Background(), "/", nil, nil)
	require.Error(t, err)
	assert.False(t, c.Available())
	assert.Equal(t, "open", c.Status().BreakerState)

	before := calls.Load()
	err = c.Get(context.Background(), "/", nil, nil)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, before, calls.Load(), "open circuit must not reach the server")

	c.Reset()
	assert.True(t, c.Available())
}

func TestClient_InvalidJSONIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	var out map[string]any
	err := newTestClient(srv.URL).Get(context.Background(), "/", nil, &out)
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", &RateLimitError{Message: "slow down"}, true},
		{"server error", &APIError{StatusCode: 500}, true},
		{"request timeout", &APIError{StatusCode: 408}, true},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"wrapped server error", fmt.Errorf("query: %w", &APIError{StatusCode: 503}), true},
		{"cancelled", context.Canceled, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsFailure(t *testing.T) {
	assert.False(t, IsFailure(nil))
	assert.False(t, IsFailure(&APIError{StatusCode: 401}))
	assert.True(t, IsFailure(&APIError{StatusCode: 502}))
	assert.True(t, IsFailure(errors.New("dial tcp: i/o timeout")))
	assert.False(t, IsFailure(context.Canceled))
}

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 2, WaitTimeout: time.Millisecond})

	assert.True(t, rl.TryAllow())
	assert.True(t, rl.TryAllow())
	assert.False(t, rl.TryAllow())

	err := rl.Allow(context.Background())
	var rlErr *RateLimitError
	assert.True(t, errors.As(err, &rlErr))

	rl.Reset()
	assert.True(t, rl.TryAllow())
}

func TestRetryAfterHeader(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	assert.Zero(t, retryAfter("", now))
	assert.Equal(t, 7*time.Second, retryAfter("7", now))
	assert.Zero(t, retryAfter("-3", now))
	assert.Equal(t, 30*time.Second, retryAfter("Wed, 01 Apr 2026 09:00:30 GMT", now))
	assert.Zero(t, retryAfter("Wed, 01 Apr 2026 08:59:00 GMT", now), "dates in the past are ignored")
	assert.Zero(t, retryAfter("soon", now))
}
