// Package apiclient is the HTTP base shared by the external source adapters.
// Every request passes through a circuit breaker, a retrier and a token bucket.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coachlab/extension-tracker/pkg/circuitbreaker"
	"github.com/coachlab/extension-tracker/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for a Client.
type Config struct {
	// Name identifies the upstream in logs, e.g. "notion".
	Name string

	// BaseURL is prepended to every request path.
	BaseURL string

	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration

	// Headers are sent with every request.
	Headers map[string]string

	// Query parameters added to every request (API keys).
	Query url.Values

	// RateLimiter configures the token bucket.
	RateLimiter RateLimiterConfig

	// Breaker guards the upstream. A default breaker is created when nil.
	Breaker *circuitbreaker.CircuitBreaker

	// Retrier retries transient failures. A default retrier is created when nil.
	Retrier *retry.Retrier

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables request logging.
	Debug bool
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError is a non-2xx response from the upstream.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout
}

// RateLimitError is returned when the upstream answered 429 or the local bucket
// could not hand out a token in time.
type RateLimitError struct {
	// RetryAfter is the suggested time to wait before retrying.
	RetryAfter time.Duration

	// Message provides additional context.
	Message string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return e.Message
}

// RetryDelay lets the retrier wait as long as the upstream asked.
func (e *RateLimitError) RetryDelay() time.Duration {
	return e.RetryAfter
}

// Is implements errors.Is interface.
func (e *RateLimitError) Is(target error) bool {
	_, ok := target.(*RateLimitError)
	return ok
}

// IsRetryable reports whether err is worth another attempt:
// rate limits, 5xx responses and network-level failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := err.Error()
	for _, s := range []string{"connection refused", "connection reset", "EOF"} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// IsFailure decides which errors count against the circuit breaker.
// Client errors (bad key, missing database) do not mean the upstream is down.
func IsFailure(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client performs JSON requests against one upstream.
type Client struct {
	config      Config
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
}

// New creates a Client.
func New(config Config) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimiter.RequestsPerSecond <= 0 {
		config.RateLimiter = DefaultRateLimiterConfig()
	}

	logger := config.Logger.With("component", "apiclient", "upstream", config.Name)

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	breaker := config.Breaker
	if breaker == nil {
		breaker = circuitbreaker.New(config.Name, circuitbreaker.WithIsFailure(IsFailure))
	}

	retrier := config.Retrier
	if retrier == nil {
		retrier = retry.New(retry.WithRetryIf(IsRetryable))
	}

	return &Client{
		config:      config,
		httpClient:  httpClient,
		logger:      logger,
		rateLimiter: NewRateLimiter(config.RateLimiter),
		breaker:     breaker,
		retrier:     retrier,
	}
}

// Get sends a GET request and decodes the JSON body into result.
func (c *Client) Get(ctx context.Context, path string, query url.Values, result any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, result)
}

// Post sends a POST request with a JSON body and decodes the response into result.
func (c *Client) Post(ctx context.Context, path string, body, result any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, result)
}

// Do sends one logical request. The breaker wraps the retry loop, so a
// request that exhausts its retries counts as a single failure; every attempt
// waits for the rate limiter first.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	attempt := func(ctx context.Context) error {
		if err := c.rateLimiter.Allow(ctx); err != nil {
			return err
		}
		err := c.roundTrip(ctx, method, path, query, body, result)
		if rl := (*RateLimitError)(nil); errors.As(err, &rl) {
			c.rateLimiter.RecordRateLimitHit(rl.RetryAfter)
		}
		return err
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, attempt)
	})
	if err != nil {
		return fmt.Errorf("%s %s %s: %w", c.config.Name, method, path, err)
	}
	return nil
}

// endpoint joins BaseURL and path and merges the fixed and per-call query.
func (c *Client) endpoint(path string, query url.Values) string {
	u := strings.TrimRight(c.config.BaseURL, "/") + path

	merged := make(url.Values, len(c.config.Query)+len(query))
	for _, src := range []url.Values{c.config.Query, query} {
		for k, vs := range src {
			merged[k] = append(merged[k], vs...)
		}
	}
	if len(merged) == 0 {
		return u
	}
	return u + "?" + merged.Encode()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		payload = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// roundTrip performs one attempt. Encoding and decoding failures are
// permanent; everything else is left to IsRetryable.
func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body, result any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return retry.Permanent(err)
	}
	if c.config.Debug {
		c.logger.Debug("api request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := retryAfter(resp.Header.Get("Retry-After"), time.Now())
		if wait <= 0 {
			wait = c.config.RateLimiter.RetryAfter
		}
		return &RateLimitError{RetryAfter: wait, Message: "rate limit exceeded"}
	case resp.StatusCode >= http.StatusBadRequest:
		return parseAPIError(resp.StatusCode, data)
	case result == nil || len(data) == 0:
		return nil
	}

	if err := json.Unmarshal(data, result); err != nil {
		return retry.Permanent(fmt.Errorf("decode body: %w", err))
	}
	return nil
}

// retryAfter reads a Retry-After header given either as seconds or as an
// HTTP date. It returns zero when the header is absent or unusable.
func retryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// parseAPIError reads the error body. Notion answers {code, message};
// Google answers {error: {code, message, status}}.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var payload struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
		Error   *struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiErr
	}

	if payload.Error != nil {
		apiErr.Code = payload.Error.Status
		apiErr.Message = payload.Error.Message
		return apiErr
	}
	if code, ok := payload.Code.(string); ok {
		apiErr.Code = code
	}
	apiErr.Message = payload.Message
	return apiErr
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status describes the client's protection state.
type Status struct {
	Name         string            `json:"name"`
	BreakerState string            `json:"breakerState"`
	RateLimiter  RateLimiterStatus `json:"rateLimiter"`
}

// Status returns the current status of the client.
func (c *Client) Status() Status {
	return Status{
		Name:         c.config.Name,
		BreakerState: c.breaker.State().String(),
		RateLimiter:  c.rateLimiter.Status(),
	}
}

// Available reports false while the circuit is open.
func (c *Client) Available() bool {
	return !c.breaker.IsOpen()
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.breaker.Reset()
}
