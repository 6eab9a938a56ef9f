// Package retry re-runs failing calls to the upstream sources with capped
// exponential backoff. Errors may carry a server-provided delay (for example
// an HTTP Retry-After) that replaces the computed backoff for that attempt.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retryable marks err as transient. Without a custom predicate only marked
// errors are retried.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// Permanent marks err as final. The Retrier stops immediately and returns
// the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var target *retryableError
	return errors.As(err, &target)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var target *permanentError
	return errors.As(err, &target)
}

// DelayHinter is implemented by errors that know how long the caller should
// wait before the next attempt.
type DelayHinter interface {
	RetryDelay() time.Duration
}

// strip removes the package's own marker so callers see the original error.
func strip(err error) error {
	switch e := err.(type) {
	case *permanentError:
		return e.err
	case *retryableError:
		return e.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// BACKOFF
// ══════════════════════════════════════════════════════════════════════════════

// Backoff computes the wait before retry n (1-based).
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter spreads each delay by ±Jitter of its value (0 disables).
	Jitter float64
}

// Delay returns Initial * Multiplier^(n-1), capped at Max, with jitter applied.
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(n-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

type settings struct {
	attempts int
	backoff  Backoff
	retryIf  func(error) bool
	onRetry  func(attempt int, err error, delay time.Duration)
}

// Option configures a Retrier.
type Option func(*settings)

// WithMaxAttempts sets the total number of calls, the first one included.
func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.backoff.Initial = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.backoff.Max = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(s *settings) {
		if m >= 1 {
			s.backoff.Multiplier = m
		}
	}
}

// WithJitter sets the jitter fraction, 0 to 1.
func WithJitter(j float64) Option {
	return func(s *settings) {
		if j >= 0 && j <= 1 {
			s.backoff.Jitter = j
		}
	}
}

// WithRetryIf replaces the default "marked with Retryable" predicate.
func WithRetryIf(fn func(error) bool) Option {
	return func(s *settings) { s.retryIf = fn }
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(s *settings) { s.onRetry = fn }
}

// Retrier runs an operation until it succeeds, fails permanently, runs out
// of attempts or the context ends.
type Retrier struct {
	attempts int
	backoff  Backoff
	retryIf  func(error) bool
	onRetry  func(attempt int, err error, delay time.Duration)
}

// New creates a Retrier. Defaults: 3 attempts, 100ms doubling up to 30s, 10% jitter.
func New(opts ...Option) *Retrier {
	s := settings{
		attempts: 3,
		backoff: Backoff{
			Initial:    100 * time.Millisecond,
			Max:        30 * time.Second,
			Multiplier: 2,
			Jitter:     0.1,
		},
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.retryIf == nil {
		s.retryIf = IsRetryable
	}
	return &Retrier{
		attempts: s.attempts,
		backoff:  s.backoff,
		retryIf:  s.retryIf,
		onRetry:  s.onRetry,
	}
}

// MaxAttempts returns the configured attempt budget.
func (r *Retrier) MaxAttempts() int { return r.attempts }

// Backoff returns the delay policy.
func (r *Retrier) Backoff() Backoff { return r.backoff }

// Do runs op. The returned error is the last one op produced, without the
// Retryable or Permanent marker. If ctx ends before the first call, ctx.Err()
// is returned.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return strip(last)
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err

		if IsPermanent(err) || !r.retryIf(err) || attempt >= r.attempts {
			return strip(err)
		}

		delay := r.delayFor(attempt, err)
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}

		if !sleep(ctx, delay) {
			return strip(last)
		}
	}
}

// delayFor prefers a positive server hint, still bounded by the policy maximum.
func (r *Retrier) delayFor(attempt int, err error) time.Duration {
	var hinter DelayHinter
	if errors.As(err, &hinter) {
		if d := hinter.RetryDelay(); d > 0 {
			if r.backoff.Max > 0 && d > r.backoff.Max {
				return r.backoff.Max
			}
			return d
		}
	}
	return r.backoff.Delay(attempt)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SOURCE PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// NotionAPIRetrier is tuned for the record-store query endpoint, which
// answers bursts with 429 and a Retry-After header.
func NotionAPIRetrier(retryIf func(error) bool, onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(500*time.Millisecond),
		WithMaxDelay(10*time.Second),
		WithJitter(0.2),
		WithRetryIf(retryIf),
		WithOnRetry(onRetry),
	)
}

// SheetsAPIRetrier is tuned for spreadsheet value reads.
func SheetsAPIRetrier(retryIf func(error) bool, onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(time.Second),
		WithMaxDelay(15*time.Second),
		WithMultiplier(3),
		WithRetryIf(retryIf),
		WithOnRetry(onRetry),
	)
}
