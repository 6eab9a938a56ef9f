package apiclient

import (
	"context"
	"sync"
	"time"

	"github.com/coachlab/extension-tracker/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter paces outgoing requests with a virtual-schedule bucket: each
// granted request pushes the next free slot one interval ahead, and up to
// BurstSize slots may be claimed in advance. Notion allows an average of
// three requests per second per integration; Sheets read quotas are per minute.
type RateLimiter struct {
	mu  sync.Mutex
	now timeutil.Clock

	interval    time.Duration // one slot; zero means unlimited
	tolerance   time.Duration // how far ahead of now slots may be booked
	burst       int
	minGap      time.Duration
	waitTimeout time.Duration

	next        time.Time // next unbooked slot
	pausedUntil time.Time // set after an upstream 429
	lastGrant   time.Time
	waits       int
}

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate. Zero or less disables pacing.
	RequestsPerSecond float64

	// BurstSize is how many requests may go out back to back.
	BurstSize int

	// MinInterval spaces requests even while burst capacity remains.
	MinInterval time.Duration

	// WaitTimeout bounds how long Allow blocks before giving up.
	WaitTimeout time.Duration

	// RetryAfter is the default wait when a 429 carries no Retry-After header.
	RetryAfter time.Duration
}

// DefaultRateLimiterConfig matches Notion's documented average of 3 req/s.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 3,
		BurstSize:         3,
		MinInterval:       100 * time.Millisecond,
		WaitTimeout:       30 * time.Second,
		RetryAfter:        time.Second,
	}
}

// SheetsRateLimiterConfig stays well under the per-minute read quota.
func SheetsRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         5,
		MinInterval:       50 * time.Millisecond,
		WaitTimeout:       30 * time.Second,
		RetryAfter:        10 * time.Second,
	}
}

// NewRateLimiter starts with the full burst available.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}

	var interval time.Duration
	if config.RequestsPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / config.RequestsPerSecond)
	}

	return &RateLimiter{
		now:         timeutil.SystemClock,
		interval:    interval,
		tolerance:   interval * time.Duration(burst-1),
		burst:       burst,
		minGap:      config.MinInterval,
		waitTimeout: config.WaitTimeout,
	}
}

// Allow blocks until a slot is granted. It fails fast with *RateLimitError
// when the wait would exceed WaitTimeout, and returns ctx.Err() on cancellation.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	budget := rl.waitTimeout
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := rl.reserve()
		if wait == 0 {
			return nil
		}
		if wait > budget {
			return &RateLimitError{
				RetryAfter: wait,
				Message:    "rate limit exceeded, retry after " + wait.String(),
			}
		}
		budget -= wait

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAllow grants a slot only if one is free right now.
func (rl *RateLimiter) TryAllow() bool {
	return rl.reserve() == 0
}

// reserve books a slot and returns zero, or returns how long until one frees up.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	if now.Before(rl.pausedUntil) {
		rl.waits++
		return rl.pausedUntil.Sub(now)
	}
	if !rl.lastGrant.IsZero() {
		if gap := now.Sub(rl.lastGrant); gap < rl.minGap {
			rl.waits++
			return rl.minGap - gap
		}
	}

	next := rl.next
	if next.Before(now) {
		next = now
	}
	if ahead := next.Sub(now); ahead > rl.tolerance {
		rl.waits++
		return ahead - rl.tolerance
	}

	rl.next = next.Add(rl.interval)
	rl.lastGrant = now
	rl.waits = 0
	return 0
}

// RecordRateLimitHit holds every request until retryAfter has passed and
// drops any burst booked in advance.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	until := now.Add(retryAfter)
	if until.After(rl.pausedUntil) {
		rl.pausedUntil = until
	}
	// After the pause only the sustained rate is available.
	rl.next = rl.pausedUntil.Add(rl.tolerance)
	rl.waits++
}

// Reset restores the initial state.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.next = time.Time{}
	rl.pausedUntil = time.Time{}
	rl.lastGrant = time.Time{}
	rl.waits = 0
}

// RateLimiterStatus is a snapshot of the bucket.
type RateLimiterStatus struct {
	AvailableTokens  float64   `json:"availableTokens"`
	MaxTokens        float64   `json:"maxTokens"`
	RefillRate       float64   `json:"refillRate"`
	PausedUntil      time.Time `json:"pausedUntil,omitzero"`
	LastRequest      time.Time `json:"lastRequest"`
	ConsecutiveWaits int       `json:"consecutiveWaits"`
}

func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	st := RateLimiterStatus{
		AvailableTokens:  float64(rl.burst),
		MaxTokens:        float64(rl.burst),
		LastRequest:      rl.lastGrant,
		ConsecutiveWaits: rl.waits,
	}
	if rl.interval == 0 {
		return st
	}

	st.RefillRate = float64(time.Second) / float64(rl.interval)

	now := rl.now()
	if now.Before(rl.pausedUntil) {
		st.AvailableTokens = 0
		st.PausedUntil = rl.pausedUntil
		return st
	}

	booked := rl.next.Sub(now)
	if booked > 0 {
		avail := float64(rl.tolerance-booked)/float64(rl.interval) + 1
		st.AvailableTokens = max(0, min(avail, float64(rl.burst)))
	}
	return st
}
