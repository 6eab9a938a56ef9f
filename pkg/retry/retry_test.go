package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func fastOptions() []Option {
	return []Option{
		WithMaxAttempts(3),
		WithInitialDelay(time.Millisecond),
		WithMaxDelay(2 * time.Millisecond),
		WithJitter(0),
	}
}

func TestDo_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := New(fastOptions()...).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errBoom)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := New(fastOptions()...).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errBoom)
	})

	assert.ErrorIs(t, err, errBoom)
	assert.False(t, IsPermanent(err), "permanent wrapper is removed")
	assert.Equal(t, 1, calls)
}

func TestDo_PlainErrorsNotRetriedByDefault(t *testing.T) {
	calls := 0
	err := New(fastOptions()...).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryIfAndOnRetry(t *testing.T) {
	var retried []int
	opts := append(fastOptions(),
		WithRetryIf(func(err error) bool { return errors.Is(err, errBoom) }),
		WithOnRetry(func(attempt int, err error, delay time.Duration) { retried = append(retried, attempt) }),
	)

	calls := 0
	err := New(opts...).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := New().Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

type throttled struct{ wait time.Duration }

func (e throttled) Error() string             { return "throttled" }
func (e throttled) RetryDelay() time.Duration { return e.wait }

func TestDo_UsesDelayHintCappedAtMax(t *testing.T) {
	var delays []time.Duration
	r := New(
		WithInitialDelay(time.Millisecond),
		WithMaxDelay(3*time.Millisecond),
		WithRetryIf(func(error) bool { return true }),
		WithOnRetry(func(_ int, _ error, d time.Duration) { delays = append(delays, d) }),
	)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return throttled{wait: time.Hour}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Millisecond}, delays)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 400*time.Millisecond, b.Delay(3))
	assert.Equal(t, time.Second, b.Delay(10))

	b.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := b.Delay(2)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestPresets(t *testing.T) {
	n := NotionAPIRetrier(nil, nil)
	assert.Equal(t, 3, n.MaxAttempts())
	assert.Equal(t, 10*time.Second, n.Backoff().Max)

	s := SheetsAPIRetrier(nil, nil)
	assert.Equal(t, time.Second, s.Backoff().Initial)
	assert.Equal(t, 3.0, s.Backoff().Multiplier)

	assert.Equal(t, 3.0, New(WithMultiplier(3)).Backoff().Multiplier)
	assert.Equal(t, 2.0, New(WithMultiplier(0.5)).Backoff().Multiplier, "below 1 is ignored")
}
