package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
	meta  map[string]any
}

func (j *stubJob) Name() string        { return j.name }
func (j *stubJob) Description() string { return "stub " + j.name }

func (j *stubJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

type metaJob struct{ stubJob }

func (j *metaJob) LastMetadata() map[string]any { return j.meta }

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestScheduler(clock *manualClock) *Scheduler {
	return NewScheduler(SchedulerConfig{Clock: clock.Now})
}

func TestDailySchedule_Next(t *testing.T) {
	s, err := NewDailySchedule(17, 0, time.UTC)
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before fire time", time.Date(2024, 9, 15, 9, 0, 0, 0, time.UTC), time.Date(2024, 9, 15, 17, 0, 0, 0, time.UTC)},
		{"exactly at fire time", time.Date(2024, 9, 15, 17, 0, 0, 0, time.UTC), time.Date(2024, 9, 16, 17, 0, 0, 0, time.UTC)},
		{"after fire time", time.Date(2024, 9, 15, 17, 0, 1, 0, time.UTC), time.Date(2024, 9, 16, 17, 0, 0, 0, time.UTC)},
		{"month rollover", time.Date(2024, 9, 30, 18, 0, 0, 0, time.UTC), time.Date(2024, 10, 1, 17, 0, 0, 0, time.UTC)},
		{"year rollover", time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC), time.Date(2025, 1, 1, 17, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Next(tt.now)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
			assert.True(t, got.After(tt.now))
		})
	}
}

func TestDailySchedule_NoBackfill(t *testing.T) {
	s := &DailySchedule{Hour: 17, Minute: 0}

	// process slept through three fire times
	wake := time.Date(2024, 9, 18, 20, 0, 0, 0, time.UTC)
	next := s.Next(wake)

	assert.Equal(t, time.Date(2024, 9, 19, 17, 0, 0, 0, time.UTC), next)
}

func TestDailySchedule_OtherLocation(t *testing.T) {
	jst := time.FixedZone("Asia/Tokyo", 9*60*60)
	s, err := NewDailySchedule(2, 0, jst)
	require.NoError(t, err)

	next := s.Next(time.Date(2024, 9, 15, 16, 0, 0, 0, time.UTC))

	assert.True(t, next.Equal(time.Date(2024, 9, 15, 17, 0, 0, 0, time.UTC)))
	assert.Equal(t, "daily at 02:00 Asia/Tokyo", s.String())
}

func TestNewDailySchedule_Invalid(t *testing.T) {
	_, err := NewDailySchedule(24, 0, nil)
	assert.Error(t, err)

	_, err = NewDailySchedule(0, 60, nil)
	assert.Error(t, err)

	s, err := NewDailySchedule(0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, s.Location)
}

func TestScheduler_Register(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 9, 15, 9, 0, 0, 0, time.UTC)}
	s := newTestScheduler(clock)
	sched := &DailySchedule{Hour: 17}

	require.NoError(t, s.Register(&stubJob{name: "refresh"}, sched))

	err := s.Register(&stubJob{name: "refresh"}, sched)
	assert.ErrorIs(t, err, ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, sched), ErrNilJob)
	assert.ErrorIs(t, s.Register(&stubJob{name: "x"}, nil), ErrNilSchedule)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "refresh", jobs[0].Name)
	assert.Equal(t, time.Date(2024, 9, 15, 17, 0, 0, 0, time.UTC), jobs[0].NextRun)
}

func TestScheduler_RunNow(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 9, 15, 9, 0, 0, 0, time.UTC)}
	s := newTestScheduler(clock)

	job := &metaJob{stubJob: stubJob{name: "refresh", meta: map[string]any{"students": 3}}}
	require.NoError(t, s.Register(job, &DailySchedule{Hour: 17}))

	result, err := s.RunNow(context.Background(), "refresh")
	require.NoError(t, err)

	assert.Equal(t, "refresh", result.JobName)
	assert.True(t, result.Success)
	assert.True(t, result.Manual)
	assert.Empty(t, result.Error)
	assert.Equal(t, map[string]any{"students": 3}, result.Metadata)
	assert.Equal(t, int32(1), job.runs.Load())

	info := s.ListJobs()[0]
	assert.Equal(t, int64(1), info.RunCount)
	assert.Same(t, result, info.LastResult)
	assert.Equal(t, int64(1), s.Metrics().TotalSuccesses)
}

func TestScheduler_RunNowFailure(t *testing.T) {
	clock := &manualClock{now: time.Now()}
	s := newTestScheduler(clock)

	job := &stubJob{name: "refresh", err: errors.New("notion down")}
	require.NoError(t, s.Register(job, &DailySchedule{Hour: 17}))

	result, err := s.RunNow(context.Background(), "refresh")
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, "notion down", result.Error)
	assert.Equal(t, int64(1), s.ListJobs()[0].FailCount)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RecoversPanic(t *testing.T) {
	s := newTestScheduler(&manualClock{now: time.Now()})
	require.NoError(t, s.Register(panicJob{}, &DailySchedule{Hour: 17}))

	result, err := s.RunNow(context.Background(), "panic")
	require.Error(t, err)
	assert.Contains(t, result.Error, "job panicked")
}

type panicJob struct{}

func (panicJob) Name() string                  { return "panic" }
func (panicJob) Description() string           { return "panics" }
func (panicJob) Run(ctx context.Context) error { panic("boom") }

func TestScheduler_SkipsJobStillRunning(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 9, 15, 16, 59, 0, 0, time.UTC)}
	s := newTestScheduler(clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := &stubJob{name: "refresh", block: make(chan struct{})}
	require.NoError(t, s.Register(job, &DailySchedule{Hour: 17}))

	clock.Set(time.Date(2024, 9, 15, 17, 0, 0, 0, time.UTC))
	earliest := s.dispatchDue(ctx, clock.Now())
	assert.Equal(t, time.Date(2024, 9, 16, 17, 0, 0, 0, time.UTC), earliest)
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	// the next day's tick arrives while the first run is still blocked
	clock.Set(time.Date(2024, 9, 16, 17, 0, 0, 0, time.UTC))
	s.dispatchDue(ctx, clock.Now())

	_, err := s.RunNow(context.Background(), "refresh")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(job.block)
	s.active.Wait()

	assert.Equal(t, int32(1), job.runs.Load())
	info := s.ListJobs()[0]
	assert.Equal(t, int64(1), info.SkipCount)
	assert.False(t, info.Running)
	assert.Equal(t, time.Date(2024, 9, 17, 17, 0, 0, 0, time.UTC), info.NextRun)
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TickInterval: 10 * time.Millisecond})

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}
