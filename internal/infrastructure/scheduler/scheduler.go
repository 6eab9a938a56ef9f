// Package scheduler runs background jobs on a schedule. The service registers
// a single daily source refresh, but any Job with any Schedule can be run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachlab/extension-tracker/pkg/timeutil"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobRunning              = errors.New("job is already running")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Job is a unit of background work. Run receives a context that is
// cancelled when the scheduler stops.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// MetadataJob is implemented by jobs that report details of their last run.
type MetadataJob interface {
	Job
	LastMetadata() map[string]any
}

// Schedule yields fire times. Next must return an instant strictly after t.
type Schedule interface {
	Next(t time.Time) time.Time
	String() string
}

// JobResult describes one finished run.
type JobResult struct {
	JobName     string         `json:"jobName"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	Duration    time.Duration  `json:"duration"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Manual      bool           `json:"manual"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SchedulerConfig contains configuration for the Scheduler.
type SchedulerConfig struct {
	Logger *slog.Logger

	// Timezone schedules are evaluated in. Defaults to UTC.
	Timezone *time.Location

	// Clock overrides the wall clock.
	Clock timeutil.Clock

	// TickInterval caps how long the loop sleeps between checks. Defaults to 1s.
	TickInterval time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Logger:       slog.Default(),
		Timezone:     time.UTC,
		Clock:        timeutil.SystemClock,
		TickInterval: time.Second,
	}
}

// entry is a registered job together with its bookkeeping.
// All fields except job and schedule are guarded by Scheduler.mu.
type entry struct {
	job      Job
	schedule Schedule

	busy    bool
	next    time.Time
	lastRun time.Time
	last    *JobResult

	runs, fails, skips int64
}

// Scheduler fires registered jobs when their schedule comes due. A job never
// runs twice concurrently: a due tick that finds it busy is counted as a skip
// and the next fire time is taken from now, so missed ticks are not replayed.
type Scheduler struct {
	log   *slog.Logger
	loc   *time.Location
	clock timeutil.Clock
	tick  time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
	runCtx  context.Context
	stop    context.CancelFunc
	since   time.Time

	active  sync.WaitGroup
	metrics *SchedulerMetrics
}

func NewScheduler(config SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	if config.Timezone == nil {
		config.Timezone = def.Timezone
	}
	if config.Clock == nil {
		config.Clock = def.Clock
	}
	if config.TickInterval <= 0 {
		config.TickInterval = def.TickInterval
	}

	return &Scheduler{
		log:     config.Logger.With("component", "scheduler"),
		loc:     config.Timezone,
		clock:   config.Clock,
		tick:    config.TickInterval,
		entries: make(map[string]*entry),
		metrics: NewSchedulerMetrics(),
	}
}

func (s *Scheduler) now() time.Time { return s.clock().In(s.loc) }

// Register adds job under its name; names must be unique.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	name := job.Name()
	e := &entry{job: job, schedule: schedule, next: schedule.Next(s.now())}

	s.mu.Lock()
	if _, dup := s.entries[name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	s.entries[name] = e
	s.mu.Unlock()

	s.log.Info("job registered",
		"job", name,
		"schedule", schedule.String(),
		"next_run", e.next.Format(time.RFC3339),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start launches the dispatch loop. The loop ends when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.runCtx, s.stop = context.WithCancel(ctx)
	s.since = s.now()
	runCtx, n := s.runCtx, len(s.entries)
	s.mu.Unlock()

	s.log.Info("scheduler started", "jobs_count", n)

	s.active.Add(1)
	go func() {
		defer s.active.Done()
		s.loop(runCtx)
	}()
	return nil
}

// Stop cancels in-flight jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stop == nil {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.stop()
	s.stop = nil
	since := s.since
	s.mu.Unlock()

	s.active.Wait()
	s.log.Info("scheduler stopped", "uptime", s.now().Sub(since).String())
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stop != nil
}

// loop sleeps until the earliest fire time, capped at the tick interval so a
// changed clock or a newly registered job is noticed.
func (s *Scheduler) loop(ctx context.Context) {
	timer := time.NewTimer(s.tick)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		now := s.now()
		wait := s.tick
		if earliest := s.dispatchDue(ctx, now); !earliest.IsZero() {
			wait = min(wait, max(earliest.Sub(now), time.Millisecond))
		}
		timer.Reset(wait)
	}
}

// dispatchDue starts every job due at now and returns the earliest upcoming
// fire time across all jobs.
func (s *Scheduler) dispatchDue(ctx context.Context, now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest time.Time
	for name, e := range s.entries {
		if !now.Before(e.next) {
			e.next = e.schedule.Next(now)
			if e.busy {
				e.skips++
				s.log.Warn("job still running, skipping tick",
					"job", name,
					"next_run", e.next.Format(time.RFC3339),
				)
			} else {
				e.busy = true
				s.active.Add(1)
				go func() {
					defer s.active.Done()
					s.run(ctx, e, false)
				}()
			}
		}
		if earliest.IsZero() || e.next.Before(earliest) {
			earliest = e.next
		}
	}
	return earliest
}

// run executes a job whose busy flag the caller has already set.
func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) *JobResult {
	name := e.job.Name()
	res := &JobResult{JobName: name, StartedAt: s.now(), Manual: manual}

	s.mu.Lock()
	e.lastRun = res.StartedAt
	e.runs++
	s.mu.Unlock()

	s.log.Info("job started", "job", name, "manual", manual)

	err := callJob(ctx, e.job)

	res.CompletedAt = s.now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)
	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
	}
	if mj, ok := e.job.(MetadataJob); ok {
		res.Metadata = mj.LastMetadata()
	}
	s.metrics.RecordExecution(name, res.Duration, res.Success)

	s.mu.Lock()
	e.busy = false
	e.last = res
	if err != nil {
		e.fails++
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed", "job", name, "duration", res.Duration.String(), "error", err)
	} else {
		s.log.Info("job completed", "job", name, "duration", res.Duration.String())
	}
	return res
}

// callJob turns a panic into an error.
func callJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return job.Run(ctx)
}

// RunNow executes the named job synchronously on ctx, outside its schedule.
// A failed run returns both the result and an error.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.entries[jobName]
	switch {
	case !ok:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	case e.busy:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, jobName)
	}
	e.busy = true
	s.mu.Unlock()

	res := s.run(ctx, e, true)
	if !res.Success {
		return res, errors.New(res.Error)
	}
	return res, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo is the status of one registered job.
type JobInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schedule    string     `json:"schedule"`
	Running     bool       `json:"running"`
	LastRun     time.Time  `json:"lastRun"`
	NextRun     time.Time  `json:"nextRun"`
	RunCount    int64      `json:"runCount"`
	FailCount   int64      `json:"failCount"`
	SkipCount   int64      `json:"skipCount"`
	LastResult  *JobResult `json:"lastResult,omitempty"`
}

// ListJobs returns all jobs sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	out := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Schedule:    e.schedule.String(),
			Running:     e.busy,
			LastRun:     e.lastRun,
			NextRun:     e.next,
			RunCount:    e.runs,
			FailCount:   e.fails,
			SkipCount:   e.skips,
			LastResult:  e.last,
		})
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (s *Scheduler) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// SchedulerMetrics aggregates run outcomes across all jobs.
type SchedulerMetrics struct {
	executions atomic.Int64
	successes  atomic.Int64
	totalNanos atomic.Int64
}

func NewSchedulerMetrics() *SchedulerMetrics {
	return &SchedulerMetrics{}
}

// RecordExecution counts one run. jobName is accepted for callers that log
// per job; totals are not split by job.
func (m *SchedulerMetrics) RecordExecution(jobName string, duration time.Duration, success bool) {
	m.executions.Add(1)
	m.totalNanos.Add(int64(duration))
	if success {
		m.successes.Add(1)
	}
}

// MetricsSnapshot is a point-in-time copy of SchedulerMetrics.
type MetricsSnapshot struct {
	TotalExecutions int64         `json:"totalExecutions"`
	TotalSuccesses  int64         `json:"totalSuccesses"`
	TotalFailures   int64         `json:"totalFailures"`
	SuccessRate     float64       `json:"successRate"`
	AverageDuration time.Duration `json:"averageDuration"`
}

func (m *SchedulerMetrics) Snapshot() MetricsSnapshot {
	succ := m.successes.Load()
	n := m.executions.Load()
	snap := MetricsSnapshot{TotalExecutions: n, TotalSuccesses: succ, TotalFailures: n - succ}
	if n > 0 {
		snap.SuccessRate = float64(succ) / float64(n)
		snap.AverageDuration = time.Duration(m.totalNanos.Load() / n)
	}
	return snap
}
