// Package refresh keeps the cached spreadsheet data fresh. Startup preload,
// the daily scheduled run and the manual trigger all share one fetch sequence.
package refresh

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coachlab/extension-tracker/internal/domain/student"
	"github.com/coachlab/extension-tracker/internal/infrastructure/cache"
	"github.com/coachlab/extension-tracker/pkg/timeutil"
)

// Cache keys for the spreadsheet datasets.
const (
	KeyFormUpdates = "sheets_form_updates"
	KeySuspensions = "sheets_suspensions"
)

// Trigger identifies what started a refresh.
type Trigger string

const (
	TriggerStartup   Trigger = "startup"
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUMMARY
// ══════════════════════════════════════════════════════════════════════════════

// Summary describes one run of the refresh sequence.
type Summary struct {
	Success          bool      `json:"success"`
	Trigger          Trigger   `json:"trigger"`
	StudentsCount    int       `json:"studentsCount"`
	FormUpdatesCount int       `json:"formUpdatesCount"`
	SuspensionsCount int       `json:"suspensionsCount"`
	Duration         string    `json:"duration"`
	DurationMs       int64     `json:"durationMs"`
	Error            string    `json:"error,omitempty"`
	Errors           []string  `json:"errors"`
	StartedAt        time.Time `json:"startedAt"`
	CompletedAt      time.Time `json:"completedAt"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ORCHESTRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Orchestrator runs the fetch sequence and owns the cache keys it writes.
// It adds no locking of its own: overlapping runs each finish their
// sequence and the last Set wins.
//
// Fetches whose results are cached run detached from the caller's
// cancellation. A client that hangs up mid-request must not leave an empty
// map in the shared cache; the adapters' HTTP timeouts bound each call.
type Orchestrator struct {
	students    student.RecordSource
	formUpdates student.FormUpdateSource
	suspensions student.SuspensionSource
	store       cache.Store

	logger *slog.Logger
	now    timeutil.Clock

	lastSummary atomic.Value // Summary
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used for summary timestamps.
func WithClock(clock timeutil.Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.now = clock
		}
	}
}

// NewOrchestrator creates an Orchestrator over the three sources and the store.
func NewOrchestrator(
	students student.RecordSource,
	formUpdates student.FormUpdateSource,
	suspensions student.SuspensionSource,
	store cache.Store,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		students:    students,
		formUpdates: formUpdates,
		suspensions: suspensions,
		store:       store,
		logger:      slog.Default(),
		now:         timeutil.SystemClock,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "refresh")
	return o
}

// Preload warms the cache once at process start.
func (o *Orchestrator) Preload(ctx context.Context) Summary {
	return o.run(ctx, TriggerStartup)
}

// ScheduledRefresh runs the sequence for the daily job.
func (o *Orchestrator) ScheduledRefresh(ctx context.Context) Summary {
	return o.run(ctx, TriggerScheduled)
}

// ManualRefresh clears the whole cache, then runs the sequence synchronously.
func (o *Orchestrator) ManualRefresh(ctx context.Context) Summary {
	o.store.Clear()
	return o.run(ctx, TriggerManual)
}

// run fetches students, form updates and suspensions in that order and caches
// the two spreadsheet maps. A failing source degrades to empty; the sequence
// never aborts and empty maps are cached too.
func (o *Orchestrator) run(ctx context.Context, trigger Trigger) Summary {
	ctx = context.WithoutCancel(ctx)
	startedAt := o.now()
	summary := Summary{
		Trigger:   trigger,
		StartedAt: startedAt,
		Errors:    []string{},
	}

	o.logger.Info("refresh started", "trigger", string(trigger))

	students, err := o.students.FetchStudents(ctx)
	if err != nil {
		o.logger.Warn("student fetch failed", "trigger", string(trigger), "error", err)
		summary.Error = err.Error()
		summary.Errors = append(summary.Errors, "students: "+err.Error())
		students = nil
	}
	o.reportBadStartDates(students)

	forms, err := o.fetchFormUpdates(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, "form updates: "+err.Error())
	}

	suspensions, err := o.fetchSuspensions(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, "suspensions: "+err.Error())
	}

	o.store.Set(KeyFormUpdates, forms)
	o.store.Set(KeySuspensions, suspensions)

	completedAt := o.now()
	elapsed := completedAt.Sub(startedAt)

	summary.Success = summary.Error == ""
	summary.StudentsCount = len(students)
	summary.FormUpdatesCount = len(forms)
	summary.SuspensionsCount = len(suspensions)
	summary.Duration = timeutil.FormatDuration(elapsed)
	summary.DurationMs = elapsed.Milliseconds()
	summary.CompletedAt = completedAt

	o.lastSummary.Store(summary)

	o.logger.Info("refresh completed",
		"trigger", string(trigger),
		"success", summary.Success,
		"students", summary.StudentsCount,
		"form_updates", summary.FormUpdatesCount,
		"suspensions", summary.SuspensionsCount,
		"duration", summary.Duration,
	)

	return summary
}

// maxReportedIDs caps the student IDs listed in the bad start date warning.
const maxReportedIDs = 10

// reportBadStartDates logs one warning per refresh for records whose lesson
// start date cannot be parsed. Those students show zero elapsed months.
func (o *Orchestrator) reportBadStartDates(records []student.Record) {
	var bad []string
	count := 0
	for _, r := range records {
		if _, err := timeutil.ParseStartDate(r.LessonStartDate); err != nil {
			count++
			if len(bad) < maxReportedIDs {
				bad = append(bad, r.StudentID)
			}
		}
	}
	if count == 0 {
		return
	}
	o.logger.Warn("unparseable lesson start dates",
		"count", count,
		"student_ids", bad,
	)
}

// fetchFormUpdates always returns a non-nil map. On error the map is empty.
func (o *Orchestrator) fetchFormUpdates(ctx context.Context) (student.FormUpdates, error) {
	forms, err := o.formUpdates.FetchFormUpdates(ctx)
	if err != nil {
		o.logger.Warn("form updates fetch failed", "error", err)
		return student.FormUpdates{}, err
	}
	if forms == nil {
		forms = student.FormUpdates{}
	}
	return forms, nil
}

// fetchSuspensions always returns a non-nil map. On error the map is empty.
func (o *Orchestrator) fetchSuspensions(ctx context.Context) (student.Suspensions, error) {
	suspensions, err := o.suspensions.FetchSuspensions(ctx)
	if err != nil {
		o.logger.Warn("suspensions fetch failed", "error", err)
		return student.Suspensions{}, err
	}
	if suspensions == nil {
		suspensions = student.Suspensions{}
	}
	return suspensions, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE-OR-FETCH
// ══════════════════════════════════════════════════════════════════════════════

// FormUpdates returns the cached form updates, fetching and caching them on a miss.
func (o *Orchestrator) FormUpdates(ctx context.Context) student.FormUpdates {
	if forms, ok := cache.GetTyped[student.FormUpdates](o.store, KeyFormUpdates); ok {
		return forms
	}

	o.logger.Debug("cache miss", "cache_key", KeyFormUpdates)
	forms, _ := o.fetchFormUpdates(context.WithoutCancel(ctx))
	o.store.Set(KeyFormUpdates, forms)
	return forms
}

// Suspensions returns the cached suspensions, fetching and caching them on a miss.
func (o *Orchestrator) Suspensions(ctx context.Context) student.Suspensions {
	if suspensions, ok := cache.GetTyped[student.Suspensions](o.store, KeySuspensions); ok {
		return suspensions
	}

	o.logger.Debug("cache miss", "cache_key", KeySuspensions)
	suspensions, _ := o.fetchSuspensions(context.WithoutCancel(ctx))
	o.store.Set(KeySuspensions, suspensions)
	return suspensions
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE INTROSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// ClearCache drops every cached entry.
func (o *Orchestrator) ClearCache() {
	o.store.Clear()
	o.logger.Info("cache cleared")
}

// CacheStats reports the store contents.
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.store.Stats()
}

// LastSummary returns the summary of the most recent run from any trigger.
func (o *Orchestrator) LastSummary() (Summary, bool) {
	s, ok := o.lastSummary.Load().(Summary)
	return s, ok
}
