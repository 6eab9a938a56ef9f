// Package jobs contains the scheduled jobs of the extension tracker.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/coachlab/extension-tracker/internal/application/refresh"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH SOURCES JOB
// ══════════════════════════════════════════════════════════════════════════════

// Refresher is the part of the refresh orchestrator the job needs.
type Refresher interface {
	ScheduledRefresh(ctx context.Context) refresh.Summary
}

// RefreshSourcesJob re-fetches the record store and both spreadsheets and
// replaces the cached spreadsheet maps.
type RefreshSourcesJob struct {
	refresher Refresher
	logger    *slog.Logger
	config    RefreshSourcesConfig

	lastSummary atomic.Value // refresh.Summary
	skipped     atomic.Int64
}

// RefreshSourcesConfig contains configuration for the refresh job. A run is
// bounded by the adapters' HTTP timeouts, not by the job.
type RefreshSourcesConfig struct {
	// Enabled is checked before every run; nil means always enabled.
	Enabled func() bool
}

// DefaultRefreshSourcesConfig runs on every tick.
func DefaultRefreshSourcesConfig() RefreshSourcesConfig {
	return RefreshSourcesConfig{}
}

// NewRefreshSourcesJob creates a new refresh job.
func NewRefreshSourcesJob(refresher Refresher, logger *slog.Logger, config RefreshSourcesConfig) *RefreshSourcesJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshSourcesJob{
		refresher: refresher,
		logger:    logger.With("job", "refresh_sources"),
		config:    config,
	}
}

// Name returns the job name.
func (j *RefreshSourcesJob) Name() string {
	return "refresh_sources"
}

// Description returns a human-readable description.
func (j *RefreshSourcesJob) Description() string {
	return "Re-fetches students, form updates and suspensions and refreshes the cache"
}

// Run executes the refresh. A failed student fetch fails the job; spreadsheet
// failures are already degraded to empty maps by the orchestrator.
func (j *RefreshSourcesJob) Run(ctx context.Context) error {
	if j.config.Enabled != nil && !j.config.Enabled() {
		j.skipped.Add(1)
		j.logger.Info("scheduled refresh disabled, skipping")
		return nil
	}

	summary := j.refresher.ScheduledRefresh(ctx)
	j.lastSummary.Store(summary)

	if !summary.Success {
		return errors.New("refresh failed: " + summary.Error)
	}
	return nil
}

// LastSummary returns the summary of the last run, if any.
func (j *RefreshSourcesJob) LastSummary() (refresh.Summary, bool) {
	s, ok := j.lastSummary.Load().(refresh.Summary)
	return s, ok
}

// LastMetadata reports the last summary counts for the scheduler's JobResult.
func (j *RefreshSourcesJob) LastMetadata() map[string]any {
	s, ok := j.LastSummary()
	if !ok {
		return map[string]any{"skipped": j.skipped.Load()}
	}
	return map[string]any{
		"students":     s.StudentsCount,
		"form_updates": s.FormUpdatesCount,
		"suspensions":  s.SuspensionsCount,
		"duration":     s.Duration,
		"errors":       len(s.Errors),
		"skipped":      j.skipped.Load(),
	}
}
