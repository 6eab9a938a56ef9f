// Package milestone computes elapsed enrollment months and maps them onto
// the hearing and examination milestones of the two extension cycles.
package milestone

import (
	"log/slog"
	"time"

	"github.com/coachlab/extension-tracker/internal/domain/student"
	"github.com/coachlab/extension-tracker/pkg/timeutil"
)

// Calendar computes elapsed calendar months relative to an injectable clock.
type Calendar struct {
	now    timeutil.Clock
	logger *slog.Logger
}

// Option configures a Calendar.
type Option func(*Calendar)

// WithClock sets the reference clock.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Calendar) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithLogger sets the logger used for parse failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Calendar) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCalendar creates a Calendar using the system clock by default.
func NewCalendar(opts ...Option) *Calendar {
	c := &Calendar{
		now:    timeutil.SystemClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reference returns "now" shifted by monthOffset calendar months, in Tokyo time.
func (c *Calendar) Reference(monthOffset int) time.Time {
	return timeutil.AddMonths(timeutil.ToTokyo(c.now()), monthOffset)
}

// ElapsedMonths returns the whole calendar months between startDate and the
// reference date shifted by monthOffset. Malformed or empty input yields 0.
// It runs for every student on every request, so parse failures are logged
// at debug; the refresh sequence reports them once at warn.
func (c *Calendar) ElapsedMonths(startDate string, monthOffset int) int {
	start, err := timeutil.ParseStartDate(startDate)
	if err != nil {
		c.logger.Debug("failed to parse start date",
			"start_date", startDate,
			"error", err,
		)
		return 0
	}
	return timeutil.MonthsBetween(c.Reference(monthOffset), start)
}

// FilterByMilestone keeps exactly the records whose elapsed months equal targetMonth.
func (c *Calendar) FilterByMilestone(records []student.Record, targetMonth, monthOffset int) []student.Record {
	out := make([]student.Record, 0)
	for _, r := range records {
		if c.ElapsedMonths(r.LessonStartDate, monthOffset) == targetMonth {
			out = append(out, r)
		}
	}
	return out
}
