// Package timeutil provides timezone and calendar utilities for the Tokyo business timezone (UTC+9).
// All enrollment dates and the daily refresh window are expressed in JST.
package timeutil

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TokyoTZ is the Japan Standard Time zone (UTC+9, no DST).
var TokyoTZ = time.FixedZone("Asia/Tokyo", 9*60*60)

// ErrEmptyDate is returned when a date string is blank.
var ErrEmptyDate = errors.New("empty date")

// Clock returns the current instant. Production code uses SystemClock;
// tests pass a FixedClock.
type Clock func() time.Time

// SystemClock returns the real current time.
func SystemClock() time.Time {
	return time.Now()
}

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// ToTokyo converts a time to Tokyo timezone.
func ToTokyo(t time.Time) time.Time {
	return t.In(TokyoTZ)
}

// Date creates a time in Tokyo timezone with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, TokyoTZ)
}

// DateTime creates a time in Tokyo timezone with the given date and time.
func DateTime(year, month, day, hour, min, sec int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, TokyoTZ)
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ══════════════════════════════════════════════════════════════════════════════
// CALENDAR MONTH ARITHMETIC
// ══════════════════════════════════════════════════════════════════════════════

// AddMonths shifts t by n calendar months, keeping the clock time.
// The day is clamped to the last day of the target month, so
// Mar 31 minus one month is Feb 28 (or 29).
func AddMonths(t time.Time, n int) time.Time {
	if n == 0 {
		return t
	}
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := DaysInMonth(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// MonthsBetween returns the number of whole calendar months from earlier to later.
// A month counts only once the anniversary has been reached:
// Jan 31 -> Mar 1 is 1, Jan 31 -> Feb 29 is 1 (clamped anniversary), Apr 1 -> Sep 15 is 5.
// The result is negative when later precedes earlier.
func MonthsBetween(later, earlier time.Time) int {
	if later.Before(earlier) {
		return -MonthsBetween(earlier, later)
	}

	earlier = earlier.In(later.Location())
	months := (later.Year()-earlier.Year())*12 + int(later.Month()) - int(earlier.Month())
	if months > 0 && AddMonths(earlier, months).After(later) {
		months--
	}
	return months
}

// ══════════════════════════════════════════════════════════════════════════════
// PARSING & FORMATTING
// ══════════════════════════════════════════════════════════════════════════════

// startDateLayouts are tried in order after separators are normalized.
// Single-digit layout elements also accept zero-padded input.
var startDateLayouts = []string{
	"2006-1-2",
	"2006-1",
	time.RFC3339,
	"2006-1-2 15:04:05",
	"2006-1-2 15:04",
}

// ParseStartDate parses an enrollment date such as "2024/04/01", "2024-04-01",
// "2024-04" or an RFC3339 timestamp. Slashes are treated as dashes.
// Values without a zone are interpreted in Tokyo timezone.
func ParseStartDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrEmptyDate
	}
	normalized := strings.ReplaceAll(value, "/", "-")

	for _, layout := range startDateLayouts {
		t, err := time.ParseInLocation(layout, normalized, TokyoTZ)
		if err == nil {
			return t.In(TokyoTZ), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// FormatDuration renders a duration in seconds with two decimals, e.g. "1.23s".
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
