package milestone

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachlab/extension-tracker/internal/domain/student"
	"github.com/coachlab/extension-tracker/pkg/timeutil"
)

func newTestCalendar() *Calendar {
	return NewCalendar(
		WithClock(timeutil.FixedClock(timeutil.DateTime(2024, 9, 15, 10, 30, 0))),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestElapsedMonths(t *testing.T) {
	cal := newTestCalendar()

	assert.Equal(t, 5, cal.ElapsedMonths("2024/04/01", 0))
	assert.Equal(t, 5, cal.ElapsedMonths("2024-04-01", 0))
	assert.Equal(t, 4, cal.ElapsedMonths("2024/04/01", -1))
	assert.Equal(t, 6, cal.ElapsedMonths("2024/04/01", 1))
	assert.Equal(t, 4, cal.ElapsedMonths("2024/04/16", 0), "anniversary on the 16th not reached yet")
	assert.Equal(t, 0, cal.ElapsedMonths("2024/09/01", 0))
}

func TestElapsedMonths_Malformed(t *testing.T) {
	cal := newTestCalendar()

	assert.NotPanics(t, func() {
		assert.Equal(t, 0, cal.ElapsedMonths("not-a-date", 0))
		assert.Equal(t, 0, cal.ElapsedMonths("", 0))
		assert.Equal(t, 0, cal.ElapsedMonths("2024/13/45", 3))
	})
}

func TestElapsedMonths_MalformedStaysBelowInfo(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cal := NewCalendar(WithClock(timeutil.FixedClock(timeutil.Date(2024, 9, 15))), WithLogger(log))

	for range 3 {
		cal.ElapsedMonths("not-a-date", 0)
	}
	assert.Empty(t, buf.String())
}

func TestElapsedMonths_MonotonicInOffset(t *testing.T) {
	cal := newTestCalendar()
	starts := []string{"2024/04/01", "2023/01/31", "2024/02/29", "2024/08/31", "2025/01/15"}

	for _, start := range starts {
		prev := cal.ElapsedMonths(start, -24)
		for offset := -23; offset <= 24; offset++ {
			got := cal.ElapsedMonths(start, offset)
			assert.GreaterOrEqual(t, got, prev, "start=%s offset=%d", start, offset)
			prev = got
		}
	}
}

func TestReference_ClampsDay(t *testing.T) {
	cal := NewCalendar(WithClock(timeutil.FixedClock(timeutil.Date(2024, 3, 31))))
	ref := cal.Reference(-1)
	assert.Equal(t, 2024, ref.Year())
	assert.Equal(t, 2, int(ref.Month()))
	assert.Equal(t, 29, ref.Day())
}

func TestFilterByMilestone(t *testing.T) {
	cal := newTestCalendar()
	records := []student.Record{
		{StudentID: "M3", LessonStartDate: "2024/06/01"},
		{StudentID: "M4", LessonStartDate: "2024/05/01"},
		{StudentID: "M5", LessonStartDate: "2024/04/01"},
		{StudentID: "BAD", LessonStartDate: "garbage"},
	}

	got := cal.FilterByMilestone(records, 4, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "M4", got[0].StudentID)

	next := cal.FilterByMilestone(records, 4, 1)
	require.Len(t, next, 1)
	assert.Equal(t, "M3", next[0].StudentID)

	assert.Empty(t, cal.FilterByMilestone(records, 7, 0))
}

func TestDetermineCycle(t *testing.T) {
	assert.Equal(t, CycleFirst, DetermineCycle(4))
	assert.Equal(t, CycleFirst, DetermineCycle(5))
	assert.Equal(t, CycleSecond, DetermineCycle(10))
	assert.Equal(t, CycleSecond, DetermineCycle(11))

	// non-milestone months fall back to the first cycle
	assert.Equal(t, CycleFirst, DetermineCycle(0))
	assert.Equal(t, CycleFirst, DetermineCycle(7))
	assert.Equal(t, CycleFirst, DetermineCycle(12))
}

func TestCycleFor(t *testing.T) {
	assert.Equal(t, CycleFirst, CycleFor(4))
	assert.Equal(t, CycleSecond, CycleFor(11))
	assert.Equal(t, CycleNone, CycleFor(6))
	assert.Equal(t, CycleNone, CycleFor(-1))
}

func TestParseCycle(t *testing.T) {
	c, err := ParseCycle("2")
	require.NoError(t, err)
	assert.Equal(t, CycleSecond, c)

	_, err = ParseCycle("3")
	assert.Error(t, err)
	_, err = ParseCycle("x")
	assert.Error(t, err)
}

func TestMilestoneMonths(t *testing.T) {
	assert.True(t, IsHearingMonth(4))
	assert.True(t, IsHearingMonth(10))
	assert.False(t, IsHearingMonth(5))
	assert.True(t, IsExaminationMonth(11))
	assert.False(t, IsExaminationMonth(10))
}
