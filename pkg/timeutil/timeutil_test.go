package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStartDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"slashes", "2024/04/01", Date(2024, 4, 1)},
		{"dashes", "2024-04-01", Date(2024, 4, 1)},
		{"unpadded", "2024/4/1", Date(2024, 4, 1)},
		{"year month", "2024/04", Date(2024, 4, 1)},
		{"surrounding spaces", "  2024-10-15 ", Date(2024, 10, 15)},
		{"rfc3339", "2024-04-01T00:00:00+09:00", Date(2024, 4, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStartDate(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestParseStartDate_Invalid(t *testing.T) {
	_, err := ParseStartDate("")
	assert.ErrorIs(t, err, ErrEmptyDate)

	for _, input := range []string{"not-a-date", "2024/13/01", "01/04/2024"} {
		_, err := ParseStartDate(input)
		assert.Error(t, err, input)
	}
}

func TestAddMonths(t *testing.T) {
	assert.Equal(t, Date(2024, 2, 29), AddMonths(Date(2024, 3, 31), -1))
	assert.Equal(t, Date(2023, 2, 28), AddMonths(Date(2023, 1, 31), 1))
	assert.Equal(t, Date(2025, 1, 15), AddMonths(Date(2024, 12, 15), 1))
	assert.Equal(t, Date(2023, 12, 15), AddMonths(Date(2024, 1, 15), -1))
	assert.Equal(t, Date(2024, 9, 15), AddMonths(Date(2024, 9, 15), 0))
}

func TestMonthsBetween(t *testing.T) {
	tests := []struct {
		name    string
		earlier time.Time
		later   time.Time
		want    int
	}{
		{"same day", Date(2024, 4, 1), Date(2024, 4, 1), 0},
		{"within first month", Date(2024, 4, 1), Date(2024, 4, 30), 0},
		{"five months", Date(2024, 4, 1), DateTime(2024, 9, 15, 12, 0, 0), 5},
		{"anniversary not reached", Date(2024, 1, 31), Date(2024, 3, 1), 1},
		{"clamped anniversary", Date(2024, 1, 31), Date(2024, 2, 29), 1},
		{"across year", Date(2023, 11, 20), Date(2024, 2, 19), 2},
		{"exact anniversary", Date(2023, 11, 20), Date(2024, 2, 20), 3},
		{"negative", Date(2024, 9, 15), Date(2024, 4, 1), -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MonthsBetween(tt.later, tt.earlier))
		})
	}
}

func TestFixedClock(t *testing.T) {
	at := DateTime(2024, 9, 15, 10, 0, 0)
	clock := FixedClock(at)
	assert.Equal(t, at, clock())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23s", FormatDuration(1234*time.Millisecond))
	assert.Equal(t, "0.00s", FormatDuration(0))
}
