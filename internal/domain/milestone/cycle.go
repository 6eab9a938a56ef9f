package milestone

import (
	"fmt"
	"strconv"
	"strings"
)

// Milestone months.
const (
	HearingFirst      = 4
	ExaminationFirst  = 5
	HearingSecond     = 10
	ExaminationSecond = 11
)

// HearingMonths are the elapsed months at which a hearing is due.
var HearingMonths = []int{HearingFirst, HearingSecond}

// ExaminationMonths are the elapsed months at which an examination is due.
var ExaminationMonths = []int{ExaminationFirst, ExaminationSecond}

// Cycle identifies which milestone pair a decision belongs to.
type Cycle int

const (
	// CycleNone means the elapsed month is not a milestone.
	CycleNone Cycle = 0
	// CycleFirst covers months 4 and 5.
	CycleFirst Cycle = 1
	// CycleSecond covers months 10 and 11.
	CycleSecond Cycle = 2
)

// IsValid reports whether c is a storable cycle (1 or 2).
func (c Cycle) IsValid() bool {
	return c == CycleFirst || c == CycleSecond
}

// String returns the numeric form.
func (c Cycle) String() string {
	return strconv.Itoa(int(c))
}

// ParseCycle parses "1" or "2".
func ParseCycle(s string) (Cycle, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return CycleNone, fmt.Errorf("invalid cycle %q: %w", s, err)
	}
	c := Cycle(n)
	if !c.IsValid() {
		return CycleNone, fmt.Errorf("invalid cycle %d: must be 1 or 2", n)
	}
	return c, nil
}

// CycleFor maps an elapsed month to its cycle, returning CycleNone for
// non-milestone months.
func CycleFor(monthsElapsed int) Cycle {
	switch monthsElapsed {
	case HearingFirst, ExaminationFirst:
		return CycleFirst
	case HearingSecond, ExaminationSecond:
		return CycleSecond
	default:
		return CycleNone
	}
}

// DetermineCycle maps an elapsed month to its cycle. Non-milestone months
// fall back to CycleFirst, which is where single-cycle historical decisions live.
// Use CycleFor when "not a milestone" must be distinguishable.
func DetermineCycle(monthsElapsed int) Cycle {
	if c := CycleFor(monthsElapsed); c != CycleNone {
		return c
	}
	return CycleFirst
}

// IsHearingMonth reports whether m is month 4 or 10.
func IsHearingMonth(m int) bool {
	return m == HearingFirst || m == HearingSecond
}

// IsExaminationMonth reports whether m is month 5 or 11.
func IsExaminationMonth(m int) bool {
	return m == ExaminationFirst || m == ExaminationSecond
}
