package scheduler

import (
	"fmt"
	"time"
)

// DailySchedule fires once a day at Hour:Minute in Location.
type DailySchedule struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// NewDailySchedule creates a DailySchedule. A nil location means UTC.
func NewDailySchedule(hour, minute int, loc *time.Location) (*DailySchedule, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("invalid hour %d: must be 0-23", hour)
	}
	if minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid minute %d: must be 0-59", minute)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DailySchedule{Hour: hour, Minute: minute, Location: loc}, nil
}

// Next returns the first fire instant strictly after t.
func (s *DailySchedule) Next(t time.Time) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}

	lt := t.In(loc)
	next := time.Date(lt.Year(), lt.Month(), lt.Day(), s.Hour, s.Minute, 0, 0, loc)
	if !next.After(lt) {
		next = time.Date(lt.Year(), lt.Month(), lt.Day()+1, s.Hour, s.Minute, 0, 0, loc)
	}
	return next
}

// String returns the string representation of the schedule.
func (s *DailySchedule) String() string {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("daily at %02d:%02d %s", s.Hour, s.Minute, loc.String())
}
