// Package cron implements the 5-field cron syntax used by sync schedules:
// minute, hour, day-of-month, month, day-of-week.
package cron

import (
	"fmt"
	"time"
)

// searchHorizon bounds how far Next scans for an occurrence. A valid schedule
// always fires within this window; hitting the bound means the expression is
// unreachable and the schedule should be disabled rather than retried.
const searchHorizon = 5 * 366 * 24 * time.Hour

// Schedule is a parsed cron expression. Each field set holds the values the
// field accepts, indexed by value for O(1) matching.
type Schedule struct {
	minutes     fieldSet // 0-59
	hours       fieldSet // 0-23
	daysOfMonth fieldSet // 1-31
	months      fieldSet // 1-12
	daysOfWeek  fieldSet // 0-6, 0=Sunday

	expr string
}

// fieldSet is a membership set over a small integer range.
type fieldSet struct {
	member [60]bool
	count  int
	size   int
}

func (f *fieldSet) add(v int) {
	if !f.member[v] {
		f.member[v] = true
		f.count++
	}
}

func (f *fieldSet) has(v int) bool {
	return v >= 0 && v < len(f.member) && f.member[v]
}

// restricted reports whether the field excludes any value in its range.
// Cron's day handling depends on this: restricted day-of-month and
// day-of-week combine with OR, unrestricted fields match everything.
func (f *fieldSet) restricted() bool {
	return f.count < f.size
}

// String returns the original expression.
func (s *Schedule) String() string {
	return s.expr
}

// Next returns the first occurrence strictly after the given time. It returns
// an error when no occurrence exists within the search horizon, which callers
// treat as a scheduling error (disable the schedule, do not crash the loop).
func (s *Schedule) Next(after time.Time) (time.Time, error) {
	current := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(searchHorizon)

	for current.Before(limit) {
		// Skip whole months that can never match.
		if !s.months.has(int(current.Month())) {
			current = time.Date(current.Year(), current.Month(), 1, 0, 0, 0, 0, current.Location()).
				AddDate(0, 1, 0)
			continue
		}
		if s.matches(current) {
			return current, nil
		}
		current = current.Add(time.Minute)
	}

	return time.Time{}, fmt.Errorf("no occurrence of %q within %v after %v", s.expr, searchHorizon, after)
}

// Between returns all occurrences within [start, end), in chronological order.
func (s *Schedule) Between(start, end time.Time) []time.Time {
	var results []time.Time

	current := start.Truncate(time.Minute)
	for current.Before(end) {
		if s.matches(current) {
			results = append(results, current)
		}
		current = current.Add(time.Minute)
	}

	return results
}

// matches reports whether t satisfies every field of the schedule.
func (s *Schedule) matches(t time.Time) bool {
	return s.minutes.has(t.Minute()) &&
		s.hours.has(t.Hour()) &&
		s.months.has(int(t.Month())) &&
		s.matchesDay(t)
}

// matchesDay implements standard cron day semantics: when both day-of-month
// and day-of-week are restricted they combine with OR, otherwise the
// restricted field (if any) decides alone.
func (s *Schedule) matchesDay(t time.Time) bool {
	domRestricted := s.daysOfMonth.restricted()
	dowRestricted := s.daysOfWeek.restricted()

	domMatch := s.daysOfMonth.has(t.Day())
	dowMatch := s.daysOfWeek.has(int(t.Weekday()))

	switch {
	case domRestricted && dowRestricted:
		return domMatch || dowMatch
	case domRestricted:
		return domMatch
	case dowRestricted:
		return dowMatch
	}
	return true
}
