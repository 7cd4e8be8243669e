package cron

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldSpec describes the bounds of one cron field.
type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Parse parses a 5-field cron expression. It returns an error when the
// expression is malformed, a field is out of bounds, or the day/month
// combination can never occur (e.g. "0 0 31 2 *").
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	schedule := &Schedule{expr: expr}
	targets := [5]*fieldSet{
		&schedule.minutes,
		&schedule.hours,
		&schedule.daysOfMonth,
		&schedule.months,
		&schedule.daysOfWeek,
	}

	for i, field := range fields {
		spec := fieldSpecs[i]
		targets[i].size = spec.max - spec.min + 1
		if err := parseField(targets[i], field, spec); err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", spec.name, err)
		}
	}

	if err := validateDays(schedule); err != nil {
		return nil, err
	}

	return schedule, nil
}

// MustParse parses expr and panics on error. For tests and literals only.
func MustParse(expr string) *Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// parseField expands one field into its value set. A field is a
// comma-separated list of terms; each term is a value, a range, or a
// stepped wildcard/range.
func parseField(set *fieldSet, field string, spec fieldSpec) error {
	if field == "" {
		return fmt.Errorf("empty field")
	}

	for _, term := range strings.Split(field, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			return fmt.Errorf("empty value in list")
		}
		if err := parseTerm(set, term, spec); err != nil {
			return err
		}
	}

	return nil
}

func parseTerm(set *fieldSet, term string, spec fieldSpec) error {
	step := 1
	if base, stepStr, found := strings.Cut(term, "/"); found {
		parsed, err := strconv.Atoi(stepStr)
		if err != nil {
			return fmt.Errorf("invalid step value %q: %w", stepStr, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("step must be greater than 0, got %d", parsed)
		}
		step = parsed
		term = base
	}

	lo, hi := spec.min, spec.max
	switch {
	case term == "*":
		// Full range.
	case strings.Contains(term, "-"):
		var err error
		lo, hi, err = parseRange(term, spec)
		if err != nil {
			return err
		}
	default:
		val, err := parseValue(term, spec)
		if err != nil {
			return err
		}
		if step != 1 {
			// "5/2" is not standard cron; steps need a range or wildcard.
			return fmt.Errorf("step requires a range or wildcard, got %q", term)
		}
		lo, hi = val, val
	}

	for v := lo; v <= hi; v += step {
		set.add(v)
	}
	return nil
}

func parseRange(term string, spec fieldSpec) (int, int, error) {
	startStr, endStr, found := strings.Cut(term, "-")
	if !found || strings.Contains(endStr, "-") {
		return 0, 0, fmt.Errorf("invalid range syntax %q", term)
	}

	start, err := parseValue(startStr, spec)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start: %w", err)
	}
	end, err := parseValue(endStr, spec)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end: %w", err)
	}
	if start > end {
		return 0, 0, fmt.Errorf("invalid range: start %d > end %d", start, end)
	}

	return start, end, nil
}

func parseValue(s string, spec fieldSpec) (int, error) {
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	if val < spec.min || val > spec.max {
		return 0, fmt.Errorf("value %d out of bounds [%d, %d]", val, spec.min, spec.max)
	}
	return val, nil
}

// validateDays rejects schedules that can never fire because every selected
// day-of-month exceeds the length of every selected month.
func validateDays(s *Schedule) error {
	// When day-of-week is restricted, the OR semantics give the schedule a
	// path to fire regardless of the day-of-month selection.
	if s.daysOfWeek.restricted() {
		return nil
	}

	for month := 1; month <= 12; month++ {
		if !s.months.has(month) {
			continue
		}
		for day := 1; day <= daysInMonth(month); day++ {
			if s.daysOfMonth.has(day) {
				return nil
			}
		}
	}

	return fmt.Errorf("impossible schedule %q: selected days never occur in selected months", s.expr)
}

// daysInMonth returns the maximum length of a month; February counts its
// leap-year length.
func daysInMonth(month int) int {
	switch month {
	case 2:
		return 29
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}
