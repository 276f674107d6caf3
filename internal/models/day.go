package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DayRef identifies one report day by year and day of the year.
type DayRef struct {
	Year int
	Day  int
}

func (d DayRef) String() string {
	return fmt.Sprintf("%d-%03d", d.Year, d.Day)
}

// Date returns the calendar date of the reference.
func (d DayRef) Date() time.Time {
	return DayToDate(d.Year, d.Day)
}

// DayToDate returns the date of the given day of the year.
func DayToDate(year, day int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day-1)
}

// DateToDay returns the year and the day of the year of a date.
func DateToDay(date time.Time) (int, int) {
	return date.Year(), date.YearDay()
}

// ParseDayRef accepts "2019-270" (year and day of year) or "2019-09-27".
func ParseDayRef(s string) (DayRef, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return DayRef{Year: t.Year(), Day: t.YearDay()}, nil
	}
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return DayRef{}, fmt.Errorf("invalid day %q, want YYYY-DDD or YYYY-MM-DD", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return DayRef{}, fmt.Errorf("invalid year in %q: %w", s, err)
	}
	day, err := strconv.Atoi(parts[1])
	if err != nil {
		return DayRef{}, fmt.Errorf("invalid day of year in %q: %w", s, err)
	}
	return DayRef{Year: year, Day: day}, nil
}

// ParseDayRefs parses a list of day references, expanding "A..B" ranges.
func ParseDayRefs(values []string) ([]DayRef, error) {
	var days []DayRef
	for _, v := range values {
		if from, to, ok := strings.Cut(v, ".."); ok {
			start, err := ParseDayRef(from)
			if err != nil {
				return nil, err
			}
			end, err := ParseDayRef(to)
			if err != nil {
				return nil, err
			}
			first, last := start.Date(), end.Date()
			if last.Before(first) {
				return nil, fmt.Errorf("invalid day range %q: end before start", v)
			}
			for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
				y, n := DateToDay(d)
				days = append(days, DayRef{Year: y, Day: n})
			}
			continue
		}
		d, err := ParseDayRef(v)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}
