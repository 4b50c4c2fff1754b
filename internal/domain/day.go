package domain

import (
	"fmt"
	"time"
)

// dayLayout is the canonical encoding of a UTC calendar day.
const dayLayout = "2006-01-02"

// Day is a UTC calendar date. Volume is always attributed to the UTC day
// of the fill's execution time, never to a local date.
type Day string

// DayOf returns the UTC calendar day containing t.
func DayOf(t time.Time) Day {
	return Day(t.UTC().Format(dayLayout))
}

// ParseDay parses a "YYYY-MM-DD" string into a Day.
func ParseDay(s string) (Day, error) {
	if _, err := time.Parse(dayLayout, s); err != nil {
		return "", fmt.Errorf("parse day %q: %w", s, err)
	}
	return Day(s), nil
}

// Time returns midnight UTC of the day.
func (d Day) Time() time.Time {
	t, err := time.Parse(dayLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Next returns the following calendar day.
func (d Day) Next() Day {
	return DayOf(d.Time().AddDate(0, 0, 1))
}

// Before reports whether d is strictly earlier than other.
func (d Day) Before(other Day) bool {
	return string(d) < string(other)
}

// After reports whether d is strictly later than other.
func (d Day) After(other Day) bool {
	return string(d) > string(other)
}

func (d Day) String() string {
	return string(d)
}

// DaysBetween returns every day from start to end inclusive, in order.
// Returns nil if end is before start.
func DaysBetween(start, end Day) []Day {
	if end.Before(start) {
		return nil
	}
	var days []Day
	for d := start; !d.After(end); d = d.Next() {
		days = append(days, d)
	}
	return days
}

// Granularity selects the bucket size of a historical volume series.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// ParseGranularity validates a granularity string. An empty string
// defaults to daily buckets.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case "", GranularityDay:
		return GranularityDay, nil
	case GranularityWeek:
		return GranularityWeek, nil
	case GranularityMonth:
		return GranularityMonth, nil
	default:
		return "", fmt.Errorf("unknown granularity %q", s)
	}
}

// BucketOf returns the bucket a day belongs to at this granularity:
// the day itself, the ISO week's Monday, or the first of the month.
func (g Granularity) BucketOf(d Day) Day {
	t := d.Time()
	switch g {
	case GranularityWeek:
		offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
		return DayOf(t.AddDate(0, 0, -offset))
	case GranularityMonth:
		return DayOf(time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC))
	default:
		return d
	}
}
