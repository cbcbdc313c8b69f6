package models

import (
	"fmt"
	"regexp"
	"strconv"
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// ParseClock parses a zero-padded 24h "HH:MM" value into minutes after midnight.
func ParseClock(value string) (int, error) {
	m := clockPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM (24h)", value)
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	return hours*60 + minutes, nil
}

// TimeRange is a half-open same-day interval [Start, End) in minutes after midnight.
type TimeRange struct {
	Start int
	End   int
}

// NewTimeRange parses start and end and requires start < end.
func NewTimeRange(start, end string) (TimeRange, error) {
	s, err := ParseClock(start)
	if err != nil {
		return TimeRange{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return TimeRange{}, err
	}
	if s >= e {
		return TimeRange{}, fmt.Errorf("start time %s must be before end time %s", start, end)
	}
	return TimeRange{Start: s, End: e}, nil
}

// Overlaps reports whether two half-open intervals intersect: s1 < e2 AND s2 < e1.
// Ranges that only touch at a boundary do not overlap.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start < other.End && other.Start < r.End
}
