// Package catalog owns the fixed option catalog and its daily ordering.
package catalog

import (
	"fmt"
	"time"
	_ "time/tzdata" // reference timezone must resolve on hosts without zoneinfo
)

// DefaultTimezone is the reference timezone for the daily boundary.
const DefaultTimezone = "America/New_York"

// LoadLocation resolves name, falling back to DefaultTimezone when empty.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidTimezone, name, err)
	}
	return loc, nil
}

// StartOfDay returns local midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Seed converts a day boundary into the shuffle seed shared by every participant.
func Seed(startOfDay time.Time) int64 {
	return startOfDay.UnixMilli()
}
