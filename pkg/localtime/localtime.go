// Package localtime is the single place where wall-clock times are turned
// into absolute instants. Slot times are defined in the slot's own timezone,
// never the server's, so all conversions must go through here.
package localtime

import (
	"fmt"
	"time"
)

// ParseClock validates an "HH:MM" wall-clock string and returns its parts.
func ParseClock(clock string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q: %w", clock, err)
	}
	return t.Hour(), t.Minute(), nil
}

// LoadLocation resolves an IANA timezone name.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("timezone is required")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// At returns the absolute instant of the wall-clock time on the given
// calendar date in the given location.
func At(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

// NextWeekday returns the first date on or after from (interpreted in loc)
// that falls on the requested weekday, at the given wall-clock time.
func NextWeekday(from time.Time, weekday time.Weekday, hour, minute int, loc *time.Location) time.Time {
	local := from.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	delta := (int(weekday) - int(candidate.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, delta)
	if candidate.Before(from) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// CalendarDate renders the local calendar date of an instant, used as the
// idempotency key for generated instances.
func CalendarDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// MonthBounds returns the [start, end) instants of the calendar month
// containing t in the given location.
func MonthBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}
