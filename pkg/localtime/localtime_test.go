package localtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	hour, minute, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9, hour)
	assert.Equal(t, 30, minute)

	for _, bad := range []string{"9:30:00", "24:00", "10.30", ""} {
		_, _, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("Africa/Cairo")
	require.NoError(t, err)
	assert.Equal(t, "Africa/Cairo", loc.String())

	_, err = LoadLocation("")
	assert.Error(t, err)
	_, err = LoadLocation("Mars/Olympus")
	assert.Error(t, err)
}

func TestNextWeekday(t *testing.T) {
	loc := time.UTC
	// 2026-03-01 is a Sunday.
	sunday := time.Date(2026, 3, 1, 0, 0, 0, 0, loc)

	monday := NextWeekday(sunday, time.Monday, 10, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, loc), monday)

	// Same weekday with the clock still ahead stays on that day.
	sameDay := NextWeekday(sunday, time.Sunday, 8, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, loc), sameDay)

	// Same weekday with the clock already past rolls a full week.
	late := time.Date(2026, 3, 1, 9, 0, 0, 0, loc)
	nextWeek := NextWeekday(late, time.Sunday, 8, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 8, 8, 0, 0, 0, loc), nextWeek)
}

func TestCalendarDateCrossesMidnight(t *testing.T) {
	cairo, err := LoadLocation("Africa/Cairo")
	require.NoError(t, err)

	// 23:30 UTC is already the next calendar day in Cairo (UTC+2).
	instant := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-02", CalendarDate(instant, cairo))
	assert.Equal(t, "2026-03-01", CalendarDate(instant, time.UTC))
}

func TestMonthBounds(t *testing.T) {
	loc := time.UTC
	start, end := MonthBounds(time.Date(2026, 3, 15, 12, 0, 0, 0, loc), loc)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, loc), end)

	// The local month decides the bounds, not the UTC month.
	cairo, err := LoadLocation("Africa/Cairo")
	require.NoError(t, err)
	start, _ = MonthBounds(time.Date(2026, 2, 28, 23, 30, 0, 0, time.UTC), cairo)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, cairo), start)
}
