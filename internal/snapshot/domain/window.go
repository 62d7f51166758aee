package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Window is a half-open [Start, End) time interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window. Start is inclusive,
// End is exclusive.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// DayWindow resolves a calendar date to the full-day window in loc. Any date
// resolves arithmetically; there is no error path.
func DayWindow(date time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	year, month, day := date.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// Yesterday returns the calendar date preceding now in loc.
func Yesterday(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	year, month, day := now.In(loc).AddDate(0, 0, -1).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// CaptureDate normalizes a target date to the UTC calendar date persisted in
// captured_on, independent of the window's time zone.
func CaptureDate(date time.Time) datatypes.Date {
	year, month, day := date.Date()
	return datatypes.Date(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}
