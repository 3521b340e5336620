package recurrence

import (
	"strings"
	"time"
)

// View is the calendar granularity being displayed.
type View string

const (
	ViewDay   View = "day"
	ViewWeek  View = "week"
	ViewMonth View = "month"
)

// monthGridDays is the 6x7 cell count of a month grid.
const monthGridDays = 42

// ParseView maps a query value to a View, defaulting to ViewDay.
func ParseView(s string) View {
	switch v := View(strings.ToLower(strings.TrimSpace(s))); v {
	case ViewWeek, ViewMonth:
		return v
	default:
		return ViewDay
	}
}

// VisibleRange returns the [start, end) window rendered by view around
// anchor, in anchor's location.
//
//   - day:   local midnight to the next local midnight
//   - week:  the Sunday at or before anchor, spanning 7 days
//   - month: the Sunday at or before the 1st of anchor's month, spanning 42
//     days so the whole grid is covered
func VisibleRange(view View, anchor time.Time) (time.Time, time.Time) {
	y, m, d := anchor.Date()
	loc := anchor.Location()

	switch view {
	case ViewWeek:
		midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
		start := midnight.AddDate(0, 0, -int(midnight.Weekday()))
		return start, start.AddDate(0, 0, 7)
	case ViewMonth:
		first := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		start := first.AddDate(0, 0, -int(first.Weekday()))
		return start, start.AddDate(0, 0, monthGridDays)
	default:
		start := time.Date(y, m, d, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1)
	}
}
