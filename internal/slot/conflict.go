package slot

import (
	"time"

	"famschedule/internal/model"
)

// HasConflict reports whether any event overlaps [start, end). Events that
// merely touch the window at a boundary do not conflict.
func HasConflict(events []model.Event, start, end time.Time) bool {
	for _, ev := range events {
		if ev.Start.Before(end) && ev.End.After(start) {
			return true
		}
	}
	return false
}

// Conflicting returns the events that overlap [start, end), in input order.
func Conflicting(events []model.Event, start, end time.Time) []model.Event {
	var out []model.Event
	for _, ev := range events {
		if ev.Start.Before(end) && ev.End.After(start) {
			out = append(out, ev)
		}
	}
	return out
}
