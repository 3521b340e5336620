package recurrence

import (
	"strconv"
	"strings"
	"time"

	appLog "famschedule/internal/log"
	"famschedule/internal/model"
)

// MaxOccurrences bounds how many occurrences are generated per definition
// in one Expand call. Hitting it truncates silently.
const MaxOccurrences = 1000

// instanceSuffix separates a definition ID from the occurrence index.
const instanceSuffix = "__r"

// Expand materializes the events visible in [rangeStart, rangeEnd).
//
// Definitions with a daily, weekly, monthly or yearly rule are expanded into
// instances that overlap the range. Everything else (none, custom, unknown
// rules) passes through unchanged and unfiltered; range filtering of those is
// left to the caller.
func Expand(events []model.Event, rangeStart, rangeEnd time.Time) []model.Event {
	out := make([]model.Event, 0, len(events))

	for _, ev := range events {
		if !ev.Recurrence.Repeats() {
			out = append(out, ev)
			continue
		}
		out = appendOccurrences(out, ev, rangeStart, rangeEnd)
	}

	return out
}

func appendOccurrences(out []model.Event, ev model.Event, rangeStart, rangeEnd time.Time) []model.Event {
	dur := ev.Duration()

	for i := 0; i < MaxOccurrences; i++ {
		start := occurrenceStart(ev.Start, ev.Recurrence, i)

		// Occurrences are chronological, nothing later can be visible.
		if !start.Before(rangeEnd) {
			return out
		}

		end := start.Add(dur)
		if !end.After(rangeStart) {
			continue
		}

		inst := ev
		inst.ID = InstanceID(ev.ID, i)
		inst.Start = start
		inst.End = end
		out = append(out, inst)
	}

	appLog.Debug("expand: occurrence cap reached", "id", ev.ID, "recurrence", string(ev.Recurrence), "cap", MaxOccurrences)
	return out
}

// occurrenceStart returns the start of occurrence i using calendar
// arithmetic in the definition's own location, so wall-clock time is kept
// across DST changes. Monthly and yearly rules clamp the day of month to the
// length of the target month (Jan 31 -> Feb 28/29, Feb 29 -> Feb 28).
func occurrenceStart(origin time.Time, r model.Recurrence, i int) time.Time {
	y, m, d := origin.Date()
	hh, mm, ss := origin.Clock()
	ns := origin.Nanosecond()
	loc := origin.Location()

	switch r {
	case model.RecurrenceDaily:
		return time.Date(y, m, d+i, hh, mm, ss, ns, loc)
	case model.RecurrenceWeekly:
		return time.Date(y, m, d+7*i, hh, mm, ss, ns, loc)
	case model.RecurrenceMonthly:
		// Anchor on day 1 so the month itself never overflows.
		first := time.Date(y, m+time.Month(i), 1, 0, 0, 0, 0, loc)
		ty, tm, _ := first.Date()
		return time.Date(ty, tm, min(d, daysIn(ty, tm)), hh, mm, ss, ns, loc)
	case model.RecurrenceYearly:
		return time.Date(y+i, m, min(d, daysIn(y+i, m)), hh, mm, ss, ns, loc)
	default:
		return origin
	}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// InstanceID derives the identifier of occurrence i of definition id. The
// zeroth occurrence keeps the definition's identifier.
func InstanceID(id string, i int) string {
	if i == 0 {
		return id
	}
	return id + instanceSuffix + strconv.Itoa(i)
}

// DefinitionID reverses InstanceID. IDs without a well-formed suffix are
// returned as-is.
func DefinitionID(id string) string {
	base, _ := split(id)
	return base
}

// OccurrenceIndex reports which occurrence an instance ID refers to; 0 for a
// definition ID.
func OccurrenceIndex(id string) int {
	_, i := split(id)
	return i
}

func split(id string) (string, int) {
	idx := strings.LastIndex(id, instanceSuffix)
	if idx <= 0 {
		return id, 0
	}
	n, err := strconv.Atoi(id[idx+len(instanceSuffix):])
	if err != nil || n <= 0 {
		return id, 0
	}
	// Reject forms like "x__r+1" or "x__r01" that InstanceID never produces.
	if id[idx+len(instanceSuffix):] != strconv.Itoa(n) {
		return id, 0
	}
	return id[:idx], n
}
