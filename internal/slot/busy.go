package slot

import (
	"strconv"
	"time"
	"unicode/utf16"

	"famschedule/internal/model"
)

// BusyProvider yields the events occupying a participant's time within
// [from, to). Implementations may return events outside the window; the
// finder only uses them for overlap checks.
type BusyProvider interface {
	BusyEvents(p model.Participant, from, to time.Time) []model.Event
}

// BusyFunc adapts a plain function to BusyProvider.
type BusyFunc func(p model.Participant, from, to time.Time) []model.Event

func (f BusyFunc) BusyEvents(p model.Participant, from, to time.Time) []model.Event {
	return f(p, from, to)
}

// FallbackBusy asks Primary first and only consults Fallback when Primary
// reports nothing for the participant.
type FallbackBusy struct {
	Primary  BusyProvider
	Fallback BusyProvider
}

func (f FallbackBusy) BusyEvents(p model.Participant, from, to time.Time) []model.Event {
	if f.Primary != nil {
		if evs := f.Primary.BusyEvents(p, from, to); len(evs) > 0 {
			return evs
		}
	}
	if f.Fallback == nil {
		return nil
	}
	return f.Fallback.BusyEvents(p, from, to)
}

const placeholderColor = "#9333EA"

// HashBusy is a placeholder schedule for contacts without a connected
// calendar. Each participant gets two one-hour events derived from a hash of
// their name:
//
//   - "Meeting" 1-3 days from now, starting between 09:00 and 12:00
//   - "Lunch"   2-5 days from now, starting between 14:00 and 17:00
//
// Now supplies the reference instant; nil means time.Now.
type HashBusy struct {
	Now func() time.Time
}

func (hb HashBusy) BusyEvents(p model.Participant, _, _ time.Time) []model.Event {
	now := time.Now()
	if hb.Now != nil {
		now = hb.Now()
	}
	h := nameHash(p.Name)

	mk := func(n int, title string, dayOffset, hour int) model.Event {
		y, m, d := now.Date()
		start := time.Date(y, m, d+dayOffset, hour, 0, 0, 0, now.Location())
		return model.Event{
			ID:         "member-evt-" + p.ID + "-" + strconv.Itoa(n),
			Title:      title,
			Start:      start,
			End:        start.Add(time.Hour),
			Color:      placeholderColor,
			Source:     model.SourceLocal,
			OwnerID:    p.ID,
			Recurrence: model.RecurrenceNone,
		}
	}

	return []model.Event{
		mk(1, "Meeting", h%3+1, h%4+9),
		mk(2, "Lunch", (h+2)%4+2, (h+3)%4+14),
	}
}

// nameHash weights each UTF-16 code unit by its 1-based position.
func nameHash(name string) int {
	h := 0
	for i, u := range utf16.Encode([]rune(name)) {
		h += int(u) * (i + 1)
	}
	return h
}
