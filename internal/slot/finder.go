package slot

import (
	"fmt"
	"strings"
	"time"

	"famschedule/internal/model"
)

const (
	// Length of every suggested slot.
	Length = time.Hour

	groupDays     = 7
	personalDays  = 3
	personalLimit = 3

	fallbackHour   = 14
	fallbackReason = "Best available slot"
)

var (
	groupHours    = []int{14, 15, 16}
	personalHours = []int{9, 10, 11, 14, 15, 16, 17}
)

// Finder searches a small fixed set of afternoon (group) or daytime
// (personal) one-hour windows for the least conflicted ones.
type Finder struct {
	busy BusyProvider
}

// NewFinder returns a Finder that looks up participant schedules through
// busy. A nil provider treats every participant as free.
func NewFinder(busy BusyProvider) *Finder {
	return &Finder{busy: busy}
}

type candidate struct {
	start time.Time
	end   time.Time
	hour  int
}

// candidates lists the windows on days 1..days after now, chronologically.
func candidates(now time.Time, days int, hours []int) []candidate {
	y, m, d := now.Date()
	loc := now.Location()

	out := make([]candidate, 0, days*len(hours))
	for off := 1; off <= days; off++ {
		for _, h := range hours {
			start := time.Date(y, m, d+off, h, 0, 0, 0, loc)
			out = append(out, candidate{start: start, end: start.Add(Length), hour: h})
		}
	}
	return out
}

// searchWindow spans whole days 1..days after now.
func searchWindow(now time.Time, days int) (time.Time, time.Time) {
	y, m, d := now.Date()
	from := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return from, from.AddDate(0, 0, days)
}

// scan folds step over cs until it reports done.
func scan[A any](cs []candidate, acc A, step func(A, candidate) (A, bool)) A {
	for _, c := range cs {
		var done bool
		if acc, done = step(acc, c); done {
			break
		}
	}
	return acc
}

func (f *Finder) busyEvents(p model.Participant, from, to time.Time) []model.Event {
	if f == nil || f.busy == nil {
		return nil
	}
	return f.busy.BusyEvents(p, from, to)
}

type member struct {
	model.Participant
	events []model.Event
}

func (f *Finder) loadMembers(ps []model.Participant, from, to time.Time) []member {
	out := make([]member, 0, len(ps))
	for _, p := range ps {
		out = append(out, member{Participant: p, events: f.busyEvents(p, from, to)})
	}
	return out
}

type groupBest struct {
	slot  model.Slot
	found bool
}

// BestGroupSlot picks the one-hour slot at 14:00, 15:00 or 16:00 within the
// next seven days that the fewest of the owner and members are busy for.
//
// Candidates are scanned chronologically and a candidate only replaces the
// current best on a strictly lower conflict count, so ties go to the
// earliest slot. If exclude is non-nil, the candidate on the same date and
// hour as exclude.Start is skipped.
func (f *Finder) BestGroupSlot(now time.Time, members []model.Participant, ownerEvents []model.Event, exclude *model.Slot) model.Slot {
	from, to := searchWindow(now, groupDays)
	return pickGroup(now, candidates(now, groupDays, groupHours), f.loadMembers(members, from, to), ownerEvents, exclude)
}

func pickGroup(now time.Time, cs []candidate, members []member, ownerEvents []model.Event, exclude *model.Slot) model.Slot {
	best := scan(cs, groupBest{}, func(acc groupBest, c candidate) (groupBest, bool) {
		if exclude != nil && sameHour(c.start, exclude.Start) {
			return acc, false
		}

		conflicts := 0
		if HasConflict(ownerEvents, c.start, c.end) {
			conflicts++
		}
		var busy []string
		for _, m := range members {
			if HasConflict(m.events, c.start, c.end) {
				conflicts++
				busy = append(busy, m.Name)
			}
		}

		if acc.found && conflicts >= acc.slot.Conflicts {
			return acc, false
		}
		return groupBest{
			slot: model.Slot{
				Start:     c.start,
				End:       c.end,
				Reason:    groupReason(c, conflicts, busy),
				Conflicts: conflicts,
			},
			found: true,
		}, false
	})

	if best.found {
		return best.slot
	}

	y, m, d := now.Date()
	start := time.Date(y, m, d+1, fallbackHour, 0, 0, 0, now.Location())
	return model.Slot{Start: start, End: start.Add(Length), Reason: fallbackReason}
}

func groupReason(c candidate, conflicts int, busy []string) string {
	if conflicts == 0 {
		return fmt.Sprintf("%s at %d:00 — all members are free", c.start.Weekday(), c.hour)
	}
	return fmt.Sprintf("%s at %d:00 — fewest conflicts (%s busy)", c.start.Weekday(), c.hour, strings.Join(busy, ", "))
}

// sameHour compares calendar date and hour in a's location.
func sameHour(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd && a.Hour() == b.Hour()
}

// BestPersonalSlots returns up to three one-hour slots over the next three
// days where the owner has nothing scheduled. participantsByPriority must be
// sorted most-important first; only its first entry is consulted, to note
// whether they are free too. Fewer than three (or no) slots may be returned.
func (f *Finder) BestPersonalSlots(now time.Time, ownerEvents []model.Event, participantsByPriority []model.Participant) []model.Slot {
	var top *member
	if len(participantsByPriority) > 0 {
		from, to := searchWindow(now, personalDays)
		m := f.loadMembers(participantsByPriority[:1], from, to)[0]
		top = &m
	}

	return scan(candidates(now, personalDays, personalHours), make([]model.Slot, 0, personalLimit),
		func(acc []model.Slot, c candidate) ([]model.Slot, bool) {
			if HasConflict(ownerEvents, c.start, c.end) {
				return acc, false
			}
			s := model.Slot{Start: c.start, End: c.end}
			switch {
			case top == nil:
				s.Reason = fmt.Sprintf("%s at %d:00 — you're free", c.start.Weekday(), c.hour)
			case HasConflict(top.events, c.start, c.end):
				s.Conflicts = 1
				s.Reason = fmt.Sprintf("%s at %d:00 — you're free (%s is busy)", c.start.Weekday(), c.hour, top.Name)
			default:
				s.Reason = fmt.Sprintf("%s at %d:00 — you're free and %s (priority %d) is also available",
					c.start.Weekday(), c.hour, top.Name, top.Priority)
			}
			acc = append(acc, s)
			return acc, len(acc) >= personalLimit
		})
}

// BusyParticipants returns the participants with at least one event
// overlapping [start, end).
func (f *Finder) BusyParticipants(ps []model.Participant, start, end time.Time) []model.Participant {
	var out []model.Participant
	for _, m := range f.loadMembers(ps, start, end) {
		if HasConflict(m.events, start, end) {
			out = append(out, m.Participant)
		}
	}
	return out
}
