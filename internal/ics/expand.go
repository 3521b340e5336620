package ics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "famschedule/internal/log"
	"famschedule/internal/model"
	"famschedule/internal/recurrence"
)

// classify maps an RRULE onto a recurrence kind. Rules with an interval,
// a count, an end date or any BY* part are custom. Monthly rules starting
// after the 28th and yearly rules on Feb 29 are custom too: RFC 5545 skips
// the months lacking that day, while read-time expansion clamps to the
// month's last day.
func classify(rule string, start time.Time) (model.Recurrence, error) {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return model.RecurrenceCustom, err
	}

	if opt.Interval > 1 || opt.Count > 0 || !opt.Until.IsZero() {
		return model.RecurrenceCustom, nil
	}
	parts := len(opt.Bysetpos) + len(opt.Bymonth) + len(opt.Bymonthday) + len(opt.Byyearday) +
		len(opt.Byweekno) + len(opt.Byweekday) + len(opt.Byhour) + len(opt.Byminute) +
		len(opt.Bysecond) + len(opt.Byeaster)
	if parts > 0 {
		return model.RecurrenceCustom, nil
	}

	switch opt.Freq {
	case rrule.DAILY:
		return model.RecurrenceDaily, nil
	case rrule.WEEKLY:
		return model.RecurrenceWeekly, nil
	case rrule.MONTHLY:
		if start.Day() > 28 {
			return model.RecurrenceCustom, nil
		}
		return model.RecurrenceMonthly, nil
	case rrule.YEARLY:
		if start.Month() == time.February && start.Day() == 29 {
			return model.RecurrenceCustom, nil
		}
		return model.RecurrenceYearly, nil
	default:
		return model.RecurrenceCustom, nil
	}
}

// occurrence is one materialized instance. key is the original start the
// instance is addressed by, even when an override moved it.
type occurrence struct {
	src        vevent
	key        time.Time
	start, end time.Time
}

// materialize expands base's rule over [opts.From, opts.To), dropping
// EXDATEs and substituting overridden instances. At most
// recurrence.MaxOccurrences instances are produced.
func materialize(base vevent, overrides []vevent, opts Options) ([]occurrence, error) {
	if opts.To.IsZero() || !opts.To.After(opts.From) {
		return nil, errors.New("materialization window is empty")
	}

	ropt, err := rrule.StrToROption(base.rule)
	if err != nil {
		return nil, fmt.Errorf("parsing RRULE: %w", err)
	}
	ropt.Dtstart = base.start
	r, err := rrule.NewRRule(*ropt)
	if err != nil {
		return nil, fmt.Errorf("building RRULE: %w", err)
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range base.exdates {
		set.ExDate(ex.In(base.start.Location()))
	}

	dur := base.end.Sub(base.start)
	from := opts.From.Add(-dur)
	starts := set.Between(from.In(base.start.Location()), opts.To.In(base.start.Location()), true)
	if len(starts) > recurrence.MaxOccurrences {
		appLog.Debug("feed rule truncated", "uid", base.uid, "cap", recurrence.MaxOccurrences)
		starts = starts[:recurrence.MaxOccurrences]
	}

	out := make([]occurrence, 0, len(starts))
	for _, s := range starts {
		occ := occurrence{src: base, key: s, start: s, end: s.Add(dur)}
		if base.allDay {
			occ.end = s.AddDate(0, 0, int(dur.Hours()/24+0.5))
		}
		for _, ov := range overrides {
			if ov.recurrenceID.Equal(s) {
				occ.src, occ.start, occ.end = ov, ov.start, ov.end
				break
			}
		}
		if !occ.end.After(opts.From) || !occ.start.Before(opts.To) {
			continue
		}
		out = append(out, occ)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out, nil
}
