package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"famschedule/internal/config"
	appLog "famschedule/internal/log"
	"famschedule/internal/model"
)

// Options controls how a feed is turned into stored events.
type Options struct {
	// From and To bound the materialization of recurring events whose rule
	// has no simple recurrence kind. Non-recurring events ending before From
	// are dropped. A zero From keeps everything.
	From, To time.Time

	// Location interprets all-day dates. Nil means time.Local.
	Location *time.Location
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

// vevent is one VEVENT as read from the feed, before mapping.
type vevent struct {
	uid         string
	summary     string
	description string
	location    string

	start  time.Time
	end    time.Time
	allDay bool

	rule         string
	exdates      []time.Time
	recurrenceID *time.Time
}

// Parse converts an ICS payload into events tagged with feed's ID, owner
// and color. Event IDs are "<feed id>/<uid>", with an "@<utc start>" suffix
// for occurrences materialized from a rule.
//
// A VEVENT whose RRULE is a plain daily/weekly/monthly/yearly rule becomes
// one event with the matching Recurrence and is expanded at read time like
// any local event. Every other rule, and any rule carrying EXDATEs or
// overridden instances, is expanded here between opts.From and opts.To.
func Parse(feed config.FeedConfig, body []byte, opts Options) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", feed.ID, err)
	}

	var bases []vevent
	overrides := make(map[string][]vevent)
	for _, comp := range cal.Events() {
		ve, err := readVEvent(comp, opts.location())
		if err != nil {
			appLog.Warn("skipping vevent", "feed", feed.ID, "err", err)
			continue
		}
		if ve.recurrenceID != nil {
			overrides[ve.uid] = append(overrides[ve.uid], ve)
			continue
		}
		bases = append(bases, ve)
	}

	out := make([]model.Event, 0, len(bases))
	seen := make(map[string]bool)
	add := func(ev model.Event) {
		if seen[ev.ID] {
			return
		}
		seen[ev.ID] = true
		out = append(out, ev)
	}

	baseUIDs := make(map[string]bool, len(bases))
	for _, ve := range bases {
		baseUIDs[ve.uid] = true
		id := feed.ID + "/" + ve.uid

		if ve.rule == "" {
			if !opts.From.IsZero() && !ve.end.After(opts.From) {
				continue
			}
			add(ve.event(feed, id, ve.start, ve.end))
			continue
		}

		kind, err := classify(ve.rule, ve.start)
		if err != nil {
			appLog.Warn("unreadable RRULE, keeping first occurrence", "feed", feed.ID, "uid", ve.uid, "rrule", ve.rule, "err", err)
			ev := ve.event(feed, id, ve.start, ve.end)
			ev.Recurrence = model.RecurrenceCustom
			ev.RecurrenceCustom = ve.rule
			add(ev)
			continue
		}
		if kind != model.RecurrenceCustom && len(ve.exdates) == 0 && len(overrides[ve.uid]) == 0 {
			ev := ve.event(feed, id, ve.start, ve.end)
			ev.Recurrence = kind
			add(ev)
			continue
		}

		occs, err := materialize(ve, overrides[ve.uid], opts)
		if err != nil {
			appLog.Warn("expanding RRULE failed", "feed", feed.ID, "uid", ve.uid, "rrule", ve.rule, "err", err)
			continue
		}
		for _, o := range occs {
			add(o.src.event(feed, id+"@"+o.key.UTC().Format("20060102T150405Z"), o.start, o.end))
		}
	}

	// Overrides whose series is not in the feed still occupy time.
	for uid, ovs := range overrides {
		if baseUIDs[uid] {
			continue
		}
		for _, ov := range ovs {
			add(ov.event(feed, feed.ID+"/"+uid+"@"+ov.recurrenceID.UTC().Format("20060102T150405Z"), ov.start, ov.end))
		}
	}

	appLog.Debug("feed parsed", "feed", feed.ID, "events", len(out))
	return out, nil
}

func (v vevent) event(feed config.FeedConfig, id string, start, end time.Time) model.Event {
	return model.Event{
		ID:          id,
		Title:       v.summary,
		Description: v.description,
		Location:    v.location,
		Color:       feed.Color,
		Start:       start,
		End:         end,
		AllDay:      v.allDay,
		Recurrence:  model.RecurrenceNone,
		Source:      feed.ID,
		OwnerID:     feed.Owner,
		ExternalID:  v.uid,
	}
}

func readVEvent(ve *ical.VEvent, loc *time.Location) (vevent, error) {
	var out vevent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.uid = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("%s: missing DTSTART", out.uid)
	}
	out.allDay = isDateValue(dtStart)

	if out.allDay {
		start, err := parseICSTime(dtStart.Value, dtStart.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("%s: DTSTART: %w", out.uid, err)
		}
		out.start = start
		out.end = start.AddDate(0, 0, 1)
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if end, err := parseICSTime(dtEnd.Value, dtEnd.ICalParameters, loc); err == nil && end.After(start) {
				out.end = end
			}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, fmt.Errorf("%s: DTSTART: %w", out.uid, err)
		}
		out.start = start
		out.end = start
		if end, err := ve.GetEndAt(); err == nil && end.After(start) {
			out.end = end
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.rule = strings.TrimPrefix(p.Value, "RRULE:")
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, p.ICalParameters, loc); err == nil {
				out.exdates = append(out.exdates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value, p.ICalParameters, loc); err == nil {
			out.recurrenceID = &t
		}
	}

	return out, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSTime parses DATE and DATE-TIME values, honouring a TZID parameter.
// Floating values are read in loc.
func parseICSTime(v string, params map[string][]string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
		if l, err := time.LoadLocation(tzs[0]); err == nil {
			loc = l
		}
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
