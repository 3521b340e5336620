package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"famschedule/internal/model"
)

const productID = "-//famschedule//calendar export//EN"

// Export renders events (typically already expanded instances) as a
// VCALENDAR document. stamp is written as every event's DTSTAMP.
func Export(name string, events []model.Event, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp)
		if ev.AllDay {
			ve.SetAllDayStartAt(ev.Start)
			ve.SetAllDayEndAt(ev.End)
		} else {
			ve.SetStartAt(ev.Start)
			ve.SetEndAt(ev.End)
		}
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.Color != "" {
			ve.SetProperty(ical.ComponentProperty("COLOR"), ev.Color)
		}
		if ev.Recurrence == model.RecurrenceCustom && ev.RecurrenceCustom != "" {
			ve.SetProperty(ical.ComponentPropertyComment, "Repeats: "+ev.RecurrenceCustom)
		}
	}

	return cal.Serialize()
}
