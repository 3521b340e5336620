package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famschedule/internal/config"
	"famschedule/internal/model"
)

const feedBody = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:single-1
DTSTAMP:20240101T000000Z
DTSTART:20240102T150000Z
DTEND:20240102T160000Z
SUMMARY:Dentist
LOCATION:Main St
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20240101T000000Z
DTSTART:20240101T090000Z
DTEND:20240101T100000Z
RRULE:FREQ=WEEKLY
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:biweekly
DTSTAMP:20240101T000000Z
DTSTART:20240101T180000Z
DTEND:20240101T190000Z
RRULE:FREQ=WEEKLY;INTERVAL=2;COUNT=3
SUMMARY:Book club
END:VEVENT
BEGIN:VEVENT
UID:daily-ex
DTSTAMP:20240101T000000Z
DTSTART:20240101T070000Z
DTEND:20240101T073000Z
RRULE:FREQ=DAILY;COUNT=3
EXDATE:20240102T070000Z
SUMMARY:Run
END:VEVENT
BEGIN:VEVENT
UID:daily-ex
DTSTAMP:20240101T000000Z
RECURRENCE-ID:20240103T070000Z
DTSTART:20240103T080000Z
DTEND:20240103T083000Z
SUMMARY:Run (late)
END:VEVENT
BEGIN:VEVENT
UID:holiday
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240105
DTEND;VALUE=DATE:20240106
SUMMARY:Day off
END:VEVENT
BEGIN:VEVENT
UID:ancient
DTSTAMP:20240101T000000Z
DTSTART:20231201T100000Z
DTEND:20231201T110000Z
SUMMARY:Long gone
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20240101T000000Z
DTSTART:20240110T100000Z
DTEND:20240110T110000Z
SUMMARY:No UID
END:VEVENT
END:VCALENDAR
`

var testFeed = config.FeedConfig{ID: "dad-cal", Name: "Dad", URL: "https://example.com/dad.ics", Color: "#9333EA", Owner: "friend-dad"}

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParse(t *testing.T) {
	opts := Options{
		From:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Location: time.UTC,
	}

	events, err := Parse(testFeed, crlf(feedBody), opts)
	require.NoError(t, err)

	byID := make(map[string]model.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
		assert.Equal(t, "dad-cal", ev.Source)
		assert.Equal(t, "friend-dad", ev.OwnerID)
		assert.Equal(t, "#9333EA", ev.Color)
	}
	assert.Len(t, events, 8)

	single := byID["dad-cal/single-1"]
	assert.Equal(t, "Dentist", single.Title)
	assert.Equal(t, "Main St", single.Location)
	assert.Equal(t, "single-1", single.ExternalID)
	assert.True(t, single.Start.Equal(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Hour, single.Duration())
	assert.Equal(t, model.RecurrenceNone, single.Recurrence)

	weekly := byID["dad-cal/weekly-1"]
	assert.Equal(t, model.RecurrenceWeekly, weekly.Recurrence)

	for _, key := range []string{"20240101T180000Z", "20240115T180000Z", "20240129T180000Z"} {
		ev, ok := byID["dad-cal/biweekly@"+key]
		if assert.True(t, ok, key) {
			assert.Equal(t, model.RecurrenceNone, ev.Recurrence)
			assert.Equal(t, "Book club", ev.Title)
		}
	}

	_, excluded := byID["dad-cal/daily-ex@20240102T070000Z"]
	assert.False(t, excluded)
	first := byID["dad-cal/daily-ex@20240101T070000Z"]
	assert.Equal(t, "Run", first.Title)
	moved := byID["dad-cal/daily-ex@20240103T070000Z"]
	assert.Equal(t, "Run (late)", moved.Title)
	assert.True(t, moved.Start.Equal(time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)))

	holiday := byID["dad-cal/holiday"]
	assert.True(t, holiday.AllDay)
	assert.True(t, holiday.Start.Equal(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)))
	assert.True(t, holiday.End.Equal(time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)))

	_, kept := byID["dad-cal/ancient"]
	assert.False(t, kept)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(testFeed, nil, Options{})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	jan10 := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	jan31 := time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)
	leap := time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		rule  string
		start time.Time
		want  model.Recurrence
	}{
		{"daily", "FREQ=DAILY", jan10, model.RecurrenceDaily},
		{"weekly", "FREQ=WEEKLY", jan10, model.RecurrenceWeekly},
		{"monthly", "FREQ=MONTHLY", jan10, model.RecurrenceMonthly},
		{"monthly late day", "FREQ=MONTHLY", jan31, model.RecurrenceCustom},
		{"yearly", "FREQ=YEARLY", jan10, model.RecurrenceYearly},
		{"yearly leap day", "FREQ=YEARLY", leap, model.RecurrenceCustom},
		{"interval", "FREQ=DAILY;INTERVAL=2", jan10, model.RecurrenceCustom},
		{"byday", "FREQ=WEEKLY;BYDAY=MO,WE", jan10, model.RecurrenceCustom},
		{"count", "FREQ=DAILY;COUNT=5", jan10, model.RecurrenceCustom},
		{"hourly", "FREQ=HOURLY", jan10, model.RecurrenceCustom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := classify(tt.rule, tt.start)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := classify("NOT A RULE", jan10)
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	start := time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC)
	out := Export("Family", []model.Event{
		{ID: "e1__r2", Title: "Family Dinner", Location: "Home", Color: "#3B82F6", Start: start, End: start.Add(time.Hour)},
		{ID: "e2", Title: "Holiday", AllDay: true, Start: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)},
	}, start)

	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "X-WR-CALNAME:Family")
	assert.Contains(t, out, "UID:e1__r2")
	assert.Contains(t, out, "SUMMARY:Family Dinner")
	assert.Contains(t, out, "DTSTART:20240102T140000Z")
	assert.Contains(t, out, "20240105")

	// Exported documents parse back through the feed reader.
	events, err := Parse(config.FeedConfig{ID: "self"}, []byte(out), Options{Location: time.UTC})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestFetcher_CachesAndFallsBack(t *testing.T) {
	var (
		hits    atomic.Int32
		failing atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write(crlf(feedBody))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	feed := config.FeedConfig{ID: "dad-cal", URL: srv.URL + "/private/token.ics"}
	ctx := context.Background()

	res, err := f.Fetch(ctx, feed)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Contains(t, string(res.Body), "UID:single-1")

	res, err = f.Fetch(ctx, feed)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Contains(t, string(res.Body), "UID:single-1")

	failing.Store(true)
	res, err = f.Fetch(ctx, feed)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, int32(3), hits.Load())

	_, err = f.Fetch(ctx, config.FeedConfig{ID: "other", URL: srv.URL + "/other.ics"})
	assert.Error(t, err)

	_, err = f.Fetch(ctx, config.FeedConfig{ID: "blank"})
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)", redactURL("https://calendar.example.com/private/abc.ics?token=x"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
