package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famschedule/internal/config"
	"famschedule/internal/feedsync"
	"famschedule/internal/ics"
	"famschedule/internal/model"
	"famschedule/internal/store"
)

// Monday.
var testNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	t     *testing.T
	cfg   *config.Config
	store *store.Store
	srv   *Server
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "famschedule.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return &testEnv{t: t, cfg: cfg, store: st, srv: newClockedServer(cfg, st, nil)}
}

func newClockedServer(cfg *config.Config, st *store.Store, syncer *feedsync.Syncer) *Server {
	srv := NewServer(cfg, st, syncer)
	srv.SetClock(func() time.Time { return testNow })
	return srv
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "mom", Password: "secret"}
	})

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/events", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("mom", "secret")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req.SetBasicAuth("mom", "wrong")
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEventsLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/events", map[string]any{
		"title":      "Swim",
		"start":      "2024-01-01T09:00:00Z",
		"end":        "2024-01-01T10:00:00Z",
		"recurrence": "weekly",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	swim := decode[eventWriteResponse](t, rec)
	assert.Empty(t, swim.Conflicts)
	swimID := swim.Event.ID

	rec = env.do(http.MethodPost, "/api/events", map[string]any{
		"title": "Call",
		"start": "2024-01-01T09:30:00Z",
		"end":   "2024-01-01T10:30:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	call := decode[eventWriteResponse](t, rec)
	require.Len(t, call.Conflicts, 1)
	assert.Equal(t, swimID, call.Conflicts[0].ID)

	week := decode[eventsResponse](t, env.do(http.MethodGet, "/api/events?view=week&date=2024-01-03", nil))
	assert.Equal(t, "week", string(week.View))
	assert.True(t, week.RangeStart.Equal(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)))
	require.Len(t, week.Events, 2)
	assert.Equal(t, swimID, week.Events[0].ID)
	assert.Equal(t, "Call", week.Events[1].Title)

	month := decode[eventsResponse](t, env.do(http.MethodGet, "/api/events?view=month&date=2024-01-15", nil))
	assert.Len(t, month.Events, 7)

	rec = env.do(http.MethodPut, "/api/events/"+swimID+"__r2", map[string]any{
		"title":      "Swim practice",
		"start":      "2024-01-01T09:00:00Z",
		"end":        "2024-01-01T10:00:00Z",
		"recurrence": "weekly",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[eventWriteResponse](t, rec)
	assert.Equal(t, swimID, updated.Event.ID)
	assert.Equal(t, "Swim practice", updated.Event.Title)

	day := decode[eventsResponse](t, env.do(http.MethodGet, "/api/events?view=day&date=2024-01-15", nil))
	require.Len(t, day.Events, 1)
	assert.Equal(t, swimID+"__r2", day.Events[0].ID)
	assert.Equal(t, swimID, day.Events[0].DefinitionID)
	assert.Equal(t, 2, day.Events[0].Occurrence)
	assert.Equal(t, "Swim practice", day.Events[0].Title)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/events/"+swimID+"__r3", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/events/"+swimID, nil).Code)
}

func TestEventsValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/events?date=01/03/2024", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/events", map[string]any{
		"title": "Backwards", "start": "2024-01-01T10:00:00Z", "end": "2024-01-01T09:00:00Z",
	}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/events", map[string]any{
		"start": "2024-01-01T10:00:00Z", "end": "2024-01-01T11:00:00Z",
	}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/events", map[string]any{
		"title": "Typo", "start": "2024-01-01T10:00:00Z", "end": "2024-01-01T11:00:00Z", "colour": "red",
	}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPut, "/api/events/missing", map[string]any{
		"title": "x", "start": "2024-01-01T10:00:00Z", "end": "2024-01-01T11:00:00Z",
	}).Code)
}

const assemblyFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//School//EN
BEGIN:VEVENT
UID:assembly
DTSTAMP:20231220T000000Z
DTSTART:20240102T080000Z
DTEND:20240102T090000Z
SUMMARY:Assembly
END:VEVENT
END:VCALENDAR
`

func TestImportedEventsAreReadOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	events, err := ics.Parse(config.FeedConfig{ID: "school"}, []byte(assemblyFeed), ics.Options{Location: time.UTC})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "school/assembly", events[0].ID)
	require.NoError(t, env.store.Events.ReplaceFeed(context.Background(), "school", events))

	week := decode[eventsResponse](t, env.do(http.MethodGet, "/api/events?view=week&date=2024-01-02", nil))
	require.Len(t, week.Events, 1)
	assert.Equal(t, "school/assembly", week.Events[0].DefinitionID)

	rec := env.do(http.MethodPut, "/api/events/school/assembly", map[string]any{
		"title": "Skip", "start": "2024-01-02T08:00:00Z", "end": "2024-01-02T09:00:00Z",
	})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusConflict, env.do(http.MethodDelete, "/api/events/school/assembly", nil).Code)

	_, err = env.store.Events.Get(context.Background(), "school/assembly")
	assert.NoError(t, err)
}

func TestCalendarExport(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/api/events", map[string]any{
		"title": "Call", "start": "2024-01-02T09:30:00Z", "end": "2024-01-02T10:30:00Z",
	}).Code)

	rec := env.do(http.MethodGet, "/api/calendar.ics?view=week&date=2024-01-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar"))
	assert.Contains(t, rec.Body.String(), "SUMMARY:Call")
	assert.Contains(t, rec.Body.String(), "DTSTART:20240102T093000Z")
}

// setupFamily creates Alex (priority 1) and Sam (priority 2) in one group,
// with Alex busy on Tuesday 14:00-15:00.
func setupFamily(t *testing.T, env *testEnv) (groupID, alexID, samID string) {
	t.Helper()

	rec := env.do(http.MethodPost, "/api/participants", map[string]any{"name": "Alex", "priority": 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	alexID = decode[model.Participant](t, rec).ID

	rec = env.do(http.MethodPost, "/api/participants", map[string]any{"name": "Sam", "priority": 2})
	require.Equal(t, http.StatusCreated, rec.Code)
	samID = decode[model.Participant](t, rec).ID

	rec = env.do(http.MethodPost, "/api/groups", map[string]any{"name": "Family", "member_ids": []string{alexID, samID}})
	require.Equal(t, http.StatusCreated, rec.Code)
	groupID = decode[model.Group](t, rec).ID

	busy := time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC)
	require.NoError(t, env.store.Events.ReplaceFeed(context.Background(), "alex-cal", []model.Event{
		{ID: "alex-cal-dentist", Title: "Dentist", Start: busy, End: busy.Add(time.Hour), OwnerID: alexID},
	}))
	return groupID, alexID, samID
}

func TestContacts(t *testing.T) {
	env := newTestEnv(t, nil)
	groupID, alexID, samID := setupFamily(t, env)

	ps := decode[[]model.Participant](t, env.do(http.MethodGet, "/api/participants", nil))
	require.Len(t, ps, 2)
	assert.Equal(t, "Alex", ps[0].Name)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/participants", map[string]any{"name": " "}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/participants", map[string]any{"name": "Neg", "priority": -2}).Code)

	rec := env.do(http.MethodPost, "/api/participants", map[string]any{"name": "Grandma", "priority": 0})
	require.Equal(t, http.StatusCreated, rec.Code)
	grandma := decode[model.Participant](t, rec)
	assert.Equal(t, 1, grandma.Priority)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/participants/"+grandma.ID, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/groups", map[string]any{
		"name": "Ghosts", "member_ids": []string{"nobody"},
	}).Code)

	rec = env.do(http.MethodPut, "/api/participants/"+samID, map[string]any{"name": "Samantha", "priority": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Samantha", decode[model.Participant](t, rec).Name)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPut, "/api/participants/nobody", map[string]any{"name": "X"}).Code)

	rec = env.do(http.MethodPut, "/api/groups/"+groupID, map[string]any{"name": "Core family", "member_ids": []string{alexID}})
	require.Equal(t, http.StatusOK, rec.Code)

	groups := decode[[]model.Group](t, env.do(http.MethodGet, "/api/groups", nil))
	require.Len(t, groups, 1)
	assert.Equal(t, "Core family", groups[0].Name)
	assert.Equal(t, []string{alexID}, groups[0].MemberIDs)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/participants/"+samID, nil).Code)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/groups/"+groupID, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/groups/"+groupID, nil).Code)
}

func TestGroupSuggestion(t *testing.T) {
	env := newTestEnv(t, nil)
	groupID, _, _ := setupFamily(t, env)

	rec := env.do(http.MethodPost, "/api/suggestions/group", map[string]any{"group_id": groupID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	best := decode[model.Slot](t, rec)
	assert.True(t, best.Start.Equal(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, best.Conflicts)
	assert.Equal(t, "Tuesday at 15:00 — all members are free", best.Reason)

	rec = env.do(http.MethodPost, "/api/suggestions/group", map[string]any{
		"group_id": groupID,
		"exclude":  map[string]any{"start": best.Start, "end": best.End},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	next := decode[model.Slot](t, rec)
	assert.True(t, next.Start.Equal(time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC)))

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/suggestions/group", map[string]any{"group_id": "nope"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/suggestions/group", map[string]any{}).Code)
}

func TestPersonalSuggestions(t *testing.T) {
	env := newTestEnv(t, nil)
	setupFamily(t, env)

	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/api/events", map[string]any{
		"title": "School run", "start": "2024-01-02T09:00:00Z", "end": "2024-01-02T10:00:00Z",
	}).Code)

	resp := decode[personalSuggestionsResponse](t, env.do(http.MethodGet, "/api/suggestions/personal", nil))
	require.Len(t, resp.Slots, 3)
	assert.True(t, resp.Slots[0].Start.Equal(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Tuesday at 10:00 — you're free and Alex (priority 1) is also available", resp.Slots[0].Reason)
	assert.True(t, resp.Slots[2].Start.Equal(time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Tuesday at 14:00 — you're free (Alex is busy)", resp.Slots[2].Reason)
	assert.Equal(t, 1, resp.Slots[2].Conflicts)
}

func TestProposals(t *testing.T) {
	env := newTestEnv(t, nil)
	groupID, alexID, samID := setupFamily(t, env)

	rec := env.do(http.MethodPost, "/api/proposals", map[string]any{
		"group_id": groupID,
		"title":    "Family Dinner",
		"start":    "2024-01-02T14:00:00Z",
		"end":      "2024-01-02T15:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[proposalView](t, rec)
	assert.Equal(t, model.ResponsePending, created.Status)
	require.Len(t, created.Responses, 3)
	require.Len(t, created.BusyMembers, 1)
	assert.Equal(t, alexID, created.BusyMembers[0].ID)

	path := "/api/proposals/" + created.ID + "/responses"
	rec = env.do(http.MethodPost, path, map[string]any{"member_id": alexID, "status": "accepted"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ResponsePending, decode[proposalView](t, rec).Status)

	rec = env.do(http.MethodPost, path, map[string]any{"member_id": samID, "status": "denied"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ResponseDenied, decode[proposalView](t, rec).Status)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, path, map[string]any{"member_id": samID, "status": "maybe"}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/proposals/nope/responses", map[string]any{"status": "accepted"}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/proposals", map[string]any{
		"group_id": "nope", "title": "x", "start": "2024-01-02T14:00:00Z", "end": "2024-01-02T15:00:00Z",
	}).Code)

	list := decode[[]proposalView](t, env.do(http.MethodGet, "/api/proposals", nil))
	require.Len(t, list, 1)
	assert.Equal(t, model.ResponseDenied, list[0].Status)
	assert.Equal(t, "Family Dinner", list[0].Title)
}

func TestDemoBusyFallsBackToPlaceholder(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.DemoBusy = true })

	rec := env.do(http.MethodPost, "/api/participants", map[string]any{"name": "Dad"})
	require.Equal(t, http.StatusCreated, rec.Code)
	dadID := decode[model.Participant](t, rec).ID
	rec = env.do(http.MethodPost, "/api/groups", map[string]any{"name": "Home", "member_ids": []string{dadID}})
	require.Equal(t, http.StatusCreated, rec.Code)
	groupID := decode[model.Group](t, rec).ID

	rec = env.do(http.MethodPost, "/api/proposals", map[string]any{
		"group_id": groupID, "title": "Movie", "start": "2024-01-03T15:00:00Z", "end": "2024-01-03T16:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[proposalView](t, rec)
	require.Len(t, created.BusyMembers, 1)
	assert.Equal(t, "Dad", created.BusyMembers[0].Name)
}

func TestSync(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodPost, "/api/sync", nil).Code)

	feed := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:golf\r\nDTSTAMP:20240101T000000Z\r\nDTSTART:20240104T100000Z\r\nDTEND:20240104T120000Z\r\nSUMMARY:Golf\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(feed))
	}))
	defer remote.Close()

	env.cfg.Feeds = []config.FeedConfig{{ID: "grandpa", URL: remote.URL + "/cal.ics", Owner: "friend-grandpa"}}
	syncer := feedsync.NewSyncer(env.store.Events, ics.NewFetcher(t.TempDir()), env.cfg)
	syncer.Now = func() time.Time { return testNow }
	env.srv = newClockedServer(env.cfg, env.store, syncer)

	rec := env.do(http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[syncResponse](t, rec)
	assert.Equal(t, 0, resp.Failed)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, resp.Results[0].Events)

	week := decode[eventsResponse](t, env.do(http.MethodGet, "/api/events?view=week&date=2024-01-03&owner=friend-grandpa", nil))
	require.Len(t, week.Events, 1)
	assert.Equal(t, "Golf", week.Events[0].Title)
	assert.Equal(t, "grandpa", week.Events[0].Source)
}
