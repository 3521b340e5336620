package web

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"famschedule/internal/ics"
	"famschedule/internal/model"
	"famschedule/internal/recurrence"
	"famschedule/internal/slot"
)

type eventsResponse struct {
	View       recurrence.View `json:"view"`
	RangeStart time.Time       `json:"range_start"`
	RangeEnd   time.Time       `json:"range_end"`
	Timezone   string          `json:"timezone"`
	Events     []eventInstance `json:"events"`
}

// eventInstance is one expanded occurrence. DefinitionID names the stored
// event that edits and deletes act on.
type eventInstance struct {
	model.Event
	DefinitionID string `json:"definition_id"`
	Occurrence   int    `json:"occurrence"`
}

func instanceOf(ev model.Event) eventInstance {
	return eventInstance{
		Event:        ev,
		DefinitionID: recurrence.DefinitionID(ev.ID),
		Occurrence:   recurrence.OccurrenceIndex(ev.ID),
	}
}

type eventRequest struct {
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Location         string    `json:"location"`
	Color            string    `json:"color"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	AllDay           bool      `json:"all_day"`
	Recurrence       string    `json:"recurrence"`
	RecurrenceCustom string    `json:"recurrence_custom"`
	Importance       string    `json:"importance"`
	GuestIDs         []string  `json:"guest_ids"`
}

func (req eventRequest) validate() string {
	switch {
	case strings.TrimSpace(req.Title) == "":
		return "title is required"
	case req.Start.IsZero() || req.End.IsZero():
		return "start and end are required"
	case req.End.Before(req.Start):
		return "end must not be before start"
	}
	return ""
}

func (req eventRequest) apply(ev *model.Event, loc *time.Location) {
	ev.Title = strings.TrimSpace(req.Title)
	ev.Description = req.Description
	ev.Location = req.Location
	ev.Color = req.Color
	ev.Start = req.Start.In(loc)
	ev.End = req.End.In(loc)
	ev.AllDay = req.AllDay
	ev.Recurrence = model.ParseRecurrence(req.Recurrence)
	ev.RecurrenceCustom = req.RecurrenceCustom
	ev.Importance = req.Importance
	ev.GuestIDs = req.GuestIDs
}

type eventWriteResponse struct {
	Event     model.Event   `json:"event"`
	Conflicts []model.Event `json:"conflicts"`
}

// visibleInstances expands the owner's events over the requested view and
// keeps the instances that overlap it.
func (s *Server) visibleInstances(r *http.Request) (eventsResponse, int, string) {
	q := r.URL.Query()
	view := recurrence.ParseView(q.Get("view"))
	anchor, err := parseDate(q.Get("date"), s.loc, s.now())
	if err != nil {
		return eventsResponse{}, http.StatusBadRequest, "date must be YYYY-MM-DD"
	}

	start, end := recurrence.VisibleRange(view, anchor)
	defs, err := s.store.Events.ListByOwner(r.Context(), q.Get("owner"))
	if err != nil {
		return eventsResponse{}, http.StatusInternalServerError, "internal error"
	}

	instances := recurrence.Expand(defs, start, end)
	visible := make([]model.Event, 0, len(instances))
	for _, ev := range instances {
		// Non-repeating and custom definitions come back unfiltered.
		if ev.End.After(start) && ev.Start.Before(end) {
			visible = append(visible, ev)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool { return visible[i].Start.Before(visible[j].Start) })

	out := make([]eventInstance, 0, len(visible))
	for _, ev := range visible {
		out = append(out, instanceOf(ev))
	}

	return eventsResponse{
		View:       view,
		RangeStart: start,
		RangeEnd:   end,
		Timezone:   s.loc.String(),
		Events:     out,
	}, http.StatusOK, ""
}

// handleListEvents serves GET /api/events?view=day|week|month&date=YYYY-MM-DD&owner=<participant>.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	resp, status, msg := s.visibleInstances(r)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExport serves the same instances as handleListEvents as text/calendar.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	resp, status, msg := s.visibleInstances(r)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	events := make([]model.Event, 0, len(resp.Events))
	for _, inst := range resp.Events {
		events = append(events, inst.Event)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics.Export("famschedule", events, s.now())))
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	var ev model.Event
	req.apply(&ev, s.loc)

	conflicts, err := s.conflictsWith(r, ev)
	if err != nil {
		writeStoreError(w, err, "event")
		return
	}
	if err := s.store.Events.Create(r.Context(), &ev); err != nil {
		writeStoreError(w, err, "event")
		return
	}
	writeJSON(w, http.StatusCreated, eventWriteResponse{Event: ev, Conflicts: conflicts})
}

// handleUpdateEvent edits the definition behind {id}; an instance ID edits
// the whole series.
func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := s.store.Events.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "event")
		return
	}
	if existing.Source != model.SourceLocal {
		writeError(w, http.StatusConflict, "imported events are read-only")
		return
	}

	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	req.apply(existing, s.loc)

	conflicts, err := s.conflictsWith(r, *existing)
	if err != nil {
		writeStoreError(w, err, "event")
		return
	}
	if err := s.store.Events.Update(r.Context(), existing); err != nil {
		writeStoreError(w, err, "event")
		return
	}
	writeJSON(w, http.StatusOK, eventWriteResponse{Event: *existing, Conflicts: conflicts})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := s.store.Events.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "event")
		return
	}
	if existing.Source != model.SourceLocal {
		writeError(w, http.StatusConflict, "imported events are read-only")
		return
	}
	if err := s.store.Events.Delete(r.Context(), existing.ID); err != nil {
		writeStoreError(w, err, "event")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// conflictsWith lists the user's other instances overlapping ev's first
// occurrence.
func (s *Server) conflictsWith(r *http.Request, ev model.Event) ([]model.Event, error) {
	others, err := s.ownerEvents(r.Context(), ev.Start, ev.End)
	if err != nil {
		return nil, err
	}
	filtered := others[:0]
	for _, o := range others {
		if ev.ID != "" && recurrence.DefinitionID(o.ID) == ev.ID {
			continue
		}
		filtered = append(filtered, o)
	}
	conflicts := slot.Conflicting(filtered, ev.Start, ev.End)
	if conflicts == nil {
		conflicts = []model.Event{}
	}
	return conflicts, nil
}
