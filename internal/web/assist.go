package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"famschedule/internal/feedsync"
	appLog "famschedule/internal/log"
	"famschedule/internal/model"
)

// assistHorizon bounds the owner's expanded events handed to the slot
// finder; it covers every candidate the finder can produce.
const assistHorizon = 9 * 24 * time.Hour

type slotWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type groupSuggestionRequest struct {
	GroupID string      `json:"group_id"`
	Exclude *slotWindow `json:"exclude,omitempty"`
}

// handleGroupSuggestion serves POST /api/suggestions/group. Passing the
// previous answer as exclude asks for the next best slot.
func (s *Server) handleGroupSuggestion(w http.ResponseWriter, r *http.Request) {
	var req groupSuggestionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.GroupID == "" {
		writeError(w, http.StatusBadRequest, "group_id is required")
		return
	}

	members, err := s.store.Groups.Members(r.Context(), req.GroupID)
	if err != nil {
		writeStoreError(w, err, "group")
		return
	}

	now := s.now()
	owner, err := s.ownerEvents(r.Context(), now, now.Add(assistHorizon))
	if err != nil {
		writeStoreError(w, err, "event")
		return
	}

	var exclude *model.Slot
	if req.Exclude != nil {
		exclude = &model.Slot{Start: req.Exclude.Start, End: req.Exclude.End}
	}

	writeJSON(w, http.StatusOK, s.finder.BestGroupSlot(now, members, owner, exclude))
}

type personalSuggestionsResponse struct {
	Slots []model.Slot `json:"slots"`
}

// handlePersonalSuggestions serves GET /api/suggestions/personal.
func (s *Server) handlePersonalSuggestions(w http.ResponseWriter, r *http.Request) {
	participants, err := s.store.Participants.List(r.Context())
	if err != nil {
		writeStoreError(w, err, "participant")
		return
	}

	now := s.now()
	owner, err := s.ownerEvents(r.Context(), now, now.Add(assistHorizon))
	if err != nil {
		writeStoreError(w, err, "event")
		return
	}

	slots := s.finder.BestPersonalSlots(now, owner, model.SortByPriority(participants))
	writeJSON(w, http.StatusOK, personalSuggestionsResponse{Slots: slots})
}

type proposalView struct {
	model.Proposal
	Status      model.ResponseStatus `json:"status"`
	BusyMembers []model.Participant  `json:"busy_members,omitempty"`
}

func viewOf(p model.Proposal) proposalView {
	return proposalView{Proposal: p, Status: p.Status()}
}

// handleListProposals serves GET /api/proposals[?limit=n], newest first.
func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	ps, err := s.store.Proposals.List(r.Context())
	if err != nil {
		writeStoreError(w, err, "proposal")
		return
	}
	if limit := parseIntDefault(r.URL.Query().Get("limit"), 0); limit > 0 && limit < len(ps) {
		ps = ps[:limit]
	}

	out := make([]proposalView, 0, len(ps))
	for _, p := range ps {
		out = append(out, viewOf(p))
	}
	writeJSON(w, http.StatusOK, out)
}

type proposalRequest struct {
	GroupID string    `json:"group_id"`
	Title   string    `json:"title"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// handleCreateProposal serves POST /api/proposals. The response lists the
// members already busy at the suggested time.
func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req proposalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	title := strings.TrimSpace(req.Title)
	switch {
	case req.GroupID == "":
		writeError(w, http.StatusBadRequest, "group_id is required")
		return
	case title == "":
		writeError(w, http.StatusBadRequest, "title is required")
		return
	case req.Start.IsZero() || !req.End.After(req.Start):
		writeError(w, http.StatusBadRequest, "start must be before end")
		return
	}

	members, err := s.store.Groups.Members(r.Context(), req.GroupID)
	if err != nil {
		writeStoreError(w, err, "group")
		return
	}

	p := model.Proposal{
		GroupID:        req.GroupID,
		Title:          title,
		SuggestedStart: req.Start.In(s.loc),
		SuggestedEnd:   req.End.In(s.loc),
		CreatedAt:      s.now(),
	}
	if err := s.store.Proposals.Create(r.Context(), &p, "", members); err != nil {
		writeStoreError(w, err, "proposal")
		return
	}

	v := viewOf(p)
	v.BusyMembers = s.finder.BusyParticipants(members, p.SuggestedStart, p.SuggestedEnd)
	writeJSON(w, http.StatusCreated, v)
}

type respondRequest struct {
	MemberID string `json:"member_id"`
	Status   string `json:"status"`
}

// handleRespond serves POST /api/proposals/{id}/responses.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := model.ResponseStatus(strings.ToLower(req.Status))
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "status must be pending, accepted or denied")
		return
	}
	if req.MemberID == "" {
		req.MemberID = model.SelfMemberID
	}

	p, err := s.store.Proposals.Respond(r.Context(), mux.Vars(r)["id"], req.MemberID, status)
	if err != nil {
		writeStoreError(w, err, "proposal response")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*p))
}

type syncResponse struct {
	Results []feedsync.Result `json:"results"`
	Failed  int               `json:"failed"`
}

// handleSync serves POST /api/sync, refreshing every feed now.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "no feeds configured")
		return
	}

	results, err := s.syncer.SyncAll(r.Context())
	if r.Context().Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "sync interrupted")
		return
	}
	if err != nil {
		appLog.Warn("manual feed sync had errors", "err", err)
	}

	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, syncResponse{Results: results, Failed: failed})
}
