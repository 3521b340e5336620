package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"famschedule/internal/model"
	"famschedule/internal/store"
)

type participantRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	GroupType string `json:"group_type"`
	Priority  int    `json:"priority"`
}

func (req participantRequest) participant(id string) (model.Participant, string) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.Participant{}, "name is required"
	}
	// Rank 1 is the most important; an omitted priority means 1.
	priority := req.Priority
	switch {
	case priority == 0:
		priority = 1
	case priority < 0:
		return model.Participant{}, "priority must be 1 or greater"
	}
	return model.Participant{
		ID:        id,
		Name:      name,
		Email:     req.Email,
		GroupType: req.GroupType,
		Priority:  priority,
	}, ""
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	ps, err := s.store.Participants.List(r.Context())
	if err != nil {
		writeStoreError(w, err, "participant")
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleCreateParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, msg := req.participant("")
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.store.Participants.Create(r.Context(), &p); err != nil {
		writeStoreError(w, err, "participant")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdateParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, msg := req.participant(mux.Vars(r)["id"])
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.store.Participants.Update(r.Context(), &p); err != nil {
		writeStoreError(w, err, "participant")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteParticipant(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Participants.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, err, "participant")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type groupRequest struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Priority  int      `json:"priority"`
	MemberIDs []string `json:"member_ids"`
}

// group validates req, checking that every member exists.
func (s *Server) group(r *http.Request, req groupRequest, id string) (model.Group, int, string) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.Group{}, http.StatusBadRequest, "name is required"
	}
	for _, mid := range req.MemberIDs {
		if _, err := s.store.Participants.Get(r.Context(), mid); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return model.Group{}, http.StatusBadRequest, "unknown member " + mid
			}
			return model.Group{}, http.StatusInternalServerError, "internal error"
		}
	}
	members := req.MemberIDs
	if members == nil {
		members = []string{}
	}
	return model.Group{ID: id, Name: name, Type: req.Type, Priority: req.Priority, MemberIDs: members}, http.StatusOK, ""
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.Groups.List(r.Context())
	if err != nil {
		writeStoreError(w, err, "group")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, status, msg := s.group(r, req, "")
	if status != http.StatusOK {
		writeError(w, status, msg)
		return
	}
	if err := s.store.Groups.Create(r.Context(), &g); err != nil {
		writeStoreError(w, err, "group")
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, status, msg := s.group(r, req, mux.Vars(r)["id"])
	if status != http.StatusOK {
		writeError(w, status, msg)
		return
	}
	if err := s.store.Groups.Update(r.Context(), &g); err != nil {
		writeStoreError(w, err, "group")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Groups.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, err, "group")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
