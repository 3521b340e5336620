package web

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"famschedule/internal/config"
	"famschedule/internal/feedsync"
	appLog "famschedule/internal/log"
	"famschedule/internal/model"
	"famschedule/internal/recurrence"
	"famschedule/internal/slot"
	"famschedule/internal/store"
)

// Server exposes the calendar, contacts and scheduling assistant over a
// JSON API.
type Server struct {
	cfg    *config.Config
	store  *store.Store
	syncer *feedsync.Syncer
	finder *slot.Finder
	loc    *time.Location
	router *mux.Router

	clockMu sync.RWMutex
	clock   func() time.Time
}

// NewServer constructs a Server. syncer may be nil when no feeds are
// configured; POST /api/sync then reports 503.
func NewServer(cfg *config.Config, st *store.Store, syncer *feedsync.Syncer) *Server {
	s := &Server{
		cfg:    cfg,
		store:  st,
		syncer: syncer,
		loc:    cfg.Location(),
		router: mux.NewRouter(),
		clock:  time.Now,
	}

	var busy slot.BusyProvider = slot.BusyFunc(s.storedBusy)
	if cfg.DemoBusy {
		busy = slot.FallbackBusy{Primary: busy, Fallback: slot.HashBusy{Now: s.now}}
	}
	s.finder = slot.NewFinder(busy)

	s.registerRoutes()
	return s
}

// SetClock replaces the server's notion of the current time.
func (s *Server) SetClock(now func() time.Time) {
	s.clockMu.Lock()
	s.clock = now
	s.clockMu.Unlock()
}

// now returns the current time in the configured zone.
func (s *Server) now() time.Time {
	s.clockMu.RLock()
	clock := s.clock
	s.clockMu.RUnlock()
	return clock().In(s.loc)
}

// Handler returns the root handler, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware protects everything except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="famschedule", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(requestLogger)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/events", s.handleListEvents).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleCreateEvent).Methods(http.MethodPost)
	// Imported IDs are "<feed>/<uid>", so the event ID may span segments.
	api.HandleFunc("/events/{id:.+}", s.handleUpdateEvent).Methods(http.MethodPut)
	api.HandleFunc("/events/{id:.+}", s.handleDeleteEvent).Methods(http.MethodDelete)
	api.HandleFunc("/calendar.ics", s.handleExport).Methods(http.MethodGet)

	api.HandleFunc("/participants", s.handleListParticipants).Methods(http.MethodGet)
	api.HandleFunc("/participants", s.handleCreateParticipant).Methods(http.MethodPost)
	api.HandleFunc("/participants/{id}", s.handleUpdateParticipant).Methods(http.MethodPut)
	api.HandleFunc("/participants/{id}", s.handleDeleteParticipant).Methods(http.MethodDelete)

	api.HandleFunc("/groups", s.handleListGroups).Methods(http.MethodGet)
	api.HandleFunc("/groups", s.handleCreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}", s.handleUpdateGroup).Methods(http.MethodPut)
	api.HandleFunc("/groups/{id}", s.handleDeleteGroup).Methods(http.MethodDelete)

	api.HandleFunc("/suggestions/group", s.handleGroupSuggestion).Methods(http.MethodPost)
	api.HandleFunc("/suggestions/personal", s.handlePersonalSuggestions).Methods(http.MethodGet)

	api.HandleFunc("/proposals", s.handleListProposals).Methods(http.MethodGet)
	api.HandleFunc("/proposals", s.handleCreateProposal).Methods(http.MethodPost)
	api.HandleFunc("/proposals/{id}/responses", s.handleRespond).Methods(http.MethodPost)

	api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		appLog.Error("health check failed", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// storedBusy reads a participant's stored events (imported feeds assign
// them an owner) and expands them over the search window.
func (s *Server) storedBusy(p model.Participant, from, to time.Time) []model.Event {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	defs, err := s.store.Events.ListByOwner(ctx, p.ID)
	if err != nil {
		appLog.Error("loading participant events failed", err, "participant", p.ID)
		return nil
	}
	return recurrence.Expand(defs, from, to)
}

// ownerEvents returns the user's own instances between from and to.
func (s *Server) ownerEvents(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	defs, err := s.store.Events.ListByOwner(ctx, "")
	if err != nil {
		return nil, err
	}
	return recurrence.Expand(defs, from, to), nil
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
