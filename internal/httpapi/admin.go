package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirdesai22/leadsync/internal/apperr"
	"github.com/sirdesai22/leadsync/internal/services"
	"github.com/sirdesai22/leadsync/internal/workers"
)

var errNoBackend = errors.New("backend not configured")

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	if s.Reconciler == nil {
		s.writeError(w, r, apperr.Unavailable("reconcile", errNoBackend))
		return
	}
	report, err := s.Reconciler.Reconcile(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) replaceCatalog(w http.ResponseWriter, r *http.Request) {
	if s.Reconciler == nil {
		s.writeError(w, r, apperr.Unavailable("replace catalog", errNoBackend))
		return
	}
	report, err := s.Reconciler.ReplaceCatalog(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) upsertMission(w http.ResponseWriter, r *http.Request) {
	var in services.MissionInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	mission, err := s.Missions.UpsertMission(r.Context(), chi.URLParam(r, "key"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mission)
}

func (s *Server) resetLead(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Missions.ResetLead(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) searchLeads(w http.ResponseWriter, r *http.Request) {
	if s.Search == nil {
		s.writeError(w, r, apperr.Unavailable("search leads", errNoBackend))
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeError(w, r, apperr.Invalid("q", "is required"))
		return
	}
	docs, err := s.Search.SearchLeads(r.Context(), q, intQuery(r, "size", 20, 100))
	if err != nil {
		s.writeError(w, r, apperr.Unavailable("search leads", err))
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) listOutbox(w http.ResponseWriter, r *http.Request) {
	pending := r.URL.Query().Get("pending") == "true"
	events, err := workers.ListOutbox(r.Context(), s.DB, pending, intQuery(r, "limit", 100, 500))
	if err != nil {
		s.writeError(w, r, apperr.Unavailable("list outbox", err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) listDLQ(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	rows, err := workers.ListDLQ(r.Context(), s.DB, all, intQuery(r, "limit", 100, 500))
	if err != nil {
		s.writeError(w, r, apperr.Unavailable("list dlq", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) retryDLQ(w http.ResponseWriter, r *http.Request) {
	if s.DLQ == nil {
		s.writeError(w, r, apperr.Unavailable("retry dlq", errNoBackend))
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, r, apperr.Invalid("id", "must be an integer"))
		return
	}
	if err := s.DLQ.RetryDLQEntry(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retried"})
}
