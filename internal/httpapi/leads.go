package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirdesai22/leadsync/internal/services"
)

type resolveRequest struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (s *Server) resolveIdentity(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	lead, err := s.Identity.Resolve(r.Context(), req.Email, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) getLead(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lead, err := s.Leads.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) updateLead(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var update services.ProfileUpdate
	if err := decode(w, r, &update); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Leads.UpdateProfile(r.Context(), id, update); err != nil {
		s.writeError(w, r, err)
		return
	}
	lead, err := s.Leads.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.Missions.ComputeProgress(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) completeMission(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.Missions.RecordCompletion(r.Context(), id, chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listMissions(w http.ResponseWriter, r *http.Request) {
	missions, err := s.Missions.ListActiveMissions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, missions)
}

type raffleRequest struct {
	Prize string `json:"prize"`
}

func (s *Server) createRaffleEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req raffleRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.Leads.CreateRaffleEntry(r.Context(), id, req.Prize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type galleryRequest struct {
	Caption  string `json:"caption"`
	ImageKey string `json:"image_key"`
}

func (s *Server) createGalleryItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req galleryRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.Leads.CreateGalleryItem(r.Context(), id, req.Caption, req.ImageKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}
