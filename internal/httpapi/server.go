// Package httpapi is the attendee and operator HTTP surface.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirdesai22/leadsync/internal/elastic"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/sirdesai22/leadsync/internal/reconcile"
	"github.com/sirdesai22/leadsync/internal/services"
	"gorm.io/gorm"
)

type IdentityResolver interface {
	Resolve(ctx context.Context, email, nameHint string) (*models.Lead, error)
}

type LeadService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Lead, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, update services.ProfileUpdate) error
	CreateRaffleEntry(ctx context.Context, leadID uuid.UUID, prize string) (*models.RaffleEntry, error)
	CreateGalleryItem(ctx context.Context, leadID uuid.UUID, caption, imageKey string) (*models.GalleryItem, error)
}

type MissionService interface {
	RecordCompletion(ctx context.Context, leadID uuid.UUID, missionKey string) (services.Progress, error)
	ComputeProgress(ctx context.Context, leadID uuid.UUID) (services.Progress, error)
	ListActiveMissions(ctx context.Context) ([]models.Mission, error)
	UpsertMission(ctx context.Context, key string, in services.MissionInput) (*models.Mission, error)
	ResetLead(ctx context.Context, leadID uuid.UUID) error
}

type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.Report, error)
	ReplaceCatalog(ctx context.Context) (reconcile.Report, error)
}

type DLQRetrier interface {
	RetryDLQEntry(ctx context.Context, id int64) error
}

type LeadSearch interface {
	SearchLeads(ctx context.Context, q string, size int) ([]elastic.LeadDoc, error)
}

// Deps wires the server. Reconciler, DLQ and Search may be nil when the
// matching backend is not configured.
type Deps struct {
	DB          *gorm.DB
	Identity    IdentityResolver
	Leads       LeadService
	Missions    MissionService
	Reconciler  Reconciler
	DLQ         DLQRetrier
	Search      LeadSearch
	AdminToken  string
	CORSOrigins []string
	Log         *slog.Logger
}

type Server struct {
	Deps
	log *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	s := &Server{Deps: d, log: d.Log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(Metrics)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/identity/resolve", s.resolveIdentity)
		r.Get("/missions", s.listMissions)
		r.Route("/leads/{id}", func(r chi.Router) {
			r.Get("/", s.getLead)
			r.Patch("/", s.updateLead)
			r.Get("/progress", s.progress)
			r.Post("/missions/{key}/complete", s.completeMission)
			r.Post("/raffle-entries", s.createRaffleEntry)
			r.Post("/gallery-items", s.createGalleryItem)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminAuth(d.AdminToken))
		r.Use(middleware.Timeout(5 * time.Minute))
		r.Post("/reconcile", s.reconcile)
		r.Post("/missions/replace", s.replaceCatalog)
		r.Put("/missions/{key}", s.upsertMission)
		r.Post("/leads/{id}/reset", s.resetLead)
		r.Get("/leads/search", s.searchLeads)
		r.Get("/outbox", s.listOutbox)
		r.Get("/dlq", s.listDLQ)
		r.Post("/dlq/{id}/retry", s.retryDLQ)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.DB.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
