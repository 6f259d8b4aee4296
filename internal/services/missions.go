package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/apperr"
	"github.com/sirdesai22/leadsync/internal/metrics"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/sirdesai22/leadsync/internal/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Progress is a lead's mission completion state.
type Progress struct {
	Percent     int        `json:"percent"`
	CompletedAt *time.Time `json:"completed_at"`
}

// CompletionNotifier is told when a lead first reaches 100 percent.
type CompletionNotifier interface {
	MissionsCompleted(ctx context.Context, lead models.Lead, completedAt time.Time) error
}

type MissionService struct {
	db       *gorm.DB
	sync     Enqueuer
	notifier CompletionNotifier
	now      func() time.Time
	log      *slog.Logger
}

type MissionOption func(*MissionService)

func WithNotifier(n CompletionNotifier) MissionOption {
	return func(s *MissionService) { s.notifier = n }
}

func WithClock(now func() time.Time) MissionOption {
	return func(s *MissionService) { s.now = now }
}

func NewMissionService(db *gorm.DB, sync Enqueuer, log *slog.Logger, opts ...MissionOption) *MissionService {
	s := &MissionService{
		db:   db,
		sync: orNop(sync),
		now:  func() time.Time { return time.Now().UTC() },
		log:  log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// percentOf rounds half up and clamps to 100. No active missions means 0.
func percentOf(done, active int64) int {
	if active <= 0 || done <= 0 {
		return 0
	}
	p := (200*done + active) / (2 * active)
	if p > 100 {
		return 100
	}
	return int(p)
}

type progressChange struct {
	progress Progress
	changed  bool
	finished bool
}

// RecordCompletion marks missionKey done for the lead. Repeats are no-ops.
func (s *MissionService) RecordCompletion(ctx context.Context, leadID uuid.UUID, missionKey string) (Progress, error) {
	key := strings.TrimSpace(missionKey)
	if key == "" {
		return Progress{}, apperr.Invalid("mission_key", "is required")
	}

	var (
		lead   models.Lead
		change progressChange
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&lead, "id = ?", leadID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("lead", leadID.String())
			}
			return err
		}

		var existing int64
		if err := tx.Model(&models.MissionCompletion{}).
			Where("lead_id = ? AND mission_key = ?", leadID, key).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			change.progress = Progress{Percent: lead.MissionProgress, CompletedAt: lead.MissionCompletedAt}
			return nil
		}

		var mission models.Mission
		if err := tx.Where("mission_key = ?", key).First(&mission).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("mission", key)
			}
			return err
		}
		if !mission.Active {
			return apperr.Invalid("mission_key", fmt.Sprintf("mission %q is not active", key))
		}

		completion := models.MissionCompletion{LeadID: leadID, MissionKey: key, CreatedAt: s.now()}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lead_id"}, {Name: "mission_key"}},
			DoNothing: true,
		}).Create(&completion).Error; err != nil {
			return err
		}

		var err error
		change, err = s.recompute(tx, &lead)
		return err
	})
	if err != nil {
		return Progress{}, classify("record completion", "lead", leadID.String(), err)
	}

	s.log.Info("mission completion recorded", "lead_id", leadID, "mission", key, "percent", change.progress.Percent)
	s.afterChange(ctx, lead, change)
	return change.progress, nil
}

// ComputeProgress derives the percent against the current active catalog
// without writing anything.
func (s *MissionService) ComputeProgress(ctx context.Context, leadID uuid.UUID) (Progress, error) {
	var lead models.Lead
	if err := s.db.WithContext(ctx).First(&lead, "id = ?", leadID).Error; err != nil {
		return Progress{}, classify("compute progress", "lead", leadID.String(), err)
	}
	percent, err := currentPercent(s.db.WithContext(ctx), leadID)
	if err != nil {
		return Progress{}, apperr.Unavailable("compute progress", err)
	}
	return Progress{Percent: percent, CompletedAt: lead.MissionCompletedAt}, nil
}

// RefreshProgress persists the recomputed percent for one lead.
func (s *MissionService) RefreshProgress(ctx context.Context, leadID uuid.UUID) (Progress, error) {
	var (
		lead   models.Lead
		change progressChange
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&lead, "id = ?", leadID).Error; err != nil {
			return err
		}
		var err error
		change, err = s.recompute(tx, &lead)
		return err
	})
	if err != nil {
		return Progress{}, classify("refresh progress", "lead", leadID.String(), err)
	}
	s.afterChange(ctx, lead, change)
	return change.progress, nil
}

// RefreshAll recomputes every lead after a catalog change and returns how
// many stored percents moved.
func (s *MissionService) RefreshAll(ctx context.Context) (int, error) {
	var ids []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&models.Lead{}).Order("created_at").Pluck("id", &ids).Error; err != nil {
		return 0, apperr.Unavailable("refresh progress", err)
	}
	changed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		before, err := s.storedProgress(ctx, id)
		if err != nil {
			return changed, err
		}
		after, err := s.RefreshProgress(ctx, id)
		if err != nil {
			return changed, err
		}
		if after.Percent != before {
			changed++
		}
	}
	s.log.Info("mission progress refreshed", "leads", len(ids), "changed", changed)
	return changed, nil
}

func (s *MissionService) storedProgress(ctx context.Context, id uuid.UUID) (int, error) {
	var lead models.Lead
	if err := s.db.WithContext(ctx).Select("mission_progress").First(&lead, "id = ?", id).Error; err != nil {
		return 0, classify("refresh progress", "lead", id.String(), err)
	}
	return lead.MissionProgress, nil
}

func (s *MissionService) ListActiveMissions(ctx context.Context) ([]models.Mission, error) {
	var missions []models.Mission
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("sort_order").Order("mission_key").
		Find(&missions).Error
	if err != nil {
		return nil, apperr.Unavailable("list missions", err)
	}
	return missions, nil
}

// MissionInput is an operator edit of one catalog entry.
type MissionInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Points      int    `json:"points"`
	Order       int    `json:"order"`
	Active      bool   `json:"active"`
	ActionPath  string `json:"action_path"`
}

// UpsertMission creates or edits the mission with the given key, schedules
// its CRM push and recomputes stored progress.
func (s *MissionService) UpsertMission(ctx context.Context, key string, in MissionInput) (*models.Mission, error) {
	key = strings.TrimSpace(key)
	in.Title = strings.TrimSpace(in.Title)
	if key == "" {
		return nil, apperr.Invalid("mission_key", "is required")
	}
	if in.Title == "" {
		return nil, apperr.Invalid("title", "is required")
	}
	if in.Points < 0 {
		return nil, apperr.Invalid("points", "must not be negative")
	}

	mission := models.Mission{
		Key:         key,
		Title:       in.Title,
		Description: strings.TrimSpace(in.Description),
		Points:      in.Points,
		SortOrder:   in.Order,
		Active:      in.Active,
		ActionPath:  strings.TrimSpace(in.ActionPath),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mission_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "description", "points", "sort_order", "active", "action_path", "updated_at"}),
		}).Create(&mission).Error; err != nil {
			return err
		}
		var stored models.Mission
		if err := tx.Where("mission_key = ?", key).First(&stored).Error; err != nil {
			return err
		}
		mission = stored
		return nil
	})
	if err != nil {
		return nil, apperr.Unavailable("upsert mission", err)
	}

	s.sync.EnqueueEntity(ctx, models.EntityMission, mission.ID, mission.Values())
	if _, err := s.RefreshAll(ctx); err != nil {
		s.log.Warn("progress refresh after catalog edit failed", "mission", key, "err", err)
	}
	return &mission, nil
}

// ResetLead clears a lead's completions and mission state. It is the only
// path that rewinds completedAt.
func (s *MissionService) ResetLead(ctx context.Context, leadID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lead models.Lead
		if err := forUpdate(tx).First(&lead, "id = ?", leadID).Error; err != nil {
			return err
		}
		if err := tx.Where("lead_id = ?", leadID).Delete(&models.MissionCompletion{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Lead{}).Where("id = ?", leadID).Updates(map[string]any{
			"mission_progress":     0,
			"mission_completed_at": nil,
		}).Error
	})
	if err != nil {
		return classify("reset lead", "lead", leadID.String(), err)
	}
	s.log.Info("lead missions reset", "lead_id", leadID)
	s.sync.Enqueue(ctx, leadID, schema.Values{
		schema.LeadMissionProgress:    0,
		schema.LeadMissionCompletedAt: (*time.Time)(nil),
	})
	return nil
}

func currentPercent(tx *gorm.DB, leadID uuid.UUID) (int, error) {
	var active, done int64
	if err := tx.Model(&models.Mission{}).Where("active = ?", true).Count(&active).Error; err != nil {
		return 0, err
	}
	if err := tx.Model(&models.MissionCompletion{}).Where("lead_id = ?", leadID).Count(&done).Error; err != nil {
		return 0, err
	}
	return percentOf(done, active), nil
}

// recompute writes the derived percent and stamps completedAt the first
// time it reaches 100.
func (s *MissionService) recompute(tx *gorm.DB, lead *models.Lead) (progressChange, error) {
	percent, err := currentPercent(tx, lead.ID)
	if err != nil {
		return progressChange{}, err
	}
	change := progressChange{progress: Progress{Percent: percent, CompletedAt: lead.MissionCompletedAt}}
	if percent >= 100 && lead.MissionCompletedAt == nil {
		at := s.now()
		change.progress.CompletedAt = &at
		change.finished = true
	}
	change.changed = percent != lead.MissionProgress || change.finished
	if !change.changed {
		return change, nil
	}
	err = tx.Model(&models.Lead{}).Where("id = ?", lead.ID).Updates(map[string]any{
		"mission_progress":     percent,
		"mission_completed_at": change.progress.CompletedAt,
		"updated_at":           s.now(),
	}).Error
	if err != nil {
		return progressChange{}, err
	}
	lead.MissionProgress = percent
	lead.MissionCompletedAt = change.progress.CompletedAt
	return change, nil
}

func (s *MissionService) afterChange(ctx context.Context, lead models.Lead, change progressChange) {
	if !change.changed {
		return
	}
	changes := schema.Values{schema.LeadMissionProgress: change.progress.Percent}
	if change.finished {
		changes[schema.LeadMissionCompletedAt] = change.progress.CompletedAt
	}
	s.sync.Enqueue(ctx, lead.ID, changes)

	if change.finished {
		metrics.MissionsCompleted.Inc()
	}
	if change.finished && s.notifier != nil {
		if err := s.notifier.MissionsCompleted(ctx, lead, *change.progress.CompletedAt); err != nil {
			s.log.Warn("mission completed notification failed", "lead_id", lead.ID, "err", err)
		}
	}
}
