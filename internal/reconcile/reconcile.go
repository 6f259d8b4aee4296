// Package reconcile brings the canonical store and the CRM back into
// agreement after operators edit pages directly or pushes were lost.
//
// Field priority: descriptive fields an operator curates in the CRM win;
// fields the application derives (mission progress, completion time,
// qualification, email, canonical id) are only ever pushed outward.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/apperr"
	"github.com/sirdesai22/leadsync/internal/metrics"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/sirdesai22/leadsync/internal/notion"
	"github.com/sirdesai22/leadsync/internal/schema"
	"gorm.io/gorm"
)

// CRM lists every live page of a database.
type CRM interface {
	QueryAll(ctx context.Context, databaseID string) ([]notion.Page, error)
}

// Pusher writes the full canonical state of one entity to the CRM.
type Pusher interface {
	FlushOnce(ctx context.Context, entityType string, id uuid.UUID) error
}

// ProgressRefresher recomputes stored mission progress after catalog edits.
type ProgressRefresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

type Databases struct {
	Leads    string
	Missions string
}

// Failure is one item the job could not reconcile.
type Failure struct {
	Entity   string `json:"entity"`
	Identity string `json:"identity"`
	Error    string `json:"error"`
}

type Report struct {
	Scanned   int                     `json:"scanned"`
	Created   int                     `json:"created"`
	Updated   int                     `json:"updated"`
	Pushed    int                     `json:"pushed"`
	Conflicts []*apperr.ConflictError `json:"conflicts"`
	Failures  []Failure               `json:"failures"`
}

func (r *Report) fail(entity, identity string, err error) {
	r.Failures = append(r.Failures, Failure{Entity: entity, Identity: identity, Error: err.Error()})
	metrics.ReconcileItems.WithLabelValues(entity, "failed").Inc()
}

func (r *Report) conflict(entity, identity string, pageIDs []string) {
	ids := append([]string(nil), pageIDs...)
	sort.Strings(ids)
	r.Conflicts = append(r.Conflicts, &apperr.ConflictError{Entity: entity, Identity: identity, ExternalIDs: ids})
	metrics.ReconcileItems.WithLabelValues(entity, "conflict").Inc()
}

type Job struct {
	db       *gorm.DB
	crm      CRM
	pusher   Pusher
	progress ProgressRefresher
	dbs      Databases
	now      func() time.Time
	log      *slog.Logger
}

func NewJob(db *gorm.DB, crm CRM, pusher Pusher, progress ProgressRefresher, dbs Databases, log *slog.Logger) *Job {
	return &Job{
		db:       db,
		crm:      crm,
		pusher:   pusher,
		progress: progress,
		dbs:      dbs,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Reconcile runs the missions partition, then the leads partition. Item
// failures land in the report; only a cancelled context stops the run.
func (j *Job) Reconcile(ctx context.Context) (Report, error) {
	report := Report{Conflicts: []*apperr.ConflictError{}, Failures: []Failure{}}
	start := time.Now()

	catalogChanged := false
	if j.dbs.Missions != "" {
		catalogChanged = j.reconcileMissions(ctx, &report)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if catalogChanged && j.progress != nil {
		if _, err := j.progress.RefreshAll(ctx); err != nil {
			report.fail(models.EntityMission, "catalog", fmt.Errorf("refresh progress: %w", err))
		}
	}
	if j.dbs.Leads != "" {
		j.reconcileLeads(ctx, &report)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	j.log.Info("reconcile finished",
		"scanned", report.Scanned, "created", report.Created, "updated", report.Updated,
		"pushed", report.Pushed, "conflicts", len(report.Conflicts), "failures", len(report.Failures),
		"took", time.Since(start))
	return report, nil
}

// present reports whether the page carries the field under its label or an
// alias. Absent properties never overwrite canonical values.
func present(table *schema.Table, props notion.Properties, canonical string) bool {
	f, ok := table.Field(canonical)
	if !ok {
		return false
	}
	if _, ok := props[f.Label]; ok {
		return true
	}
	for _, alias := range f.Aliases {
		if _, ok := props[alias]; ok {
			return true
		}
	}
	return false
}

// diff lists the fields whose page value differs from the canonical one.
func diff(table *schema.Table, page notion.Properties, decoded, canonical schema.Values, fields []string) []string {
	var changed []string
	for _, name := range fields {
		if !present(table, page, name) {
			continue
		}
		if !table.Equal(name, decoded[name], canonical[name]) {
			changed = append(changed, name)
		}
	}
	return changed
}

// syncRecordFor returns the sync record of a canonical row, if any.
func syncRecordFor(ctx context.Context, db *gorm.DB, canonicalID uuid.UUID) (*models.SyncRecord, error) {
	var rec models.SyncRecord
	err := db.WithContext(ctx).Where("canonical_id = ?", canonicalID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func recordByPage(ctx context.Context, db *gorm.DB, pageID string) (*models.SyncRecord, error) {
	var rec models.SyncRecord
	err := db.WithContext(ctx).Where("external_id = ?", pageID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// link records that pageID is the CRM twin of canonicalID. A canonical row
// already linked elsewhere is a conflict.
func (j *Job) link(ctx context.Context, entity, identity string, canonicalID uuid.UUID, pageID string, report *Report) (bool, error) {
	existing, err := syncRecordFor(ctx, j.db, canonicalID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.ExternalID == pageID {
			return false, nil
		}
		report.conflict(entity, identity, []string{existing.ExternalID, pageID})
		return false, &apperr.ConflictError{Entity: entity, Identity: identity}
	}
	rec := models.SyncRecord{
		CanonicalID:  canonicalID,
		EntityType:   entity,
		ExternalID:   pageID,
		LastSyncedAt: j.now(),
	}
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return false, err
	}
	return true, nil
}

// pushUnsynced flushes canonical rows of entity that have no sync record.
// Rows claimed by conflicting pages are left alone until an operator
// resolves the duplicates.
func (j *Job) pushUnsynced(ctx context.Context, entity string, model any, conflicted map[uuid.UUID]bool, report *Report) {
	var ids []uuid.UUID
	synced := j.db.Model(&models.SyncRecord{}).Select("canonical_id").Where("entity_type = ?", entity)
	if err := j.db.WithContext(ctx).Model(model).Where("id NOT IN (?)", synced).Pluck("id", &ids).Error; err != nil {
		report.fail(entity, "unsynced", err)
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if conflicted[id] {
			continue
		}
		if err := j.pusher.FlushOnce(ctx, entity, id); err != nil {
			report.fail(entity, id.String(), err)
			continue
		}
		report.Pushed++
		metrics.ReconcileItems.WithLabelValues(entity, "pushed").Inc()
	}
}

func normalizeKey(s string) string {
	return strings.TrimSpace(s)
}
