package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/apperr"
	"github.com/sirdesai22/leadsync/internal/metrics"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/sirdesai22/leadsync/internal/notion"
	"github.com/sirdesai22/leadsync/internal/schema"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CRM is the page API the bridge pushes through.
type CRM interface {
	CreatePage(ctx context.Context, databaseID string, props notion.Properties) (notion.Page, error)
	UpdatePage(ctx context.Context, pageID string, props notion.Properties) (notion.Page, error)
}

// SearchIndex mirrors leads for admin search.
type SearchIndex interface {
	IndexLeads(ctx context.Context, leads []models.Lead) error
}

// Databases maps each entity type to its CRM database id. An empty id
// disables pushes for that entity.
type Databases struct {
	Leads         string
	Missions      string
	RaffleEntries string
	GalleryItems  string
}

type Options struct {
	Databases    Databases
	BatchSize    int
	RateLimit    int
	RateWindow   time.Duration
	Timeout      time.Duration
	MaxAttempts  int
	PollInterval time.Duration
	Search       SearchIndex
	Now          func() time.Time
}

func (o *Options) defaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 3
	}
	if o.RateWindow <= 0 {
		o.RateWindow = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Bridge propagates canonical writes to the CRM. Writers enqueue and move
// on; a single drain goroutine performs the pushes.
type Bridge struct {
	db      *gorm.DB
	crm     CRM
	opts    Options
	limiter *rate.Limiter
	wake    chan struct{}
	log     *slog.Logger
}

func NewBridge(db *gorm.DB, crm CRM, log *slog.Logger, opts Options) *Bridge {
	opts.defaults()
	// Burst of one: calls are spaced RateWindow/RateLimit apart.
	every := opts.RateWindow / time.Duration(opts.RateLimit)
	return &Bridge{
		db:      db,
		crm:     crm,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(every), 1),
		wake:    make(chan struct{}, 1),
		log:     log,
	}
}

// Enqueue schedules a push of the changed lead fields. It never fails the
// caller; a lost event is logged, counted and repaired by reconciliation.
func (b *Bridge) Enqueue(ctx context.Context, leadID uuid.UUID, changes schema.Values) {
	b.EnqueueEntity(ctx, models.EntityLead, leadID, changes)
}

func (b *Bridge) EnqueueEntity(ctx context.Context, entityType string, id uuid.UUID, changes schema.Values) {
	ctx = context.WithoutCancel(ctx)
	if err := AddOutboxEvent(ctx, b.db, entityType, id, models.OpUpsert, changes, b.opts.Now()); err != nil {
		metrics.EnqueueFailures.Inc()
		b.log.Error("failed to create outbox event", "entity", entityType, "entity_id", id, "err", err)
		return
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// FlushOnce pushes the full current state of one entity synchronously.
func (b *Bridge) FlushOnce(ctx context.Context, entityType string, id uuid.UUID) error {
	if err := b.push(ctx, entityType, id, nil); err != nil {
		return err
	}
	if entityType == models.EntityLead {
		b.indexLeads(ctx, []uuid.UUID{id})
	}
	return nil
}

type BatchResult struct {
	Pushed int
	Failed int
	Errors []error
}

// SyncBatch flushes ids in chunks. CRM calls share the bridge's token
// bucket, so a large batch drains at the configured rate.
func (b *Bridge) SyncBatch(ctx context.Context, entityType string, ids []uuid.UUID) BatchResult {
	var res BatchResult
	for start := 0; start < len(ids); start += b.opts.BatchSize {
		end := min(start+b.opts.BatchSize, len(ids))
		for _, id := range ids[start:end] {
			if err := ctx.Err(); err != nil {
				res.Failed += len(ids) - res.Pushed - res.Failed
				res.Errors = append(res.Errors, err)
				return res
			}
			if err := b.FlushOnce(ctx, entityType, id); err != nil {
				res.Failed++
				res.Errors = append(res.Errors, err)
				continue
			}
			res.Pushed++
		}
		b.log.Debug("sync batch chunk", "entity", entityType, "done", end, "total", len(ids))
	}
	return res
}

var errNotConfigured = errors.New("no CRM database configured")

type projection struct {
	databaseID string
	table      *schema.Table
	values     schema.Values
}

// project loads the canonical row and maps it to its CRM shape.
func (b *Bridge) project(ctx context.Context, entityType string, id uuid.UUID) (projection, error) {
	db := b.db.WithContext(ctx)
	switch entityType {
	case models.EntityLead:
		var l models.Lead
		if err := db.First(&l, "id = ?", id).Error; err != nil {
			return projection{}, err
		}
		return projection{b.opts.Databases.Leads, schema.LeadTable, l.Values()}, nil

	case models.EntityMission:
		var m models.Mission
		if err := db.First(&m, "id = ?", id).Error; err != nil {
			return projection{}, err
		}
		return projection{b.opts.Databases.Missions, schema.MissionTable, m.Values()}, nil

	case models.EntityRaffleEntry:
		var r models.RaffleEntry
		if err := db.First(&r, "id = ?", id).Error; err != nil {
			return projection{}, err
		}
		leadPage, err := b.externalID(ctx, r.LeadID)
		if err != nil {
			return projection{}, err
		}
		return projection{b.opts.Databases.RaffleEntries, schema.RaffleTable, r.Values(leadPage)}, nil

	case models.EntityGalleryItem:
		var g models.GalleryItem
		if err := db.First(&g, "id = ?", id).Error; err != nil {
			return projection{}, err
		}
		leadPage, err := b.externalID(ctx, g.LeadID)
		if err != nil {
			return projection{}, err
		}
		return projection{b.opts.Databases.GalleryItems, schema.GalleryTable, g.Values(leadPage)}, nil
	}
	return projection{}, fmt.Errorf("unknown entity_type=%s", entityType)
}

func (b *Bridge) externalID(ctx context.Context, canonicalID uuid.UUID) (string, error) {
	var rec models.SyncRecord
	err := b.db.WithContext(ctx).Where("canonical_id = ?", canonicalID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.ExternalID, nil
}

// push creates the CRM page when the entity has no sync record, otherwise
// updates the named fields (all fields when fields is nil). Failures come
// back as *apperr.SyncError; a failed create writes no sync record.
func (b *Bridge) push(ctx context.Context, entityType string, id uuid.UUID, fields []string) error {
	if b.crm == nil {
		return nil
	}
	proj, err := b.project(ctx, entityType, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		b.log.Debug("canonical row gone, nothing to push", "entity", entityType, "entity_id", id)
		return nil
	}
	if err != nil {
		return &apperr.SyncError{Entity: entityType, ID: id.String(), Op: "load", Err: err}
	}
	if proj.databaseID == "" {
		b.log.Debug("push skipped", "entity", entityType, "reason", errNotConfigured)
		return nil
	}

	var rec models.SyncRecord
	err = b.db.WithContext(ctx).Where("canonical_id = ?", id).First(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return b.create(ctx, entityType, id, proj)
	case err != nil:
		return &apperr.SyncError{Entity: entityType, ID: id.String(), Op: "load", Err: err}
	}

	err = b.update(ctx, entityType, rec, proj, fields)
	if isPageGone(err) {
		b.log.Warn("CRM page missing, recreating", "entity", entityType, "entity_id", id, "page_id", rec.ExternalID)
		if err := b.db.WithContext(ctx).Delete(&models.SyncRecord{}, rec.ID).Error; err != nil {
			return &apperr.SyncError{Entity: entityType, ID: id.String(), Op: "update", Err: err}
		}
		return b.create(ctx, entityType, id, proj)
	}
	return err
}

func (b *Bridge) create(ctx context.Context, entityType string, id uuid.UUID, proj projection) error {
	props, err := proj.table.Encode(proj.values)
	if err != nil {
		return &apperr.SyncError{Entity: entityType, ID: id.String(), Op: "create", Err: err}
	}
	page, err := b.call(ctx, func(ctx context.Context) (notion.Page, error) {
		return b.crm.CreatePage(ctx, proj.databaseID, props)
	})
	if err != nil {
		return &apperr.SyncError{Entity: entityType, ID: id.String(), Op: "create", Err: err}
	}

	rec := models.SyncRecord{
		CanonicalID:  id,
		EntityType:   entityType,
		ExternalID:   page.ID,
		LastSyncedAt: b.opts.Now(),
	}
	err = b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "canonical_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"external_id", "last_synced_at"}),
	}).Create(&rec).Error
	if err != nil {
		return &apperr.SyncError{Entity: entityType, ID: id.String(), Op: "record", Err: err}
	}
	b.log.Info("CRM page created", "entity", entityType, "entity_id", id, "page_id", page.ID)
	return nil
}

func (b *Bridge) update(ctx context.Context, entityType string, rec models.SyncRecord, proj projection, fields []string) error {
	values := proj.values
	if fields != nil {
		values = make(schema.Values, len(fields))
		for _, name := range fields {
			if v, ok := proj.values[name]; ok {
				values[name] = v
			}
		}
	}
	props, err := proj.table.Encode(values)
	if err != nil {
		return &apperr.SyncError{Entity: entityType, ID: rec.CanonicalID.String(), Op: "update", Err: err}
	}
	if len(props) > 0 {
		_, err = b.call(ctx, func(ctx context.Context) (notion.Page, error) {
			return b.crm.UpdatePage(ctx, rec.ExternalID, props)
		})
		if err != nil {
			return &apperr.SyncError{Entity: entityType, ID: rec.CanonicalID.String(), Op: "update", Err: err}
		}
	}
	return b.db.WithContext(ctx).Model(&models.SyncRecord{}).
		Where("id = ?", rec.ID).
		Update("last_synced_at", b.opts.Now()).Error
}

// call waits for a token and bounds the CRM request by the sync timeout.
func (b *Bridge) call(ctx context.Context, fn func(context.Context) (notion.Page, error)) (notion.Page, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return notion.Page{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()
	return fn(callCtx)
}

func isPageGone(err error) bool {
	var apiErr *notion.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (b *Bridge) indexLeads(ctx context.Context, ids []uuid.UUID) {
	if b.opts.Search == nil || len(ids) == 0 {
		return
	}
	var leads []models.Lead
	if err := b.db.WithContext(ctx).Where("id IN ?", ids).Find(&leads).Error; err != nil {
		b.log.Warn("search mirror load failed", "err", err)
		return
	}
	if err := b.opts.Search.IndexLeads(ctx, leads); err != nil {
		b.log.Warn("search mirror index failed", "leads", len(leads), "err", err)
	}
}
