package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/apperr"
	"github.com/sirdesai22/leadsync/internal/metrics"
	"github.com/sirdesai22/leadsync/internal/models"
	"gorm.io/gorm"
)

// RetryDLQ periodically re-pushes unresolved DLQ entries. Entries that
// still fail stay in the DLQ for the next round.
func (b *Bridge) RetryDLQ(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var dlqs []models.DLQ
			if err := b.db.WithContext(ctx).Where("resolved = ?", false).Order("id").Limit(b.opts.BatchSize).Find(&dlqs).Error; err != nil {
				b.log.Error("DLQ fetch error", "err", err)
				continue
			}
			for _, d := range dlqs {
				if err := b.retryDLQ(ctx, d); err != nil {
					b.log.Warn("DLQ retry failed", "dlq_id", d.ID, "err", err)
				}
			}
		}
	}
}

// RetryDLQEntry re-pushes one DLQ entry on demand.
func (b *Bridge) RetryDLQEntry(ctx context.Context, id int64) error {
	var d models.DLQ
	if err := b.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("dlq entry", fmt.Sprint(id))
		}
		return apperr.Unavailable("load dlq entry", err)
	}
	if d.Resolved {
		return nil
	}
	return b.retryDLQ(ctx, d)
}

func (b *Bridge) retryDLQ(ctx context.Context, d models.DLQ) error {
	entityID, err := uuid.Parse(d.EntityID)
	if err != nil {
		return fmt.Errorf("dlq %d: bad entity id: %w", d.ID, err)
	}
	b.log.Info("retrying DLQ entry", "dlq_id", d.ID, "entity", d.EntityType, "op", d.Op)
	if err := b.FlushOnce(ctx, d.EntityType, entityID); err != nil {
		return err
	}

	now := b.opts.Now()
	err = b.db.WithContext(ctx).Model(&models.DLQ{}).Where("id = ?", d.ID).Updates(map[string]any{
		"resolved":   true,
		"retried_at": &now,
	}).Error
	if err != nil {
		return err
	}
	metrics.ProcessedEvents.WithLabelValues(d.EntityType).Inc()
	b.log.Info("DLQ entry resolved", "dlq_id", d.ID)
	return nil
}
