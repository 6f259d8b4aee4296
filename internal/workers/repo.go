// internal/workers/repo.go
// outbox persistence: enqueue, claim, settle and dead-letter sync events
package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/metrics"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/sirdesai22/leadsync/internal/schema"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// outboxPayload is what an event records: the fields that changed and the
// values the writer saw. Pushes re-read values from the canonical row.
type outboxPayload struct {
	Fields []string      `json:"fields"`
	Values schema.Values `json:"values,omitempty"`
}

func encodePayload(changes schema.Values) (datatypes.JSON, error) {
	fields := make([]string, 0, len(changes))
	for name := range changes {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	raw, err := json.Marshal(outboxPayload{Fields: fields, Values: changes})
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// payloadFields returns the changed field names, or nil for a full push.
// An event recorded without changes is a full push.
func payloadFields(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var p outboxPayload
	if err := json.Unmarshal(raw, &p); err != nil || len(p.Fields) == 0 {
		return nil
	}
	return p.Fields
}

// AddOutboxEvent inserts one event into the outbox, due immediately.
func AddOutboxEvent(ctx context.Context, db *gorm.DB, entityType string, entityID uuid.UUID, op string, changes schema.Values, now time.Time) error {
	payload, err := encodePayload(changes)
	if err != nil {
		return err
	}
	event := models.Outbox{
		EntityType:    entityType,
		EntityID:      entityID,
		Op:            op,
		Payload:       payload,
		NextAttemptAt: now,
	}
	return db.WithContext(ctx).Create(&event).Error
}

// ClaimDue leases up to limit due events in id order. The lease pushes
// next_attempt_at forward so a concurrent drain skips them; Postgres also
// skips rows another drain is claiming.
func ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, limit int, lease time.Duration) ([]models.Outbox, error) {
	var evts []models.Outbox
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("processed = ? AND next_attempt_at <= ?", false, now).Order("id ASC").Limit(limit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&evts).Error; err != nil {
			return err
		}
		if len(evts) == 0 {
			return nil
		}
		ids := make([]int64, len(evts))
		for i, e := range evts {
			ids[i] = e.ID
		}
		return tx.Model(&models.Outbox{}).Where("id IN ?", ids).Update("next_attempt_at", now.Add(lease)).Error
	})
	return evts, err
}

func markProcessed(ctx context.Context, db *gorm.DB, id int64) error {
	return db.WithContext(ctx).Model(&models.Outbox{}).Where("id = ?", id).Updates(map[string]any{
		"processed":  true,
		"last_error": "",
	}).Error
}

func scheduleRetry(ctx context.Context, db *gorm.DB, ob models.Outbox, at time.Time, msg string) error {
	return db.WithContext(ctx).Model(&models.Outbox{}).Where("id = ?", ob.ID).Updates(map[string]any{
		"attempts":        ob.Attempts,
		"next_attempt_at": at,
		"last_error":      msg,
	}).Error
}

// PutDLQ moves an exhausted outbox event into the DLQ table and closes it.
func PutDLQ(ctx context.Context, db *gorm.DB, ob models.Outbox, msg string, log *slog.Logger) {
	metrics.DLQEvents.WithLabelValues(ob.EntityType).Inc()
	dlq := models.DLQ{
		OutboxID:   ob.ID,
		EntityType: ob.EntityType,
		EntityID:   ob.EntityID.String(),
		Op:         ob.Op,
		ErrorMsg:   msg,
		Payload:    ob.Payload,
		Attempts:   ob.Attempts,
		CreatedAt:  time.Now().UTC(),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&dlq).Error; err != nil {
			return err
		}
		return tx.Model(&models.Outbox{}).Where("id = ?", ob.ID).Updates(map[string]any{
			"processed":  true,
			"attempts":   ob.Attempts,
			"last_error": msg,
		}).Error
	})
	if err != nil {
		log.Error("failed to insert into DLQ", "outbox_id", ob.ID, "err", err)
		return
	}
	log.Warn("DLQ record created", "outbox_id", ob.ID, "entity", ob.EntityType, "entity_id", ob.EntityID)
}

// ListOutbox returns the newest events; pending restricts to unprocessed.
func ListOutbox(ctx context.Context, db *gorm.DB, pending bool, limit int) ([]models.Outbox, error) {
	var evts []models.Outbox
	q := db.WithContext(ctx).Order("id DESC").Limit(limit)
	if pending {
		q = q.Where("processed = ?", false)
	}
	if err := q.Find(&evts).Error; err != nil {
		return nil, err
	}
	return evts, nil
}

func ListDLQ(ctx context.Context, db *gorm.DB, includeResolved bool, limit int) ([]models.DLQ, error) {
	var rows []models.DLQ
	q := db.WithContext(ctx).Order("id DESC").Limit(limit)
	if !includeResolved {
		q = q.Where("resolved = ?", false)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
