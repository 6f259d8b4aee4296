package models

import "time"

// DLQ holds outbox events that exhausted their retry budget.
type DLQ struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OutboxID   int64      `gorm:"index" json:"outbox_id"`
	EntityType string     `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Op         string     `json:"op"`
	ErrorMsg   string     `json:"error"`
	Payload    []byte     `gorm:"type:bytea" json:"payload,omitempty"`
	Attempts   int        `json:"attempts"`
	CreatedAt  time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	RetriedAt  *time.Time `json:"retried_at,omitempty"`
	Resolved   bool       `gorm:"default:false" json:"resolved"`
}
