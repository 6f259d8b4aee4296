package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entity types shared by the outbox, sync records and the DLQ.
const (
	EntityLead        = "lead"
	EntityMission     = "mission"
	EntityRaffleEntry = "raffle_entry"
	EntityGalleryItem = "gallery_item"
)

const (
	OpCreate = "CREATE"
	OpUpsert = "UPSERT"
)

// ---------------- LEADS ----------------
type Lead struct {
	ID                 uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Email              string                      `gorm:"uniqueIndex;not null" json:"email"`
	Name               string                      `json:"name"`
	Company            string                      `json:"company"`
	JobTitle           string                      `json:"job_title"`
	Phone              string                      `json:"phone"`
	LinkedIn           string                      `json:"linkedin"`
	Industry           string                      `json:"industry"`
	Interests          datatypes.JSONSlice[string] `json:"interests"`
	Qualified          bool                        `json:"qualified"`
	MissionProgress    int                         `gorm:"not null;default:0" json:"mission_progress"`
	MissionCompletedAt *time.Time                  `json:"mission_completed_at"`
	CreatedAt          time.Time                   `json:"created_at"`
	UpdatedAt          time.Time                   `json:"updated_at"`
}

func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// ---------------- MISSIONS ----------------
// Key is the stable natural identifier; ID is storage only and changes when
// the catalog is replaced wholesale.
type Mission struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Key         string    `gorm:"column:mission_key;uniqueIndex;not null" json:"key" yaml:"key"`
	Title       string    `gorm:"not null" json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	Points      int       `json:"points" yaml:"points"`
	SortOrder   int       `gorm:"index" json:"order" yaml:"order"`
	Active      bool      `json:"active" yaml:"active"`
	ActionPath  string    `json:"action_path,omitempty" yaml:"action_path"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

func (m *Mission) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

type MissionCompletion struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	LeadID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_completion_lead_mission"`
	MissionKey string    `gorm:"not null;uniqueIndex:idx_completion_lead_mission"`
	CreatedAt  time.Time
}

// ---------------- SYNC RECORDS ----------------
// At most one row per canonical id; absence means "not yet synced".
type SyncRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CanonicalID  uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"canonical_id"`
	EntityType   string    `gorm:"index;not null" json:"entity_type"`
	ExternalID   string    `gorm:"uniqueIndex;not null" json:"external_id"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// ---------------- RAFFLE / GALLERY ----------------
type RaffleEntry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	LeadID     uuid.UUID `gorm:"type:uuid;index;not null" json:"lead_id"`
	TicketCode string    `gorm:"uniqueIndex;not null" json:"ticket_code"`
	Prize      string    `json:"prize"`
	Winner     bool      `json:"winner"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r *RaffleEntry) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

type GalleryItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	LeadID    uuid.UUID `gorm:"type:uuid;index;not null" json:"lead_id"`
	Caption   string    `json:"caption"`
	ImageKey  string    `gorm:"not null" json:"image_key"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"created_at"`
}

func (g *GalleryItem) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// ---------------- OUTBOX (for sync events) ----------------
type Outbox struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityType    string         `gorm:"index;not null" json:"entity_type"`
	EntityID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"entity_id"`
	Op            string         `gorm:"not null" json:"op"` // CREATE | UPSERT
	Payload       datatypes.JSON `json:"payload"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt time.Time      `gorm:"index" json:"next_attempt_at"`
	LastError     string         `json:"last_error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	Processed     bool           `gorm:"default:false" json:"processed"`
}
