package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/apperr"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/sirdesai22/leadsync/internal/schema"
	"gorm.io/gorm"
)

const (
	maxNameLen     = 200
	maxFieldLen    = 200
	maxInterests   = 20
	maxInterestLen = 100
	maxCaptionLen  = 500
	ticketCodeLen  = 12
)

// ProfileUpdate is a partial profile edit; nil fields are left alone.
type ProfileUpdate struct {
	Name      *string   `json:"name,omitempty"`
	Company   *string   `json:"company,omitempty"`
	JobTitle  *string   `json:"job_title,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	LinkedIn  *string   `json:"linkedin,omitempty"`
	Industry  *string   `json:"industry,omitempty"`
	Interests *[]string `json:"interests,omitempty"`
	Qualified *bool     `json:"qualified,omitempty"`
}

func (u *ProfileUpdate) normalize() error {
	texts := []struct {
		field string
		value *string
		max   int
	}{
		{schema.LeadName, u.Name, maxNameLen},
		{schema.LeadCompany, u.Company, maxFieldLen},
		{schema.LeadJobTitle, u.JobTitle, maxFieldLen},
		{schema.LeadPhone, u.Phone, 32},
		{schema.LeadLinkedIn, u.LinkedIn, maxFieldLen},
		{schema.LeadIndustry, u.Industry, maxInterestLen},
	}
	for _, t := range texts {
		if t.value == nil {
			continue
		}
		*t.value = strings.TrimSpace(*t.value)
		if len([]rune(*t.value)) > t.max {
			return apperr.Invalid(t.field, fmt.Sprintf("must be at most %d characters", t.max))
		}
	}
	if u.Phone != nil && strings.Trim(*u.Phone, "+0123456789 -()") != "" {
		return apperr.Invalid(schema.LeadPhone, "contains invalid characters")
	}
	if u.LinkedIn != nil && *u.LinkedIn != "" {
		parsed, err := url.Parse(*u.LinkedIn)
		if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
			return apperr.Invalid(schema.LeadLinkedIn, "must be an https URL")
		}
	}
	if u.Interests != nil {
		if len(*u.Interests) > maxInterests {
			return apperr.Invalid(schema.LeadInterests, fmt.Sprintf("at most %d entries", maxInterests))
		}
		cleaned := make([]string, 0, len(*u.Interests))
		seen := make(map[string]bool)
		for _, interest := range *u.Interests {
			interest = strings.TrimSpace(interest)
			if interest == "" || seen[interest] {
				continue
			}
			if len([]rune(interest)) > maxInterestLen {
				return apperr.Invalid(schema.LeadInterests, fmt.Sprintf("entries must be at most %d characters", maxInterestLen))
			}
			seen[interest] = true
			cleaned = append(cleaned, interest)
		}
		*u.Interests = cleaned
	}
	return nil
}

// apply copies the set fields onto lead and returns the struct field names
// to write plus the canonical values to push.
func (u *ProfileUpdate) apply(lead *models.Lead) ([]string, schema.Values) {
	var fields []string
	changes := schema.Values{}
	set := func(field, canonical string, value any) {
		fields = append(fields, field)
		changes[canonical] = value
	}
	if u.Name != nil {
		lead.Name = *u.Name
		set("Name", schema.LeadName, lead.Name)
	}
	if u.Company != nil {
		lead.Company = *u.Company
		set("Company", schema.LeadCompany, lead.Company)
	}
	if u.JobTitle != nil {
		lead.JobTitle = *u.JobTitle
		set("JobTitle", schema.LeadJobTitle, lead.JobTitle)
	}
	if u.Phone != nil {
		lead.Phone = *u.Phone
		set("Phone", schema.LeadPhone, lead.Phone)
	}
	if u.LinkedIn != nil {
		lead.LinkedIn = *u.LinkedIn
		set("LinkedIn", schema.LeadLinkedIn, lead.LinkedIn)
	}
	if u.Industry != nil {
		lead.Industry = *u.Industry
		set("Industry", schema.LeadIndustry, lead.Industry)
	}
	if u.Interests != nil {
		lead.Interests = *u.Interests
		set("Interests", schema.LeadInterests, *u.Interests)
	}
	if u.Qualified != nil {
		lead.Qualified = *u.Qualified
		set("Qualified", schema.LeadQualified, lead.Qualified)
	}
	return fields, changes
}

// LeadService owns profile edits and the raffle and gallery side tables.
type LeadService struct {
	db   *gorm.DB
	sync Enqueuer
	log  *slog.Logger
}

func NewLeadService(db *gorm.DB, sync Enqueuer, log *slog.Logger) *LeadService {
	return &LeadService{db: db, sync: orNop(sync), log: log}
}

func (s *LeadService) Get(ctx context.Context, id uuid.UUID) (*models.Lead, error) {
	var lead models.Lead
	if err := s.db.WithContext(ctx).First(&lead, "id = ?", id).Error; err != nil {
		return nil, classify("get lead", "lead", id.String(), err)
	}
	return &lead, nil
}

// UpdateProfile writes the set fields in one transaction, then schedules a
// partial CRM update carrying only those fields.
func (s *LeadService) UpdateProfile(ctx context.Context, id uuid.UUID, update ProfileUpdate) error {
	if err := update.normalize(); err != nil {
		return err
	}

	var changes schema.Values
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lead models.Lead
		if err := forUpdate(tx).First(&lead, "id = ?", id).Error; err != nil {
			return err
		}
		var fields []string
		fields, changes = update.apply(&lead)
		if len(fields) == 0 {
			return nil
		}
		return tx.Model(&lead).Select(append(fields, "UpdatedAt")).Updates(&lead).Error
	})
	if err != nil {
		return classify("update lead", "lead", id.String(), err)
	}
	if len(changes) == 0 {
		return nil
	}

	s.log.Info("lead profile updated", "lead_id", id, "fields", len(changes))
	s.sync.Enqueue(ctx, id, changes)
	return nil
}

func (s *LeadService) CreateRaffleEntry(ctx context.Context, leadID uuid.UUID, prize string) (*models.RaffleEntry, error) {
	prize = strings.TrimSpace(prize)
	if len([]rune(prize)) > maxFieldLen {
		return nil, apperr.Invalid("prize", fmt.Sprintf("must be at most %d characters", maxFieldLen))
	}
	if _, err := s.Get(ctx, leadID); err != nil {
		return nil, err
	}

	entry := &models.RaffleEntry{
		LeadID:     leadID,
		TicketCode: newTicketCode(),
		Prize:      prize,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, apperr.Unavailable("create raffle entry", err)
	}
	s.sync.EnqueueEntity(ctx, models.EntityRaffleEntry, entry.ID, entry.Values(""))
	return entry, nil
}

func (s *LeadService) CreateGalleryItem(ctx context.Context, leadID uuid.UUID, caption, imageKey string) (*models.GalleryItem, error) {
	caption = strings.TrimSpace(caption)
	imageKey = strings.TrimSpace(imageKey)
	if imageKey == "" {
		return nil, apperr.Invalid("image_key", "is required")
	}
	if len([]rune(caption)) > maxCaptionLen {
		return nil, apperr.Invalid("caption", fmt.Sprintf("must be at most %d characters", maxCaptionLen))
	}
	if _, err := s.Get(ctx, leadID); err != nil {
		return nil, err
	}

	item := &models.GalleryItem{LeadID: leadID, Caption: caption, ImageKey: imageKey}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, apperr.Unavailable("create gallery item", err)
	}
	s.sync.EnqueueEntity(ctx, models.EntityGalleryItem, item.ID, item.Values(""))
	return item, nil
}

func newTicketCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:ticketCodeLen])
}

