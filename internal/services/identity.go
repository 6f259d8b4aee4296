package services

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sirdesai22/leadsync/internal/apperr"
	"github.com/sirdesai22/leadsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxEmailLen = 254

// IdentityResolver maps an email address to exactly one canonical lead.
type IdentityResolver struct {
	db   *gorm.DB
	sync Enqueuer
	log  *slog.Logger
}

func NewIdentityResolver(db *gorm.DB, sync Enqueuer, log *slog.Logger) *IdentityResolver {
	return &IdentityResolver{db: db, sync: orNop(sync), log: log}
}

// NormalizeEmail trims and lower-cases a bare address.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperr.Invalid("email", "is required")
	}
	if len(email) > maxEmailLen {
		return "", apperr.Invalid("email", "is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Invalid("email", "is not a valid address")
	}
	return email, nil
}

// Resolve returns the lead for email, creating it on first sight. Concurrent
// callers with the same address all get the same row; only the caller that
// inserted it schedules the CRM create.
func (r *IdentityResolver) Resolve(ctx context.Context, email, nameHint string) (*models.Lead, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	lead, err := r.findByEmail(ctx, email)
	if err == nil {
		return lead, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Unavailable("resolve identity", err)
	}

	lead = &models.Lead{Email: email, Name: strings.TrimSpace(nameHint)}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(lead)
	if res.Error != nil && !isDuplicateKey(res.Error) {
		return nil, apperr.Unavailable("resolve identity", res.Error)
	}
	if res.Error != nil || res.RowsAffected == 0 {
		winner, err := r.findByEmail(ctx, email)
		if err != nil {
			return nil, apperr.Unavailable("resolve identity", err)
		}
		r.log.Debug("lead inserted concurrently", "lead_id", winner.ID)
		return winner, nil
	}

	r.log.Info("lead created", "lead_id", lead.ID)
	r.sync.Enqueue(ctx, lead.ID, lead.Values())
	return lead, nil
}

func (r *IdentityResolver) findByEmail(ctx context.Context, email string) (*models.Lead, error) {
	var lead models.Lead
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&lead).Error; err != nil {
		return nil, err
	}
	return &lead, nil
}
