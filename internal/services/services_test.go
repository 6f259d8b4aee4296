package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/sirdesai22/leadsync/internal/schema"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type enqueued struct {
	entity  string
	id      uuid.UUID
	changes schema.Values
}

type recordingEnqueuer struct {
	mu     sync.Mutex
	events []enqueued
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, leadID uuid.UUID, changes schema.Values) {
	r.EnqueueEntity(ctx, models.EntityLead, leadID, changes)
}

func (r *recordingEnqueuer) EnqueueEntity(_ context.Context, entity string, id uuid.UUID, changes schema.Values) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, enqueued{entity: entity, id: id, changes: changes})
}

func (r *recordingEnqueuer) all() []enqueued {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]enqueued(nil), r.events...)
}

func (r *recordingEnqueuer) last() enqueued {
	events := r.all()
	if len(events) == 0 {
		return enqueued{}
	}
	return events[len(events)-1]
}

func seedMissions(t *testing.T, db *gorm.DB, keys ...string) {
	t.Helper()
	for i, key := range keys {
		require.NoError(t, db.Create(&models.Mission{
			Key:       key,
			Title:     "Mission " + key,
			Points:    10,
			SortOrder: i,
			Active:    true,
		}).Error)
	}
}

func newLead(t *testing.T, db *gorm.DB, email string) *models.Lead {
	t.Helper()
	lead := &models.Lead{Email: email, Name: "Test Lead"}
	require.NoError(t, db.Create(lead).Error)
	return lead
}
