package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/schema"
)

// Enqueuer schedules an outbound CRM push for a canonical row. It is called
// after the canonical transaction commits and must never fail the caller.
type Enqueuer interface {
	Enqueue(ctx context.Context, leadID uuid.UUID, changes schema.Values)
	EnqueueEntity(ctx context.Context, entityType string, id uuid.UUID, changes schema.Values)
}

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(context.Context, uuid.UUID, schema.Values) {}

func (nopEnqueuer) EnqueueEntity(context.Context, string, uuid.UUID, schema.Values) {}

func orNop(e Enqueuer) Enqueuer {
	if e == nil {
		return nopEnqueuer{}
	}
	return e
}
