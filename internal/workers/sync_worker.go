// internal/workers/sync_worker.go
package workers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/metrics"
	"github.com/sirdesai22/leadsync/internal/models"
)

const maxBackoff = 5 * time.Minute

// Run drains the outbox until ctx is cancelled. It wakes on every poll tick
// and whenever Enqueue records an event.
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	b.log.Info("sync worker started", "poll", b.opts.PollInterval, "batch", b.opts.BatchSize)
	for {
		select {
		case <-ctx.Done():
			b.log.Info("sync worker stopped")
			return
		case <-ticker.C:
		case <-b.wake:
		}
		if _, err := b.processOnce(ctx); err != nil && ctx.Err() == nil {
			b.log.Error("worker error", "err", err)
		}
	}
}

// processOnce pushes one batch of due events and returns how many it
// settled successfully.
func (b *Bridge) processOnce(ctx context.Context) (int, error) {
	lease := b.opts.Timeout*time.Duration(b.opts.BatchSize) + time.Minute
	batch, err := ClaimDue(ctx, b.db, b.opts.Now(), b.opts.BatchSize, lease)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	ok := 0
	var touchedLeads []uuid.UUID
	for _, e := range batch {
		if ctx.Err() != nil {
			break
		}
		if err := b.push(ctx, e.EntityType, e.EntityID, payloadFields(e.Payload)); err != nil {
			metrics.FailedEvents.WithLabelValues(e.EntityType).Inc()
			b.fail(ctx, e, err)
			continue
		}
		if err := markProcessed(ctx, b.db, e.ID); err != nil {
			b.log.Error("mark processed failed", "outbox_id", e.ID, "err", err)
			continue
		}
		metrics.ProcessedEvents.WithLabelValues(e.EntityType).Inc()
		if e.EntityType == models.EntityLead {
			touchedLeads = append(touchedLeads, e.EntityID)
		}
		ok++
	}

	b.indexLeads(ctx, touchedLeads)
	b.log.Debug("outbox batch", "claimed", len(batch), "ok", ok)
	return ok, nil
}

func (b *Bridge) fail(ctx context.Context, e models.Outbox, cause error) {
	e.Attempts++
	if e.Attempts >= b.opts.MaxAttempts {
		PutDLQ(ctx, b.db, e, cause.Error(), b.log)
		return
	}
	next := b.opts.Now().Add(backoff(b.opts.PollInterval, e.Attempts))
	if err := scheduleRetry(ctx, b.db, e, next, cause.Error()); err != nil {
		b.log.Error("schedule retry failed", "outbox_id", e.ID, "err", err)
		return
	}
	b.log.Warn("sync push failed", "outbox_id", e.ID, "entity", e.EntityType,
		"entity_id", e.EntityID, "attempt", e.Attempts, "retry_at", next, "err", cause)
}

// backoff doubles base per attempt, capped at maxBackoff.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
