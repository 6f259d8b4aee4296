package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/apperr"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/sirdesai22/leadsync/internal/notion"
	"github.com/sirdesai22/leadsync/internal/schema"
	"github.com/sirdesai22/leadsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	leadsDB    = "db-leads"
	missionsDB = "db-missions"
	raffleDB   = "db-raffle"
)

type recordingIndex struct {
	mu    sync.Mutex
	leads []models.Lead
}

func (r *recordingIndex) IndexLeads(_ context.Context, leads []models.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leads = append(r.leads, leads...)
	return nil
}

type fixture struct {
	db     *gorm.DB
	crm    *testutil.FakeCRM
	clock  *testutil.Clock
	bridge *Bridge
	index  *recordingIndex
}

func newFixture(t *testing.T, tweak func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		db:    testutil.NewDB(t),
		crm:   testutil.NewFakeCRM(),
		clock: testutil.NewClock(time.Date(2026, 5, 14, 9, 0, 0, 0, time.UTC)),
		index: &recordingIndex{},
	}
	opts := Options{
		Databases:    Databases{Leads: leadsDB, Missions: missionsDB, RaffleEntries: raffleDB},
		BatchSize:    10,
		RateLimit:    1000,
		RateWindow:   time.Second,
		Timeout:      time.Second,
		MaxAttempts:  3,
		PollInterval: time.Second,
		Search:       f.index,
		Now:          f.clock.Now,
	}
	if tweak != nil {
		tweak(&opts)
	}
	f.bridge = NewBridge(f.db, f.crm, testutil.Logger(), opts)
	return f
}

func (f *fixture) lead(t *testing.T, email string) *models.Lead {
	t.Helper()
	lead := &models.Lead{Email: email, Name: "Ada", Company: "Analytical"}
	require.NoError(t, f.db.Create(lead).Error)
	return lead
}

func (f *fixture) syncRecord(t *testing.T, id uuid.UUID) (models.SyncRecord, bool) {
	t.Helper()
	var rec models.SyncRecord
	err := f.db.Where("canonical_id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, false
	}
	require.NoError(t, err)
	return rec, true
}

func label(t *testing.T, table *schema.Table, canonical string) string {
	t.Helper()
	field, ok := table.Field(canonical)
	require.True(t, ok)
	return field.Label
}

func TestDrainCreatesPageAndSyncRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	lead := f.lead(t, "ada@example.com")

	f.bridge.Enqueue(ctx, lead.ID, lead.Values())
	n, err := f.bridge.processOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, ok := f.syncRecord(t, lead.ID)
	require.True(t, ok)
	assert.Equal(t, models.EntityLead, rec.EntityType)

	page, ok := f.crm.Page(rec.ExternalID)
	require.True(t, ok)
	values := schema.LeadTable.Decode(page.Properties)
	assert.Equal(t, "ada@example.com", values[schema.LeadEmail])
	assert.Equal(t, lead.ID.String(), values[schema.LeadCanonicalID])
	assert.Equal(t, "Analytical", values[schema.LeadCompany])

	var ob models.Outbox
	require.NoError(t, f.db.First(&ob).Error)
	assert.True(t, ob.Processed)

	f.index.mu.Lock()
	defer f.index.mu.Unlock()
	require.Len(t, f.index.leads, 1)
	assert.Equal(t, lead.ID, f.index.leads[0].ID)
}

func TestDrainUpdatesOnlyChangedFieldsWithFreshValues(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	lead := f.lead(t, "partial@example.com")
	require.NoError(t, f.bridge.FlushOnce(ctx, models.EntityLead, lead.ID))

	require.NoError(t, f.db.Model(lead).Update("job_title", "CTO").Error)
	f.bridge.Enqueue(ctx, lead.ID, schema.Values{schema.LeadJobTitle: "stale value"})
	_, err := f.bridge.processOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, f.crm.Creates())
	assert.Equal(t, 1, f.crm.Updates())
	last := f.crm.LastUpdate()
	require.Len(t, last, 1)
	jobTitle := label(t, schema.LeadTable, schema.LeadJobTitle)
	assert.Equal(t, "CTO", last[jobTitle].PlainText())
}

func TestCreateTimeoutLeavesNoSyncRecord(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Timeout = 30 * time.Millisecond })
	ctx := context.Background()
	lead := f.lead(t, "slow@example.com")

	f.crm.BlockCreates(true)
	err := f.bridge.FlushOnce(ctx, models.EntityLead, lead.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsSync(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok := f.syncRecord(t, lead.ID)
	assert.False(t, ok)

	f.crm.BlockCreates(false)
	f.bridge.Enqueue(ctx, lead.ID, schema.Values{schema.LeadName: "Ada"})
	_, err = f.bridge.processOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, f.crm.Creates())
	rec, ok := f.syncRecord(t, lead.ID)
	require.True(t, ok)
	page, _ := f.crm.Page(rec.ExternalID)
	assert.Equal(t, "slow@example.com", schema.LeadTable.Decode(page.Properties)[schema.LeadEmail])
}

func TestFailedPushBacksOffThenDeadLetters(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxAttempts = 2 })
	ctx := context.Background()
	lead := f.lead(t, "flaky@example.com")
	f.crm.FailCreates(&notion.APIError{Status: 500, Message: "boom"})

	f.bridge.Enqueue(ctx, lead.ID, lead.Values())
	n, err := f.bridge.processOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	var ob models.Outbox
	require.NoError(t, f.db.First(&ob).Error)
	assert.Equal(t, 1, ob.Attempts)
	assert.False(t, ob.Processed)
	assert.Contains(t, ob.LastError, "boom")
	assert.True(t, ob.NextAttemptAt.After(f.clock.Now()))

	// Not due yet.
	_, err = f.bridge.processOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.crm.Creates())

	f.clock.Advance(2 * time.Second)
	_, err = f.bridge.processOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.crm.Creates())

	dlq, err := ListDLQ(ctx, f.db, false, 10)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, lead.ID.String(), dlq[0].EntityID)
	assert.Equal(t, 2, dlq[0].Attempts)

	pending, err := ListOutbox(ctx, f.db, true, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	f.crm.FailCreates(nil)
	require.NoError(t, f.bridge.RetryDLQEntry(ctx, dlq[0].ID))
	_, ok := f.syncRecord(t, lead.ID)
	assert.True(t, ok)

	dlq, err = ListDLQ(ctx, f.db, false, 10)
	require.NoError(t, err)
	assert.Empty(t, dlq)

	assert.True(t, apperr.IsNotFound(f.bridge.RetryDLQEntry(ctx, 999)))
}

func TestSyncBatchIsThrottled(t *testing.T) {
	const (
		limit  = 3
		window = 300 * time.Millisecond
	)
	f := newFixture(t, func(o *Options) {
		o.RateLimit = limit
		o.RateWindow = window
		o.BatchSize = 4
	})
	ctx := context.Background()
	var ids []uuid.UUID
	for i := range 9 {
		ids = append(ids, f.lead(t, fmt.Sprintf("lead%d@x.io", i)).ID)
	}

	start := time.Now()
	res := f.bridge.SyncBatch(ctx, models.EntityLead, ids)
	elapsed := time.Since(start)

	assert.Equal(t, 9, res.Pushed)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 9, f.crm.Creates())
	// One call every 100ms: the ninth starts 800ms after the first.
	assert.GreaterOrEqual(t, elapsed, 750*time.Millisecond)
	// Scheduler jitter can pull a late call toward the next one, so the
	// sliding window is shaved slightly.
	assert.LessOrEqual(t, f.crm.MaxCallsWithin(window-20*time.Millisecond), limit)
}

func TestSyncBatchCollectsFailures(t *testing.T) {
	f := newFixture(t, nil)
	lead := f.lead(t, "fail@example.com")
	f.crm.FailCreates(errors.New("unreachable"))

	res := f.bridge.SyncBatch(context.Background(), models.EntityLead, []uuid.UUID{lead.ID})
	assert.Zero(t, res.Pushed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.True(t, apperr.IsSync(res.Errors[0]))
}

func TestRaffleEntryCarriesLeadRelation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	lead := f.lead(t, "raffle@example.com")
	require.NoError(t, f.bridge.FlushOnce(ctx, models.EntityLead, lead.ID))
	leadRec, _ := f.syncRecord(t, lead.ID)

	entry := &models.RaffleEntry{LeadID: lead.ID, TicketCode: "T-1", Prize: "Drone"}
	require.NoError(t, f.db.Create(entry).Error)
	f.bridge.EnqueueEntity(ctx, models.EntityRaffleEntry, entry.ID, entry.Values(""))
	_, err := f.bridge.processOnce(ctx)
	require.NoError(t, err)

	rec, ok := f.syncRecord(t, entry.ID)
	require.True(t, ok)
	page, _ := f.crm.Page(rec.ExternalID)
	values := schema.RaffleTable.Decode(page.Properties)
	assert.Equal(t, []string{leadRec.ExternalID}, values[schema.RaffleLead])
	assert.Equal(t, "T-1", values[schema.RaffleTicket])
}

func TestUnconfiguredDatabaseIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := &models.GalleryItem{LeadID: uuid.New(), ImageKey: "img.png"}
	require.NoError(t, f.db.Create(item).Error)

	f.bridge.EnqueueEntity(ctx, models.EntityGalleryItem, item.ID, item.Values(""))
	n, err := f.bridge.processOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.crm.Creates())
}

func TestMissingPageIsRecreated(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	lead := f.lead(t, "gone@example.com")
	require.NoError(t, f.db.Create(&models.SyncRecord{
		CanonicalID:  lead.ID,
		EntityType:   models.EntityLead,
		ExternalID:   "deleted-page",
		LastSyncedAt: f.clock.Now(),
	}).Error)

	require.NoError(t, f.bridge.FlushOnce(ctx, models.EntityLead, lead.ID))

	rec, ok := f.syncRecord(t, lead.ID)
	require.True(t, ok)
	assert.NotEqual(t, "deleted-page", rec.ExternalID)
	assert.Equal(t, 1, f.crm.Creates())
}

func TestRunDrainsOnWake(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.PollInterval = time.Hour })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.bridge.Run(ctx)
	}()

	lead := f.lead(t, "wake@example.com")
	f.bridge.Enqueue(ctx, lead.ID, lead.Values())

	assert.Eventually(t, func() bool { return f.crm.Creates() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, 1))
	assert.Equal(t, 4*time.Second, backoff(time.Second, 3))
	assert.Equal(t, maxBackoff, backoff(time.Second, 30))
}
