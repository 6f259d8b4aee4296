package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/apperr"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/sirdesai22/leadsync/internal/schema"
	"github.com/sirdesai22/leadsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notification struct {
	leadID uuid.UUID
	at     time.Time
}

type recordingNotifier struct {
	calls []notification
	err   error
}

func (n *recordingNotifier) MissionsCompleted(_ context.Context, lead models.Lead, at time.Time) error {
	n.calls = append(n.calls, notification{leadID: lead.ID, at: at})
	return n.err
}

func TestPercentOf(t *testing.T) {
	cases := []struct {
		done, active int64
		want         int
	}{
		{0, 0, 0},
		{3, 0, 0},
		{0, 4, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{2, 4, 50},
		{4, 5, 80},
		{4, 4, 100},
		{5, 4, 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, percentOf(tc.done, tc.active), "%d/%d", tc.done, tc.active)
	}
}

func TestMissionScenarioCatalogGrows(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2026, 5, 14, 9, 0, 0, 0, time.UTC))
	rec := &recordingEnqueuer{}
	notifier := &recordingNotifier{}
	svc := NewMissionService(db, rec, testutil.Logger(), WithClock(clock.Now), WithNotifier(notifier))
	ctx := context.Background()

	seedMissions(t, db, "m1", "m2", "m3", "m4")
	lead := newLead(t, db, "ada@example.com")

	_, err := svc.RecordCompletion(ctx, lead.ID, "m1")
	require.NoError(t, err)
	p, err := svc.RecordCompletion(ctx, lead.ID, "m2")
	require.NoError(t, err)
	assert.Equal(t, 50, p.Percent)
	assert.Nil(t, p.CompletedAt)
	assert.Equal(t, schema.Values{schema.LeadMissionProgress: 50}, rec.last().changes)

	_, err = svc.RecordCompletion(ctx, lead.ID, "m3")
	require.NoError(t, err)
	finishedAt := clock.Advance(time.Hour)
	p, err = svc.RecordCompletion(ctx, lead.ID, "m4")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Percent)
	require.NotNil(t, p.CompletedAt)
	assert.True(t, finishedAt.Equal(*p.CompletedAt))
	assert.Contains(t, rec.last().changes, schema.LeadMissionCompletedAt)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, lead.ID, notifier.calls[0].leadID)

	clock.Advance(time.Hour)
	_, err = svc.UpsertMission(ctx, "m5", MissionInput{Title: "Fifth", Points: 5, Active: true})
	require.NoError(t, err)

	p, err = svc.ComputeProgress(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, p.Percent)
	require.NotNil(t, p.CompletedAt)
	assert.WithinDuration(t, finishedAt, *p.CompletedAt, time.Millisecond)

	var stored models.Lead
	require.NoError(t, db.First(&stored, "id = ?", lead.ID).Error)
	assert.Equal(t, 80, stored.MissionProgress)
	require.NotNil(t, stored.MissionCompletedAt)
	assert.WithinDuration(t, finishedAt, *stored.MissionCompletedAt, time.Millisecond)

	// Back to 100 does not restamp or renotify.
	_, err = svc.RecordCompletion(ctx, lead.ID, "m5")
	require.NoError(t, err)
	p, err = svc.ComputeProgress(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, p.Percent)
	assert.WithinDuration(t, finishedAt, *p.CompletedAt, time.Millisecond)
	assert.Len(t, notifier.calls, 1)
}

func TestRecordCompletionIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	rec := &recordingEnqueuer{}
	svc := NewMissionService(db, rec, testutil.Logger())
	ctx := context.Background()

	seedMissions(t, db, "solo")
	lead := newLead(t, db, "solo@example.com")

	first, err := svc.RecordCompletion(ctx, lead.ID, "solo")
	require.NoError(t, err)
	assert.Equal(t, 100, first.Percent)
	eventsAfterFirst := len(rec.all())

	again, err := svc.RecordCompletion(ctx, lead.ID, " solo ")
	require.NoError(t, err)
	assert.Equal(t, 100, again.Percent)
	require.NotNil(t, again.CompletedAt)
	assert.WithinDuration(t, *first.CompletedAt, *again.CompletedAt, time.Millisecond)
	assert.Len(t, rec.all(), eventsAfterFirst)

	var count int64
	require.NoError(t, db.Model(&models.MissionCompletion{}).Where("lead_id = ?", lead.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRetiringCompletedMissionNeverLowersPercent(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewMissionService(db, nil, testutil.Logger())
	ctx := context.Background()

	seedMissions(t, db, "a", "b", "c", "d")
	lead := newLead(t, db, "retire@example.com")
	for _, key := range []string{"a", "b"} {
		_, err := svc.RecordCompletion(ctx, lead.ID, key)
		require.NoError(t, err)
	}
	before, err := svc.ComputeProgress(ctx, lead.ID)
	require.NoError(t, err)
	require.Equal(t, 50, before.Percent)

	_, err = svc.UpsertMission(ctx, "a", MissionInput{Title: "Mission a", Active: false})
	require.NoError(t, err)

	after, err := svc.ComputeProgress(ctx, lead.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, after.Percent, before.Percent)
	assert.Equal(t, 67, after.Percent)
}

func TestIdenticalTitlesAreDistinctMissions(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewMissionService(db, nil, testutil.Logger())
	ctx := context.Background()

	for _, key := range []string{"booth-a", "booth-b"} {
		require.NoError(t, db.Create(&models.Mission{Key: key, Title: "Visit the booth", Active: true}).Error)
	}
	lead := newLead(t, db, "twins@example.com")

	p, err := svc.RecordCompletion(ctx, lead.ID, "booth-a")
	require.NoError(t, err)
	assert.Equal(t, 50, p.Percent)
	p, err = svc.RecordCompletion(ctx, lead.ID, "booth-b")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Percent)

	var keys []string
	require.NoError(t, db.Model(&models.MissionCompletion{}).Where("lead_id = ?", lead.ID).Order("mission_key").Pluck("mission_key", &keys).Error)
	assert.Equal(t, []string{"booth-a", "booth-b"}, keys)
}

func TestRecordCompletionErrors(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewMissionService(db, nil, testutil.Logger())
	ctx := context.Background()

	seedMissions(t, db, "live")
	require.NoError(t, db.Create(&models.Mission{Key: "retired", Title: "Old", Active: false}).Error)
	lead := newLead(t, db, "errors@example.com")

	_, err := svc.RecordCompletion(ctx, uuid.New(), "live")
	assert.True(t, apperr.IsNotFound(err))

	_, err = svc.RecordCompletion(ctx, lead.ID, "missing")
	var nf *apperr.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "mission", nf.Entity)

	_, err = svc.RecordCompletion(ctx, lead.ID, "retired")
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.RecordCompletion(ctx, lead.ID, "  ")
	assert.True(t, apperr.IsValidation(err))
}

func TestComputeProgressWithEmptyCatalog(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewMissionService(db, nil, testutil.Logger())
	lead := newLead(t, db, "empty@example.com")

	p, err := svc.ComputeProgress(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Percent)
	assert.Nil(t, p.CompletedAt)
}

func TestResetLead(t *testing.T) {
	db := testutil.NewDB(t)
	rec := &recordingEnqueuer{}
	svc := NewMissionService(db, rec, testutil.Logger())
	ctx := context.Background()

	seedMissions(t, db, "only")
	lead := newLead(t, db, "reset@example.com")
	_, err := svc.RecordCompletion(ctx, lead.ID, "only")
	require.NoError(t, err)

	require.NoError(t, svc.ResetLead(ctx, lead.ID))

	var stored models.Lead
	require.NoError(t, db.First(&stored, "id = ?", lead.ID).Error)
	assert.Zero(t, stored.MissionProgress)
	assert.Nil(t, stored.MissionCompletedAt)
	assert.Equal(t, 0, rec.last().changes[schema.LeadMissionProgress])

	assert.True(t, apperr.IsNotFound(svc.ResetLead(ctx, uuid.New())))
}

func TestListActiveMissionsOrdered(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewMissionService(db, nil, testutil.Logger())

	require.NoError(t, db.Create(&models.Mission{Key: "z", Title: "Z", SortOrder: 1, Active: true}).Error)
	require.NoError(t, db.Create(&models.Mission{Key: "a", Title: "A", SortOrder: 2, Active: true}).Error)
	require.NoError(t, db.Create(&models.Mission{Key: "off", Title: "Off", SortOrder: 0}).Error)

	missions, err := svc.ListActiveMissions(context.Background())
	require.NoError(t, err)
	require.Len(t, missions, 2)
	assert.Equal(t, "z", missions[0].Key)
	assert.Equal(t, "a", missions[1].Key)
}
