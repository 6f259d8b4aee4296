package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/sirdesai22/leadsync/internal/notion"
	"github.com/sirdesai22/leadsync/internal/schema"
	"github.com/sirdesai22/leadsync/internal/services"
	"github.com/sirdesai22/leadsync/internal/testutil"
	"github.com/sirdesai22/leadsync/internal/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	leadsDB    = "db-leads"
	missionsDB = "db-missions"
)

type fixture struct {
	db       *gorm.DB
	crm      *testutil.FakeCRM
	bridge   *workers.Bridge
	missions *services.MissionService
	job      *Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	crm := testutil.NewFakeCRM()
	log := testutil.Logger()
	bridge := workers.NewBridge(db, crm, log, workers.Options{
		Databases:  workers.Databases{Leads: leadsDB, Missions: missionsDB},
		RateLimit:  1000,
		RateWindow: time.Second,
	})
	missions := services.NewMissionService(db, bridge, log)
	return &fixture{
		db:       db,
		crm:      crm,
		bridge:   bridge,
		missions: missions,
		job:      NewJob(db, crm, bridge, missions, Databases{Leads: leadsDB, Missions: missionsDB}, log),
	}
}

func encode(t *testing.T, table *schema.Table, values schema.Values) notion.Properties {
	t.Helper()
	props, err := table.Encode(values)
	require.NoError(t, err)
	return props
}

func (f *fixture) missionPage(t *testing.T, key, title string, points int, active bool) notion.Page {
	return f.crm.AddPage(missionsDB, encode(t, schema.MissionTable, schema.Values{
		schema.MissionKey:    key,
		schema.MissionTitle:  title,
		schema.MissionPoints: points,
		schema.MissionActive: active,
	}))
}

func (f *fixture) syncedLead(t *testing.T, email string, mutate func(*models.Lead)) *models.Lead {
	t.Helper()
	lead := &models.Lead{Email: email, Name: "Ada", Company: "Analytical"}
	if mutate != nil {
		mutate(lead)
	}
	require.NoError(t, f.db.Create(lead).Error)
	require.NoError(t, f.bridge.FlushOnce(context.Background(), models.EntityLead, lead.ID))
	return lead
}

func (f *fixture) pageOf(t *testing.T, canonicalID any) notion.Page {
	t.Helper()
	var rec models.SyncRecord
	require.NoError(t, f.db.Where("canonical_id = ?", canonicalID).First(&rec).Error)
	page, ok := f.crm.Page(rec.ExternalID)
	require.True(t, ok)
	return page
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.missionPage(t, "scan-badge", "Scan your badge", 10, true)
	f.missionPage(t, "keynote", "Attend the keynote", 20, true)
	f.crm.AddPage(leadsDB, encode(t, schema.LeadTable, schema.Values{
		schema.LeadName:    "Operator Added",
		schema.LeadEmail:   "Walkin@Example.com",
		schema.LeadCompany: "Booth Co",
	}))
	unsynced := &models.Lead{Email: "app@example.com", Name: "App User"}
	require.NoError(t, f.db.Create(unsynced).Error)

	first, err := f.job.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, first.Failures)
	assert.Empty(t, first.Conflicts)
	assert.Equal(t, 3, first.Created)
	assert.Equal(t, 2, first.Pushed)

	var walkin models.Lead
	require.NoError(t, f.db.Where("email = ?", "walkin@example.com").First(&walkin).Error)
	assert.Equal(t, "Booth Co", walkin.Company)
	page := f.pageOf(t, walkin.ID)
	assert.Equal(t, walkin.ID.String(), schema.LeadTable.Decode(page.Properties)[schema.LeadCanonicalID])

	var count int64
	require.NoError(t, f.db.Model(&models.Mission{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)

	second, err := f.job.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Updated)
	assert.Zero(t, second.Pushed)
	assert.Empty(t, second.Failures)
	assert.Equal(t, 4, second.Scanned)
}

func TestReconcileReportsDuplicateClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.missionPage(t, "dup", "One", 1, true)
	b := f.missionPage(t, "dup", "Two", 2, true)
	for _, email := range []string{"twin@example.com", "TWIN@example.com"} {
		f.crm.AddPage(leadsDB, encode(t, schema.LeadTable, schema.Values{schema.LeadEmail: email}))
	}

	report, err := f.job.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 2)
	assert.Equal(t, "dup", report.Conflicts[0].Identity)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, report.Conflicts[0].ExternalIDs)
	assert.Equal(t, "email:twin@example.com", report.Conflicts[1].Identity)

	var missions, leads int64
	require.NoError(t, f.db.Model(&models.Mission{}).Count(&missions).Error)
	require.NoError(t, f.db.Model(&models.Lead{}).Count(&leads).Error)
	assert.Zero(t, missions)
	assert.Zero(t, leads)
}

func TestReconcileNeverOverwritesDerivedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := f.syncedLead(t, "derived@example.com", func(l *models.Lead) {
		l.MissionProgress = 50
		l.Qualified = true
	})
	page := f.pageOf(t, lead.ID)

	edits := encode(t, schema.LeadTable, schema.Values{
		schema.LeadMissionProgress: 99,
		schema.LeadQualified:       false,
		schema.LeadEmail:           "hijack@example.com",
		schema.LeadCompany:         "NewCo",
	})
	for label, prop := range edits {
		f.crm.SetProperty(page.ID, label, prop)
	}

	report, err := f.job.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Pushed)

	var stored models.Lead
	require.NoError(t, f.db.First(&stored, "id = ?", lead.ID).Error)
	assert.Equal(t, 50, stored.MissionProgress)
	assert.True(t, stored.Qualified)
	assert.Equal(t, "derived@example.com", stored.Email)
	assert.Equal(t, "NewCo", stored.Company)

	values := schema.LeadTable.Decode(f.pageOf(t, lead.ID).Properties)
	assert.Equal(t, 50, values[schema.LeadMissionProgress])
	assert.Equal(t, true, values[schema.LeadQualified])
	assert.Equal(t, "derived@example.com", values[schema.LeadEmail])
	assert.Equal(t, "NewCo", values[schema.LeadCompany])
}

func TestReconcileAppliesMissionEditsAndRefreshesProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.missionPage(t, "a", "A", 5, true)
	b := f.missionPage(t, "b", "B", 5, true)
	_, err := f.job.Reconcile(ctx)
	require.NoError(t, err)

	lead := f.syncedLead(t, "progress@example.com", nil)
	p, err := f.missions.RecordCompletion(ctx, lead.ID, "a")
	require.NoError(t, err)
	require.Equal(t, 50, p.Percent)

	f.crm.SetProperty(b.ID, "Active", testutil.Checkbox(false))
	f.crm.SetProperty(b.ID, "Points", testutil.Number(40))

	report, err := f.job.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	var mission models.Mission
	require.NoError(t, f.db.Where("mission_key = ?", "b").First(&mission).Error)
	assert.False(t, mission.Active)
	assert.Equal(t, 40, mission.Points)

	var stored models.Lead
	require.NoError(t, f.db.First(&stored, "id = ?", lead.ID).Error)
	assert.Equal(t, 100, stored.MissionProgress)
	assert.NotNil(t, stored.MissionCompletedAt)
}

func TestReplaceCatalogKeepsCompletions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, key := range []string{"a", "b"} {
		require.NoError(t, f.db.Create(&models.Mission{Key: key, Title: key, Active: true}).Error)
	}
	var oldA models.Mission
	require.NoError(t, f.db.Where("mission_key = ?", "a").First(&oldA).Error)
	lead := &models.Lead{Email: "replace@example.com"}
	require.NoError(t, f.db.Create(lead).Error)
	_, err := f.missions.RecordCompletion(ctx, lead.ID, "a")
	require.NoError(t, err)

	f.missionPage(t, "a", "A renamed", 15, true)
	f.missionPage(t, "c", "C", 5, true)
	f.crm.AddPage(missionsDB, encode(t, schema.MissionTable, schema.Values{schema.MissionKey: "untitled"}))

	report, err := f.job.ReplaceCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "untitled", report.Failures[0].Identity)

	var missions []models.Mission
	require.NoError(t, f.db.Order("mission_key").Find(&missions).Error)
	require.Len(t, missions, 2)
	assert.Equal(t, "a", missions[0].Key)
	assert.Equal(t, "A renamed", missions[0].Title)
	assert.NotEqual(t, oldA.ID, missions[0].ID)
	assert.Equal(t, "c", missions[1].Key)

	var records int64
	require.NoError(t, f.db.Model(&models.SyncRecord{}).Where("entity_type = ?", models.EntityMission).Count(&records).Error)
	assert.EqualValues(t, 2, records)

	p, err := f.missions.ComputeProgress(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, p.Percent)
	var stored models.Lead
	require.NoError(t, f.db.First(&stored, "id = ?", lead.ID).Error)
	assert.Equal(t, 50, stored.MissionProgress)
}

func TestReplaceCatalogRefusesEmptySource(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&models.Mission{Key: "keep", Title: "Keep", Active: true}).Error)

	_, err := f.job.ReplaceCatalog(context.Background())
	require.ErrorIs(t, err, errEmptyCatalog)

	var count int64
	require.NoError(t, f.db.Model(&models.Mission{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

type brokenCRM struct{}

func (brokenCRM) QueryAll(context.Context, string) ([]notion.Page, error) {
	return nil, errors.New("crm down")
}

func TestReconcileRecordsQueryFailures(t *testing.T) {
	f := newFixture(t)
	job := NewJob(f.db, &brokenCRM{}, f.bridge, f.missions, Databases{Leads: leadsDB, Missions: missionsDB}, testutil.Logger())

	report, err := job.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Failures, 2)
}

func TestReconcileRejectsPageWithoutEmail(t *testing.T) {
	f := newFixture(t)
	f.crm.AddPage(leadsDB, encode(t, schema.LeadTable, schema.Values{schema.LeadName: "No Email"}))

	report, err := f.job.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Zero(t, report.Created)
}

func TestReconcileDoesNotPushConflictedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Create(&models.Mission{Key: "dup", Title: "Dup", Active: true}).Error)
	f.missionPage(t, "dup", "One", 1, true)
	f.missionPage(t, "dup", "Two", 2, true)

	lead := &models.Lead{Email: "claimed@example.com"}
	require.NoError(t, f.db.Create(lead).Error)
	for range 2 {
		f.crm.AddPage(leadsDB, encode(t, schema.LeadTable, schema.Values{
			schema.LeadEmail:       lead.Email,
			schema.LeadCanonicalID: lead.ID.String(),
		}))
	}

	for run := range 2 {
		report, err := f.job.Reconcile(ctx)
		require.NoError(t, err)
		require.Len(t, report.Conflicts, 2, "run %d", run)
		assert.Zero(t, report.Pushed, "run %d", run)
		assert.Len(t, report.Conflicts[0].ExternalIDs, 2)
		assert.Len(t, report.Conflicts[1].ExternalIDs, 2)
		assert.Len(t, f.crm.PageIDs(missionsDB), 2)
		assert.Len(t, f.crm.PageIDs(leadsDB), 2)
	}
	assert.Zero(t, f.crm.Creates())
}

func TestReconcileDropsRecordOfDeletedLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gone := f.syncedLead(t, "gone@example.com", nil)
	page := f.pageOf(t, gone.ID)
	require.NoError(t, f.db.Delete(&models.Lead{}, "id = ?", gone.ID).Error)

	report, err := f.job.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 1, report.Created)

	var rec models.SyncRecord
	require.NoError(t, f.db.Where("external_id = ?", page.ID).First(&rec).Error)
	assert.NotEqual(t, gone.ID, rec.CanonicalID)
	var adopted models.Lead
	require.NoError(t, f.db.First(&adopted, "id = ?", rec.CanonicalID).Error)
	assert.Equal(t, "gone@example.com", adopted.Email)

	second, err := f.job.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Failures)
	assert.Zero(t, second.Created)
	assert.Len(t, f.crm.PageIDs(leadsDB), 1)
}
