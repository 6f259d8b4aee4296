package reconcile

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/apperr"
	"github.com/sirdesai22/leadsync/internal/metrics"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/sirdesai22/leadsync/internal/notion"
	"github.com/sirdesai22/leadsync/internal/schema"
	"gorm.io/gorm"
)

// Descriptive mission fields, owned by operators in the CRM.
var missionFields = []string{
	schema.MissionTitle,
	schema.MissionDescription,
	schema.MissionPoints,
	schema.MissionOrder,
	schema.MissionActive,
	schema.MissionActionPath,
}

// missionColumns maps canonical names to struct fields for Select.
var missionColumns = map[string]string{
	schema.MissionTitle:       "Title",
	schema.MissionDescription: "Description",
	schema.MissionPoints:      "Points",
	schema.MissionOrder:       "SortOrder",
	schema.MissionActive:      "Active",
	schema.MissionActionPath:  "ActionPath",
}

type missionPage struct {
	page   notion.Page
	key    string
	values schema.Values
}

// decodeMissionPages groups pages by mission key. The page id stands in for
// a missing key.
func decodeMissionPages(pages []notion.Page) (map[string][]missionPage, []string) {
	groups := make(map[string][]missionPage)
	var order []string
	for _, page := range pages {
		values := schema.MissionTable.Decode(page.Properties)
		key, _ := values[schema.MissionKey].(string)
		key = normalizeKey(key)
		if key == "" {
			key = page.ID
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], missionPage{page: page, key: key, values: values})
	}
	return groups, order
}

func pageIDs[T any](items []T, id func(T) string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = id(item)
	}
	return out
}

// reconcileMissions reports whether the catalog changed.
func (j *Job) reconcileMissions(ctx context.Context, report *Report) bool {
	pages, err := j.crm.QueryAll(ctx, j.dbs.Missions)
	if err != nil {
		report.fail(models.EntityMission, j.dbs.Missions, err)
		return false
	}
	report.Scanned += len(pages)

	groups, order := decodeMissionPages(pages)
	conflicted := make(map[uuid.UUID]bool)
	changed := false
	for _, key := range order {
		if ctx.Err() != nil {
			return changed
		}
		group := groups[key]
		if len(group) > 1 {
			report.conflict(models.EntityMission, key, pageIDs(group, func(p missionPage) string { return p.page.ID }))
			if err := j.claimedMissions(ctx, key, group, conflicted); err != nil {
				report.fail(models.EntityMission, key, err)
			}
			continue
		}
		itemChanged, err := j.reconcileMission(ctx, group[0], report)
		if err != nil {
			if !apperr.IsConflict(err) {
				report.fail(models.EntityMission, key, err)
			}
			continue
		}
		changed = changed || itemChanged
	}

	j.pushUnsynced(ctx, models.EntityMission, &models.Mission{}, conflicted, report)
	return changed
}

// claimedMissions adds the canonical missions a conflicting group refers to,
// by key or by sync record, to claimed.
func (j *Job) claimedMissions(ctx context.Context, key string, group []missionPage, claimed map[uuid.UUID]bool) error {
	var ids []uuid.UUID
	if err := j.db.WithContext(ctx).Model(&models.Mission{}).Where("mission_key = ?", key).Pluck("id", &ids).Error; err != nil {
		return err
	}
	for _, mp := range group {
		rec, err := recordByPage(ctx, j.db, mp.page.ID)
		if err != nil {
			return err
		}
		if rec != nil {
			ids = append(ids, rec.CanonicalID)
		}
	}
	for _, id := range ids {
		claimed[id] = true
	}
	return nil
}

func (j *Job) reconcileMission(ctx context.Context, mp missionPage, report *Report) (bool, error) {
	mission, err := j.missionForPage(ctx, mp)
	if err != nil {
		return false, err
	}

	if mission == nil {
		title, _ := mp.values[schema.MissionTitle].(string)
		if normalizeKey(title) == "" {
			return false, apperr.Invalid(schema.MissionTitle, "mission page has no title")
		}
		mission = &models.Mission{Key: mp.key}
		applyMission(mission, mp.values, missionFields)
		err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(mission).Error; err != nil {
				return err
			}
			return tx.Create(&models.SyncRecord{
				CanonicalID:  mission.ID,
				EntityType:   models.EntityMission,
				ExternalID:   mp.page.ID,
				LastSyncedAt: j.now(),
			}).Error
		})
		if err != nil {
			return false, err
		}
		report.Created++
		metrics.ReconcileItems.WithLabelValues(models.EntityMission, "created").Inc()
		j.log.Info("mission created from CRM", "mission", mp.key, "page_id", mp.page.ID)
		return true, nil
	}

	linked, err := j.link(ctx, models.EntityMission, mp.key, mission.ID, mp.page.ID, report)
	if err != nil {
		return false, err
	}

	fields := diff(schema.MissionTable, mp.page.Properties, mp.values, mission.Values(), missionFields)
	if len(fields) > 0 {
		applyMission(mission, mp.values, fields)
		cols := make([]string, 0, len(fields)+1)
		for _, f := range fields {
			cols = append(cols, missionColumns[f])
		}
		if err := j.db.WithContext(ctx).Model(mission).Select(append(cols, "UpdatedAt")).Updates(mission).Error; err != nil {
			return false, err
		}
		j.log.Info("mission updated from CRM", "mission", mp.key, "fields", fields)
	}
	if linked || len(fields) > 0 {
		report.Updated++
		metrics.ReconcileItems.WithLabelValues(models.EntityMission, "updated").Inc()
	}
	return len(fields) > 0, nil
}

// missionForPage finds the canonical mission a page refers to: first by
// sync record, then by key.
func (j *Job) missionForPage(ctx context.Context, mp missionPage) (*models.Mission, error) {
	db := j.db.WithContext(ctx)
	rec, err := recordByPage(ctx, j.db, mp.page.ID)
	if err != nil {
		return nil, err
	}
	var mission models.Mission
	if rec != nil {
		err := db.First(&mission, "id = ?", rec.CanonicalID).Error
		if err == nil {
			return &mission, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		// Stale record from a replaced catalog.
		if err := db.Delete(&models.SyncRecord{}, rec.ID).Error; err != nil {
			return nil, err
		}
	}
	err = db.Where("mission_key = ?", mp.key).First(&mission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mission, nil
}

func applyMission(m *models.Mission, values schema.Values, fields []string) {
	for _, name := range fields {
		switch v := values[name]; name {
		case schema.MissionTitle:
			m.Title, _ = v.(string)
		case schema.MissionDescription:
			m.Description, _ = v.(string)
		case schema.MissionPoints:
			m.Points, _ = v.(int)
		case schema.MissionOrder:
			m.SortOrder, _ = v.(int)
		case schema.MissionActive:
			m.Active, _ = v.(bool)
		case schema.MissionActionPath:
			m.ActionPath, _ = v.(string)
		}
	}
}
