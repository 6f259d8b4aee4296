package reconcile

import (
	"context"

	"github.com/sirdesai22/leadsync/internal/apperr"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/sirdesai22/leadsync/internal/schema"
	"gorm.io/gorm"
)

var errEmptyCatalog = apperr.Invalid("missions_db", "returned no usable pages")

// ReplaceCatalog rebuilds the mission table from the CRM in one
// transaction. Completions reference mission keys, so they survive the new
// storage ids. Conflicting keys and untitled pages are left out.
func (j *Job) ReplaceCatalog(ctx context.Context) (Report, error) {
	report := Report{Conflicts: []*apperr.ConflictError{}, Failures: []Failure{}}
	if j.dbs.Missions == "" {
		return report, apperr.Invalid("missions_db", "is not configured")
	}

	pages, err := j.crm.QueryAll(ctx, j.dbs.Missions)
	if err != nil {
		return report, err
	}
	report.Scanned = len(pages)

	type entry struct {
		mission models.Mission
		pageID  string
	}
	groups, order := decodeMissionPages(pages)
	var entries []entry
	for _, key := range order {
		group := groups[key]
		if len(group) > 1 {
			report.conflict(models.EntityMission, key, pageIDs(group, func(p missionPage) string { return p.page.ID }))
			continue
		}
		mp := group[0]
		m := models.Mission{Key: key}
		applyMission(&m, mp.values, missionFields)
		if normalizeKey(m.Title) == "" {
			report.fail(models.EntityMission, key, apperr.Invalid(schema.MissionTitle, "mission page has no title"))
			continue
		}
		entries = append(entries, entry{mission: m, pageID: mp.page.ID})
	}
	if len(entries) == 0 {
		return report, errEmptyCatalog
	}

	err = j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("entity_type = ?", models.EntityMission).Delete(&models.SyncRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&models.Mission{}).Error; err != nil {
			return err
		}
		for i := range entries {
			if err := tx.Create(&entries[i].mission).Error; err != nil {
				return err
			}
			if err := tx.Create(&models.SyncRecord{
				CanonicalID:  entries[i].mission.ID,
				EntityType:   models.EntityMission,
				ExternalID:   entries[i].pageID,
				LastSyncedAt: j.now(),
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return report, apperr.Unavailable("replace catalog", err)
	}
	report.Created = len(entries)
	j.log.Info("mission catalog replaced", "missions", len(entries), "conflicts", len(report.Conflicts))

	if j.progress != nil {
		if _, err := j.progress.RefreshAll(ctx); err != nil {
			report.fail(models.EntityMission, "catalog", err)
		}
	}
	return report, nil
}
