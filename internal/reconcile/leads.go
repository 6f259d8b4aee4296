package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/apperr"
	"github.com/sirdesai22/leadsync/internal/metrics"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/sirdesai22/leadsync/internal/notion"
	"github.com/sirdesai22/leadsync/internal/schema"
	"github.com/sirdesai22/leadsync/internal/services"
	"gorm.io/gorm"
)

// Operator-curated lead fields. The CRM value wins.
var leadDescriptive = []string{
	schema.LeadName,
	schema.LeadCompany,
	schema.LeadJobTitle,
	schema.LeadPhone,
	schema.LeadLinkedIn,
	schema.LeadIndustry,
	schema.LeadInterests,
}

// Application-derived lead fields. The canonical value wins.
var leadDerived = []string{
	schema.LeadEmail,
	schema.LeadCanonicalID,
	schema.LeadQualified,
	schema.LeadMissionProgress,
	schema.LeadMissionCompletedAt,
}

var leadColumns = map[string]string{
	schema.LeadName:      "Name",
	schema.LeadCompany:   "Company",
	schema.LeadJobTitle:  "JobTitle",
	schema.LeadPhone:     "Phone",
	schema.LeadLinkedIn:  "LinkedIn",
	schema.LeadIndustry:  "Industry",
	schema.LeadInterests: "Interests",
}

type leadPage struct {
	page     notion.Page
	values   schema.Values
	lead     *models.Lead
	identity string
}

func (j *Job) reconcileLeads(ctx context.Context, report *Report) {
	pages, err := j.crm.QueryAll(ctx, j.dbs.Leads)
	if err != nil {
		report.fail(models.EntityLead, j.dbs.Leads, err)
		return
	}
	report.Scanned += len(pages)

	groups := make(map[string][]leadPage)
	conflicted := make(map[uuid.UUID]bool)
	var order []string
	for _, page := range pages {
		lp, err := j.resolveLeadPage(ctx, page)
		if err != nil {
			report.fail(models.EntityLead, page.ID, err)
			continue
		}
		if _, seen := groups[lp.identity]; !seen {
			order = append(order, lp.identity)
		}
		groups[lp.identity] = append(groups[lp.identity], lp)
	}

	for _, identity := range order {
		if ctx.Err() != nil {
			return
		}
		group := groups[identity]
		if len(group) > 1 {
			report.conflict(models.EntityLead, identity, pageIDs(group, func(p leadPage) string { return p.page.ID }))
			for _, lp := range group {
				if lp.lead != nil {
					conflicted[lp.lead.ID] = true
				}
			}
			continue
		}
		if err := j.reconcileLead(ctx, group[0], report); err != nil && !apperr.IsConflict(err) {
			report.fail(models.EntityLead, identity, err)
		}
	}

	j.pushUnsynced(ctx, models.EntityLead, &models.Lead{}, conflicted, report)
}

// resolveLeadPage finds the canonical lead a page belongs to: by sync
// record, then by the Canonical ID property, then by email. Pages that
// match no lead are keyed by their normalised email.
func (j *Job) resolveLeadPage(ctx context.Context, page notion.Page) (leadPage, error) {
	lp := leadPage{page: page, values: schema.LeadTable.Decode(page.Properties)}
	db := j.db.WithContext(ctx)

	rec, err := recordByPage(ctx, j.db, page.ID)
	if err != nil {
		return lp, err
	}
	if rec != nil {
		found, err := j.adoptLead(ctx, &lp, rec.CanonicalID)
		if err != nil || found {
			return lp, err
		}
		// The lead behind the record is gone.
		if err := db.Delete(&models.SyncRecord{}, rec.ID).Error; err != nil {
			return lp, err
		}
	}
	if raw, _ := lp.values[schema.LeadCanonicalID].(string); raw != "" {
		if id, err := uuid.Parse(strings.TrimSpace(raw)); err == nil {
			found, err := j.adoptLead(ctx, &lp, id)
			if err != nil || found {
				return lp, err
			}
		}
	}

	rawEmail, _ := lp.values[schema.LeadEmail].(string)
	email, err := services.NormalizeEmail(rawEmail)
	if err != nil {
		return lp, err
	}
	var lead models.Lead
	err = db.Where("email = ?", email).First(&lead).Error
	switch {
	case err == nil:
		lp.lead = &lead
		lp.identity = lead.ID.String()
	case errors.Is(err, gorm.ErrRecordNotFound):
		lp.identity = "email:" + email
	default:
		return lp, err
	}
	return lp, nil
}

func (j *Job) adoptLead(ctx context.Context, lp *leadPage, id uuid.UUID) (bool, error) {
	var lead models.Lead
	err := j.db.WithContext(ctx).First(&lead, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	lp.lead = &lead
	lp.identity = lead.ID.String()
	return true, nil
}

func (j *Job) reconcileLead(ctx context.Context, lp leadPage, report *Report) error {
	if lp.lead == nil {
		return j.createLead(ctx, lp, report)
	}
	lead := lp.lead

	linked, err := j.link(ctx, models.EntityLead, lead.Email, lead.ID, lp.page.ID, report)
	if err != nil {
		return err
	}

	fields := diff(schema.LeadTable, lp.page.Properties, lp.values, lead.Values(), leadDescriptive)
	if len(fields) > 0 {
		applyLead(lead, lp.values, fields)
		cols := make([]string, 0, len(fields)+1)
		for _, f := range fields {
			cols = append(cols, leadColumns[f])
		}
		if err := j.db.WithContext(ctx).Model(lead).Select(append(cols, "UpdatedAt")).Updates(lead).Error; err != nil {
			return err
		}
		j.log.Info("lead updated from CRM", "lead_id", lead.ID, "fields", fields)
	}
	if linked || len(fields) > 0 {
		report.Updated++
		metrics.ReconcileItems.WithLabelValues(models.EntityLead, "updated").Inc()
	}

	if j.lagging(lp, lead) {
		if err := j.pusher.FlushOnce(ctx, models.EntityLead, lead.ID); err != nil {
			return err
		}
		report.Pushed++
		metrics.ReconcileItems.WithLabelValues(models.EntityLead, "pushed").Inc()
	}
	return nil
}

// lagging reports whether any derived field on the page differs from the
// canonical value. Missing properties count as lagging.
func (j *Job) lagging(lp leadPage, lead *models.Lead) bool {
	canonical := lead.Values()
	for _, name := range leadDerived {
		if !schema.LeadTable.Equal(name, lp.values[name], canonical[name]) {
			return true
		}
	}
	return false
}

// createLead adopts an operator-created page as a new canonical lead.
func (j *Job) createLead(ctx context.Context, lp leadPage, report *Report) error {
	rawEmail, _ := lp.values[schema.LeadEmail].(string)
	email, err := services.NormalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	lead := &models.Lead{Email: email}
	var fields []string
	for _, name := range leadDescriptive {
		if present(schema.LeadTable, lp.page.Properties, name) {
			fields = append(fields, name)
		}
	}
	applyLead(lead, lp.values, fields)

	err = j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(lead).Error; err != nil {
			return err
		}
		return tx.Create(&models.SyncRecord{
			CanonicalID:  lead.ID,
			EntityType:   models.EntityLead,
			ExternalID:   lp.page.ID,
			LastSyncedAt: j.now(),
		}).Error
	})
	if err != nil {
		return err
	}
	report.Created++
	metrics.ReconcileItems.WithLabelValues(models.EntityLead, "created").Inc()
	j.log.Info("lead created from CRM", "lead_id", lead.ID, "page_id", lp.page.ID)

	// The page still lacks the canonical id and derived fields.
	if err := j.pusher.FlushOnce(ctx, models.EntityLead, lead.ID); err != nil {
		return err
	}
	report.Pushed++
	metrics.ReconcileItems.WithLabelValues(models.EntityLead, "pushed").Inc()
	return nil
}

func applyLead(l *models.Lead, values schema.Values, fields []string) {
	for _, name := range fields {
		switch v := values[name]; name {
		case schema.LeadName:
			l.Name, _ = v.(string)
		case schema.LeadCompany:
			l.Company, _ = v.(string)
		case schema.LeadJobTitle:
			l.JobTitle, _ = v.(string)
		case schema.LeadPhone:
			l.Phone, _ = v.(string)
		case schema.LeadLinkedIn:
			l.LinkedIn, _ = v.(string)
		case schema.LeadIndustry:
			l.Industry, _ = v.(string)
		case schema.LeadInterests:
			interests, _ := v.([]string)
			l.Interests = interests
		}
	}
}
