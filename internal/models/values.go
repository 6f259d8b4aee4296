package models

import "github.com/sirdesai22/leadsync/internal/schema"

// Values is the full canonical snapshot pushed when a CRM page is created.
func (l *Lead) Values() schema.Values {
	interests := []string(l.Interests)
	if interests == nil {
		interests = []string{}
	}
	return schema.Values{
		schema.LeadName:               l.Name,
		schema.LeadEmail:              l.Email,
		schema.LeadCanonicalID:        l.ID.String(),
		schema.LeadCompany:            l.Company,
		schema.LeadJobTitle:           l.JobTitle,
		schema.LeadPhone:              l.Phone,
		schema.LeadLinkedIn:           l.LinkedIn,
		schema.LeadIndustry:           l.Industry,
		schema.LeadInterests:          interests,
		schema.LeadQualified:          l.Qualified,
		schema.LeadMissionProgress:    l.MissionProgress,
		schema.LeadMissionCompletedAt: l.MissionCompletedAt,
	}
}

func (m *Mission) Values() schema.Values {
	return schema.Values{
		schema.MissionKey:         m.Key,
		schema.MissionTitle:       m.Title,
		schema.MissionDescription: m.Description,
		schema.MissionPoints:      m.Points,
		schema.MissionOrder:       m.SortOrder,
		schema.MissionActive:      m.Active,
		schema.MissionActionPath:  m.ActionPath,
	}
}

// Values needs the lead's CRM page id for the relation; empty when the
// lead has not been synced yet.
func (r *RaffleEntry) Values(leadPageID string) schema.Values {
	return schema.Values{
		schema.RaffleTicket:    r.TicketCode,
		schema.RafflePrize:     r.Prize,
		schema.RaffleWinner:    r.Winner,
		schema.RaffleLead:      leadPageID,
		schema.RaffleEnteredAt: r.CreatedAt,
	}
}

func (g *GalleryItem) Values(leadPageID string) schema.Values {
	return schema.Values{
		schema.GalleryCaption:     g.Caption,
		schema.GalleryImageKey:    g.ImageKey,
		schema.GalleryApproved:    g.Approved,
		schema.GalleryLead:        leadPageID,
		schema.GallerySubmittedAt: g.CreatedAt,
	}
}
