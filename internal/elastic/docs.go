package elastic

import (
	"encoding/json"
	"time"

	"github.com/sirdesai22/leadsync/internal/models"
)

type LeadDoc struct {
	ID                 string     `json:"-"`
	Email              string     `json:"email"`
	Name               string     `json:"name"`
	Company            string     `json:"company"`
	JobTitle           string     `json:"job_title"`
	Industry           string     `json:"industry"`
	Interests          []string   `json:"interests"`
	Qualified          bool       `json:"qualified"`
	MissionProgress    int        `json:"mission_progress"`
	MissionCompletedAt *time.Time `json:"mission_completed_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func NewLeadDoc(l models.Lead) LeadDoc {
	interests := []string(l.Interests)
	if interests == nil {
		interests = []string{}
	}
	return LeadDoc{
		ID:                 l.ID.String(),
		Email:              l.Email,
		Name:               l.Name,
		Company:            l.Company,
		JobTitle:           l.JobTitle,
		Industry:           l.Industry,
		Interests:          interests,
		Qualified:          l.Qualified,
		MissionProgress:    l.MissionProgress,
		MissionCompletedAt: l.MissionCompletedAt,
		UpdatedAt:          l.UpdatedAt,
	}
}

func BuildLeadDoc(l models.Lead) ([]byte, error) {
	return json.Marshal(NewLeadDoc(l))
}
