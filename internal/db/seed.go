package db

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirdesai22/leadsync/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type missionCatalog struct {
	Missions []models.Mission `yaml:"missions"`
}

// LoadMissions parses a mission catalog file.
func LoadMissions(path string) ([]models.Mission, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseMissions(raw)
}

func ParseMissions(raw []byte) ([]models.Mission, error) {
	var catalog missionCatalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parse mission catalog: %w", err)
	}
	seen := make(map[string]bool, len(catalog.Missions))
	for i, m := range catalog.Missions {
		key := strings.TrimSpace(m.Key)
		if key == "" {
			return nil, fmt.Errorf("mission #%d: key is required", i+1)
		}
		if seen[key] {
			return nil, fmt.Errorf("mission %q: duplicate key", key)
		}
		if strings.TrimSpace(m.Title) == "" {
			return nil, fmt.Errorf("mission %q: title is required", key)
		}
		seen[key] = true
		catalog.Missions[i].Key = key
	}
	return catalog.Missions, nil
}

// Seed inserts catalog missions whose key is not present yet and returns the
// ids of the rows it created. Existing missions are left to operators.
func Seed(db *gorm.DB, missions []models.Mission, log *slog.Logger) ([]uuid.UUID, error) {
	var created []uuid.UUID
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, m := range missions {
			m := m
			res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "mission_key"}}, DoNothing: true}).Create(&m)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				created = append(created, m.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("seed missions: %w", err)
	}
	if len(created) == 0 {
		log.Info("mission catalog already seeded, skipping")
	} else {
		log.Info("mission catalog seeded", "created", len(created))
	}
	return created, nil
}
