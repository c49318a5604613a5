package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aluiziolira/go-scrape-promos/models"
)

type seedFile struct {
	Competitors []struct {
		ID         string                `yaml:"id"`
		Name       string                `yaml:"name"`
		BaseURL    string                `yaml:"baseUrl"`
		SourceType string                `yaml:"sourceType"`
		Active     *bool                 `yaml:"active"`
		Config     *models.ScraperConfig `yaml:"config"`
	} `yaml:"competitors"`
}

// Seed upserts the competitors listed in a YAML file and returns how many
// were written. Entries are active unless they say otherwise.
func (s *Store) Seed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse seed: %w", err)
	}

	for i, entry := range file.Competitors {
		active := entry.Active == nil || *entry.Active
		c := models.CompetitorConfig{
			ID:            entry.ID,
			Name:          entry.Name,
			BaseURL:       entry.BaseURL,
			SourceType:    models.ParseSourceType(entry.SourceType),
			ScraperConfig: entry.Config,
		}
		if err := s.UpsertCompetitor(ctx, c, active); err != nil {
			return i, fmt.Errorf("seed entry %d: %w", i, err)
		}
	}
	return len(file.Competitors), nil
}
