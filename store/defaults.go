package store

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aluiziolira/go-scrape-promos/models"
)

// Defaults holds static scraper configs keyed by competitor id or
// lower-cased name.
type Defaults map[string]*models.ScraperConfig

type defaultsFile struct {
	Competitors []struct {
		ID     string               `yaml:"id"`
		Name   string               `yaml:"name"`
		Config models.ScraperConfig `yaml:"config"`
	} `yaml:"competitors"`
}

// LoadDefaults reads a YAML file of the form
//
//	competitors:
//	  - name: Konzum
//	    config:
//	      selectors: {product: ".product", name: "h3", price: ".price"}
//
// An empty path yields no defaults.
func LoadDefaults(path string) (Defaults, error) {
	if path == "" {
		return Defaults{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}
	return ParseDefaults(data)
}

// ParseDefaults decodes YAML defaults.
func ParseDefaults(data []byte) (Defaults, error) {
	var file defaultsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse defaults: %w", err)
	}

	out := make(Defaults, len(file.Competitors))
	for i, entry := range file.Competitors {
		cfg := entry.Config
		switch {
		case strings.TrimSpace(entry.ID) != "":
			out[strings.TrimSpace(entry.ID)] = &cfg
		case strings.TrimSpace(entry.Name) != "":
			out[nameKey(entry.Name)] = &cfg
		default:
			return nil, fmt.Errorf("defaults entry %d has neither id nor name", i)
		}
	}
	return out, nil
}

// Apply fills gaps in each competitor's scraper config from the defaults.
// Stored values always win; an id match takes precedence over a name match.
func (d Defaults) Apply(competitors []models.CompetitorConfig) []models.CompetitorConfig {
	if len(d) == 0 {
		return competitors
	}
	out := make([]models.CompetitorConfig, len(competitors))
	for i, c := range competitors {
		def, ok := d[c.ID]
		if !ok {
			def, ok = d[nameKey(c.Name)]
		}
		if ok {
			c.ScraperConfig = mergeScraperConfig(c.ScraperConfig, def)
		}
		out[i] = c
	}
	return out
}

func mergeScraperConfig(stored, def *models.ScraperConfig) *models.ScraperConfig {
	if stored == nil {
		merged := *def
		return &merged
	}
	merged := *stored
	if merged.Selectors.Empty() {
		merged.Selectors = def.Selectors
	}
	if len(merged.JSONMap) == 0 {
		merged.JSONMap = def.JSONMap
	}
	if len(merged.CSVMap) == 0 {
		merged.CSVMap = def.CSVMap
	}
	if merged.AIEnabled == nil {
		merged.AIEnabled = def.AIEnabled
	}
	if len(merged.URLs) == 0 {
		merged.URLs = def.URLs
	}
	return &merged
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
