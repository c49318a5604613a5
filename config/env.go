package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns a trimmed, non-empty environment value.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses an integer environment value.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvFloat parses a float environment value.
func EnvFloat(key string) (float64, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses a boolean environment value.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses a duration environment value such as "2s".
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overlays SCRAPER_* variables (and the Anthropic key) onto cfg.
func ApplyEnv(cfg *Config) error {
	strs := map[string]*string{
		"SCRAPER_DB":             &cfg.DatabasePath,
		"SCRAPER_DEFAULTS":       &cfg.DefaultsFile,
		"SCRAPER_SEED":           &cfg.SeedFile,
		"SCRAPER_USER_AGENT":     &cfg.UserAgent,
		"SCRAPER_OUTPUT":         &cfg.OutputFile,
		"SCRAPER_FORMAT":         &cfg.OutputFormat,
		"SCRAPER_METRICS_ADDR":   &cfg.MetricsAddr,
		"SCRAPER_LISTEN_ADDR":    &cfg.ListenAddr,
		"SCRAPER_AI_MODEL":       &cfg.AIModel,
		"SCRAPER_AI_BASE_URL":    &cfg.AIBaseURL,
		"ANTHROPIC_API_KEY":      &cfg.AIAPIKey,
		"SCRAPER_OCR_URL":        &cfg.OCRServiceURL,
		"SCRAPER_RENDER_URL":     &cfg.RenderServiceURL,
		"SCRAPER_RENDER_API_KEY": &cfg.RenderAPIKey,
	}
	for key, dst := range strs {
		if value, ok := EnvString(key); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"SCRAPER_PAGES":         &cfg.MaxPages,
		"SCRAPER_QUEUE":         &cfg.MaxQueued,
		"SCRAPER_API_PAGE_SIZE": &cfg.StoreAPIPageSize,
		"SCRAPER_API_MAX_PAGES": &cfg.StoreAPIMaxPages,
		"SCRAPER_AI_CACHE_SIZE": &cfg.AICacheSize,
	}
	for key, dst := range ints {
		value, ok, err := EnvInt(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"SCRAPER_DELAY":   &cfg.CompetitorDelay,
		"SCRAPER_TIMEOUT": &cfg.Timeout,
	}
	for key, dst := range durations {
		value, ok, err := EnvDuration(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	if value, ok, err := EnvFloat("SCRAPER_RPS"); err != nil {
		return err
	} else if ok {
		cfg.RequestsPerSec = value
	}
	if value, ok, err := EnvBool("SCRAPER_AI_ENRICH"); err != nil {
		return err
	} else if ok {
		cfg.AIEnrichment = value
	}
	if value, ok, err := EnvBool("SCRAPER_RESPECT_ROBOTS"); err != nil {
		return err
	} else if ok {
		cfg.RespectRobotsTxt = value
	}

	return nil
}
