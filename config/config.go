package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	DatabasePath     string
	DefaultsFile     string
	SeedFile         string
	MaxPages         int
	MaxQueued        int
	StoreAPIPageSize int
	StoreAPIMaxPages int
	CompetitorDelay  time.Duration
	RequestsPerSec   float64
	Timeout          time.Duration
	UserAgent        string
	RespectRobotsTxt bool
	OutputFile       string
	OutputFormat     string // csv, json, or dual; empty disables export
	Verbose          bool
	MetricsAddr      string
	ListenAddr       string

	AIEnrichment bool
	AIAPIKey     string
	AIModel      string
	AIBaseURL    string
	AICacheSize  int

	OCRServiceURL    string
	RenderServiceURL string
	RenderAPIKey     string
}

// DefaultConfig returns conservative defaults for third-party storefronts.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:     "data/promos.db",
		MaxPages:         6,
		MaxQueued:        15,
		StoreAPIPageSize: 100,
		StoreAPIMaxPages: 10,
		CompetitorDelay:  2 * time.Second,
		RequestsPerSec:   2,
		Timeout:          20 * time.Second,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		OutputFormat:     "csv",
		ListenAddr:       ":8080",
		AIModel:          "claude-3-5-haiku-latest",
		AICacheSize:      512,
	}
}

// AIConfigured reports whether enrichment credentials are present.
func (c *Config) AIConfigured() bool {
	return c.AIAPIKey != "" && c.AIModel != ""
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.MaxQueued <= 0 {
		return fmt.Errorf("max queued must be positive")
	}
	if c.StoreAPIPageSize <= 0 {
		return fmt.Errorf("store api page size must be positive")
	}
	if c.StoreAPIMaxPages <= 0 {
		return fmt.Errorf("store api max pages must be positive")
	}
	if c.CompetitorDelay < 0 {
		return fmt.Errorf("competitor delay cannot be negative")
	}
	if c.RequestsPerSec < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.OutputFile != "" && c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.AICacheSize <= 0 {
		return fmt.Errorf("ai cache size must be positive")
	}
	for name, raw := range map[string]string{
		"ai base URL":        c.AIBaseURL,
		"ocr service URL":    c.OCRServiceURL,
		"render service URL": c.RenderServiceURL,
	} {
		if raw == "" {
			continue
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("%s must include a host", name)
		}
	}
	if c.RenderServiceURL != "" && c.RenderAPIKey == "" {
		return fmt.Errorf("render service URL requires an API key")
	}

	return nil
}
