// Package models defines data structures for the scraper.
package models

import (
	"strings"
	"time"
)

// SourceType is the declared content format of a competitor feed.
type SourceType string

const (
	SourceAPI   SourceType = "api"
	SourceHTML  SourceType = "html"
	SourceCSV   SourceType = "csv"
	SourceJSON  SourceType = "json"
	SourcePDF   SourceType = "pdf"
	SourceImage SourceType = "image"
)

// ParseSourceType maps a stored label onto a known source type.
// Unknown or empty labels fall back to html.
func ParseSourceType(raw string) SourceType {
	switch st := SourceType(strings.ToLower(strings.TrimSpace(raw))); st {
	case SourceAPI, SourceHTML, SourceCSV, SourceJSON, SourcePDF, SourceImage:
		return st
	default:
		return SourceHTML
	}
}

// Selectors holds CSS selectors for the DOM extraction strategy. A selector
// ending in "@attr" reads that attribute instead of the element text.
type Selectors struct {
	Product      string `json:"product,omitempty" yaml:"product"`
	Name         string `json:"name,omitempty" yaml:"name"`
	Price        string `json:"price,omitempty" yaml:"price"`
	RegularPrice string `json:"regularPrice,omitempty" yaml:"regularPrice"`
	EAN          string `json:"ean,omitempty" yaml:"ean"`
	Brand        string `json:"brand,omitempty" yaml:"brand"`
	Category     string `json:"category,omitempty" yaml:"category"`
	Currency     string `json:"currency,omitempty" yaml:"currency"`
}

// Empty reports whether no product container selector is configured.
func (s *Selectors) Empty() bool {
	return s == nil || strings.TrimSpace(s.Product) == ""
}

// FieldMap maps canonical product fields (name, promoPrice, regularPrice,
// currency, ean, brand, category, promoStartDate, promoEndDate) to
// source-specific field or column names.
type FieldMap map[string]string

// Canonical field names used by FieldMap.
const (
	FieldName           = "name"
	FieldPromoPrice     = "promoPrice"
	FieldRegularPrice   = "regularPrice"
	FieldCurrency       = "currency"
	FieldEAN            = "ean"
	FieldBrand          = "brand"
	FieldCategory       = "category"
	FieldPromoStartDate = "promoStartDate"
	FieldPromoEndDate   = "promoEndDate"
)

// ScraperConfig is the declarative per-competitor customization.
type ScraperConfig struct {
	Selectors *Selectors `json:"selectors,omitempty" yaml:"selectors"`
	JSONMap   FieldMap   `json:"jsonMap,omitempty" yaml:"jsonMap"`
	CSVMap    FieldMap   `json:"csvMap,omitempty" yaml:"csvMap"`
	AIEnabled *bool      `json:"aiEnabled,omitempty" yaml:"aiEnabled"`
	URLs      []string   `json:"urls,omitempty" yaml:"urls"`
}

// AI reports whether enrichment was switched on for this competitor.
func (c *ScraperConfig) AI() bool {
	return c != nil && c.AIEnabled != nil && *c.AIEnabled
}

// CompetitorConfig is a competitor definition read from the store.
type CompetitorConfig struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	BaseURL       string         `json:"base_url"`
	SourceType    SourceType     `json:"source_type"`
	ScraperConfig *ScraperConfig `json:"scraper_config,omitempty"`
}

// EntryURLs returns the base URL followed by any extra configured URLs.
func (c CompetitorConfig) EntryURLs() []string {
	out := make([]string, 0, 1)
	if c.BaseURL != "" {
		out = append(out, c.BaseURL)
	}
	if c.ScraperConfig != nil {
		for _, u := range c.ScraperConfig.URLs {
			if u = strings.TrimSpace(u); u != "" && u != c.BaseURL {
				out = append(out, u)
			}
		}
	}
	return out
}

// ScrapedProduct is the normalized output unit. Empty strings mean absent.
type ScrapedProduct struct {
	Name           string   `json:"name"`
	PromoPrice     float64  `json:"promoPrice"`
	RegularPrice   *float64 `json:"regularPrice"`
	Currency       string   `json:"currency,omitempty"`
	EAN            string   `json:"ean,omitempty"`
	Brand          string   `json:"brand,omitempty"`
	Category       string   `json:"category,omitempty"`
	PromoStartDate string   `json:"promoStartDate,omitempty"`
	PromoEndDate   string   `json:"promoEndDate,omitempty"`
}

// ParsedCandidate is an unvalidated extraction result. Prices may be NaN.
type ParsedCandidate struct {
	ScrapedProduct
	Raw      string `json:"-"`
	Strategy string `json:"-"`
}

// PriceRecord is the row persisted for every saved product.
type PriceRecord struct {
	ID             string    `csv:"id" json:"id"`
	RunID          string    `csv:"run_id" json:"run_id"`
	CompetitorID   string    `csv:"competitor_id" json:"competitor_id"`
	ProductName    string    `csv:"product_name" json:"product_name"`
	Category       string    `csv:"category" json:"category,omitempty"`
	Brand          string    `csv:"brand" json:"brand,omitempty"`
	RegularPrice   *float64  `csv:"regular_price" json:"regular_price"`
	PromoPrice     float64   `csv:"promo_price" json:"promo_price"`
	ProductEAN     string    `csv:"product_ean" json:"product_ean,omitempty"`
	PromoStartDate string    `csv:"promo_start_date" json:"promo_start_date,omitempty"`
	PromoEndDate   string    `csv:"promo_end_date" json:"promo_end_date,omitempty"`
	Currency       string    `csv:"currency" json:"currency,omitempty"`
	FetchedAt      time.Time `csv:"fetched_at" json:"fetched_at"`
}

// ScrapeResult is the outcome for one competitor in one batch run.
type ScrapeResult struct {
	Competitor    string `json:"competitor"`
	Success       bool   `json:"success"`
	ProductsFound int    `json:"productsFound"`
	Error         string `json:"error,omitempty"`
}

// BatchSummary aggregates a run's results.
type BatchSummary struct {
	TotalCompetitors int `json:"totalCompetitors"`
	Successful       int `json:"successful"`
	Failed           int `json:"failed"`
	TotalPricesSaved int `json:"totalPricesSaved"`
}

// Summarize folds results into a BatchSummary.
func Summarize(results []ScrapeResult) BatchSummary {
	summary := BatchSummary{TotalCompetitors: len(results)}
	for _, r := range results {
		if r.Success {
			summary.Successful++
			summary.TotalPricesSaved += r.ProductsFound
		} else {
			summary.Failed++
		}
	}
	return summary
}

// BatchReport is returned to the caller that triggered a batch.
type BatchReport struct {
	RunID     string         `json:"runId"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime"`
	Summary   BatchSummary   `json:"summary"`
	Results   []ScrapeResult `json:"results"`
}
