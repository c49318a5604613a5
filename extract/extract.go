// Package extract turns fetched competitor content (HTML, JSON, CSV, PDF,
// OCR text) into unvalidated product candidates. Extractors never fail on
// malformed content; they return whatever they could read.
package extract

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/parser"
)

// Strategy names recorded on candidates.
const (
	StrategySelectors = "html-selectors"
	StrategyCards     = "html-cards"
	StrategyJSONLD    = "html-jsonld"
	StrategyJSON      = "json"
	StrategyStoreAPI  = "store-api"
	StrategyCSV       = "csv"
	StrategyPDF       = "pdf"
	StrategyOCR       = "image"
)

// MaxRawLength bounds the raw snippet kept for enrichment.
const MaxRawLength = 4000

func truncateRaw(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= MaxRawLength {
		return raw
	}
	cut := MaxRawLength
	for cut > 0 && !utf8RuneStart(raw[cut]) {
		cut--
	}
	return raw[:cut]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func priceFromAny(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case int:
		return float64(t)
	case string:
		return parser.NormalizePrice(t)
	case map[string]any:
		for _, key := range []string{"value", "amount", "price"} {
			if inner, ok := t[key]; ok {
				return priceFromAny(inner)
			}
		}
	}
	return math.NaN()
}

func stringFromAny(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		for _, key := range []string{"name", "title", "value"} {
			if inner, ok := t[key]; ok {
				return stringFromAny(inner)
			}
		}
	case []any:
		if len(t) > 0 {
			return stringFromAny(t[0])
		}
	}
	return ""
}

func optionalPrice(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// fieldRule describes how a canonical field is recognized by name in
// JSON records and CSV headers.
type fieldRule struct {
	field   string
	exact   []string
	pattern *regexp.Regexp
	exclude *regexp.Regexp
}

var fieldRules = []fieldRule{
	{
		field:   models.FieldName,
		exact:   []string{"name", "title", "product_name", "productname", "naziv", "proizvod", "artikal"},
		pattern: regexp.MustCompile(`(?i)name|title|naziv|artik|proizvod$`),
		exclude: regexp.MustCompile(`(?i)brand|categor|kategor|marka|store|shop|file`),
	},
	{
		field:   models.FieldPromoPrice,
		exact:   []string{"promo_price", "promoprice", "sale_price", "saleprice", "akcijska_cijena", "price", "cijena"},
		pattern: regexp.MustCompile(`(?i)promo|sale_?price|akcij|price|cijena|cena`),
		exclude: regexp.MustCompile(`(?i)regular|old|base|original|list|redovn|stara|unit|currency`),
	},
	{
		field:   models.FieldRegularPrice,
		exact:   []string{"regular_price", "regularprice", "old_price", "base_price", "redovna_cijena"},
		pattern: regexp.MustCompile(`(?i)regular|old|base|original|list_?price|redovn|stara`),
		exclude: regexp.MustCompile(`(?i)currency|date`),
	},
	{
		field:   models.FieldCurrency,
		exact:   []string{"currency", "currency_code", "valuta"},
		pattern: regexp.MustCompile(`(?i)currency|valuta`),
	},
	{
		field:   models.FieldEAN,
		exact:   []string{"ean", "gtin", "gtin13", "barcode", "barkod"},
		pattern: regexp.MustCompile(`(?i)ean|gtin|barcode|barkod`),
	},
	{
		field:   models.FieldBrand,
		exact:   []string{"brand", "marka", "manufacturer", "proizvodjac", "proizvođač"},
		pattern: regexp.MustCompile(`(?i)brand|marka|manufacturer|proizvo[dđ]`),
	},
	{
		field:   models.FieldCategory,
		exact:   []string{"category", "kategorija"},
		pattern: regexp.MustCompile(`(?i)categor|kategor`),
	},
	{
		field:   models.FieldPromoStartDate,
		exact:   []string{"promo_start_date", "start_date", "valid_from", "datum_od", "od"},
		pattern: regexp.MustCompile(`(?i)start|valid_?from|date_?from|_od$`),
	},
	{
		field:   models.FieldPromoEndDate,
		exact:   []string{"promo_end_date", "end_date", "valid_until", "valid_to", "datum_do", "do"},
		pattern: regexp.MustCompile(`(?i)end_?date|until|valid_?to|date_?to|_do$`),
	},
}

// resolveFields maps canonical fields to source keys. Explicit mappings win;
// the remaining fields are matched heuristically, exact names first, each
// source key used at most once.
func resolveFields(keys []string, explicit models.FieldMap) map[string]string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	byLower := make(map[string]string, len(sorted))
	for _, k := range sorted {
		lower := strings.ToLower(strings.TrimSpace(k))
		if _, dup := byLower[lower]; !dup {
			byLower[lower] = k
		}
	}

	resolved := make(map[string]string, len(fieldRules))
	used := make(map[string]bool)
	for field, source := range explicit {
		if source = strings.TrimSpace(source); source == "" {
			continue
		}
		if strings.Contains(source, ".") {
			resolved[field] = source
			continue
		}
		if key, ok := byLower[strings.ToLower(source)]; ok {
			resolved[field] = key
			used[key] = true
		}
	}

	for _, rule := range fieldRules {
		if _, done := resolved[rule.field]; done {
			continue
		}
		if _, mapped := explicit[rule.field]; mapped {
			continue
		}
		if key, ok := matchExact(rule, byLower, used); ok {
			resolved[rule.field] = key
			used[key] = true
		}
	}
	for _, rule := range fieldRules {
		if _, done := resolved[rule.field]; done {
			continue
		}
		if _, mapped := explicit[rule.field]; mapped {
			continue
		}
		for _, key := range sorted {
			if used[key] || !rule.pattern.MatchString(key) {
				continue
			}
			if rule.exclude != nil && rule.exclude.MatchString(key) {
				continue
			}
			resolved[rule.field] = key
			used[key] = true
			break
		}
	}
	return resolved
}

func matchExact(rule fieldRule, byLower map[string]string, used map[string]bool) (string, bool) {
	for _, name := range rule.exact {
		if key, ok := byLower[name]; ok && !used[key] {
			return key, true
		}
	}
	return "", false
}
