package extract

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/parser"
)

// JSONLD reads schema.org Product nodes from ld+json script blocks.
func JSONLD(doc *goquery.Document) []models.ParsedCandidate {
	if doc == nil {
		return nil
	}

	var out []models.ParsedCandidate
	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		var data any
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			// Skip invalid blocks, keep reading the others.
			return
		}

		var nodes []map[string]any
		collectNodes(data, &nodes, 0)
		for _, node := range nodes {
			if !isProduct(node) {
				continue
			}
			if candidate, ok := productFromNode(node); ok {
				out = append(out, candidate)
			}
		}
	})
	return out
}

func collectNodes(v any, out *[]map[string]any, depth int) {
	if depth > 6 {
		return
	}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			collectNodes(item, out, depth+1)
		}
	case map[string]any:
		*out = append(*out, t)
		if graph, ok := t["@graph"]; ok {
			collectNodes(graph, out, depth+1)
		}
		if list, ok := t["itemListElement"].([]any); ok {
			for _, element := range list {
				if m, ok := element.(map[string]any); ok {
					if item, ok := m["item"]; ok {
						collectNodes(item, out, depth+1)
					}
				}
			}
		}
	}
}

func isProduct(node map[string]any) bool {
	switch t := node["@type"].(type) {
	case string:
		return strings.HasSuffix(t, "Product")
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && strings.HasSuffix(s, "Product") {
				return true
			}
		}
	}
	return false
}

func productFromNode(node map[string]any) (models.ParsedCandidate, bool) {
	name := stringFromAny(node["name"])
	if name == "" {
		return models.ParsedCandidate{}, false
	}

	var prices []float64
	var listPrice = math.NaN()
	var currency, validFrom, validUntil string

	for _, offer := range asObjects(node["offers"]) {
		for _, key := range []string{"price", "lowPrice"} {
			if v := priceFromAny(offer[key]); parser.IsValidPrice(v) {
				prices = append(prices, v)
				break
			}
		}
		if v := priceFromAny(offer["highPrice"]); parser.IsValidPrice(v) && len(asObjects(node["offers"])) == 1 {
			listPrice = v
		}
		for _, spec := range asObjects(offer["priceSpecification"]) {
			v := priceFromAny(spec["price"])
			if !parser.IsValidPrice(v) {
				continue
			}
			priceType := stringFromAny(spec["priceType"])
			if strings.Contains(priceType, "ListPrice") || strings.Contains(priceType, "StrikethroughPrice") {
				listPrice = v
			} else {
				prices = append(prices, v)
			}
			if currency == "" {
				currency = stringFromAny(spec["priceCurrency"])
			}
			if validFrom == "" {
				validFrom = stringFromAny(spec["validFrom"])
			}
			if validUntil == "" {
				validUntil = stringFromAny(spec["validThrough"])
			}
		}
		if c := stringFromAny(offer["priceCurrency"]); c != "" {
			currency = c
		}
		for _, key := range []string{"priceValidFrom", "validFrom"} {
			if v := stringFromAny(offer[key]); v != "" {
				validFrom = v
				break
			}
		}
		if v := stringFromAny(offer["priceValidUntil"]); v != "" {
			validUntil = v
		}
	}

	promo := math.NaN()
	var regular *float64
	if len(prices) > 0 {
		promo = prices[0]
		high := prices[0]
		for _, p := range prices[1:] {
			promo = math.Min(promo, p)
			high = math.Max(high, p)
		}
		if !math.IsNaN(listPrice) && listPrice != promo {
			regular = &listPrice
		} else if high != promo {
			regular = &high
		}
	}

	ean := ""
	for _, key := range []string{"gtin13", "gtin", "gtin12", "gtin14", "gtin8", "ean"} {
		if v := stringFromAny(node[key]); v != "" {
			ean = v
			break
		}
	}

	raw, _ := json.Marshal(node)
	return models.ParsedCandidate{
		ScrapedProduct: models.ScrapedProduct{
			Name:           name,
			PromoPrice:     promo,
			RegularPrice:   regular,
			Currency:       parser.NormalizeCurrency(currency),
			EAN:            ean,
			Brand:          stringFromAny(node["brand"]),
			Category:       stringFromAny(node["category"]),
			PromoStartDate: validFrom,
			PromoEndDate:   validUntil,
		},
		Raw:      truncateRaw(string(raw)),
		Strategy: StrategyJSONLD,
	}, true
}

func asObjects(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return []map[string]any{t}
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
