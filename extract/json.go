package extract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/parser"
)

// DecodeJSON parses a JSON payload, keeping numbers as json.Number.
func DecodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// JSONRecords returns the product records of a payload: the payload itself
// when it is an array, otherwise its items, products or data array.
func JSONRecords(payload any) []map[string]any {
	switch t := payload.(type) {
	case []any:
		return asObjects(t)
	case map[string]any:
		for _, key := range []string{"items", "products", "data"} {
			if list, ok := t[key].([]any); ok {
				return asObjects(list)
			}
		}
	}
	return nil
}

// FromJSON maps JSON records to candidates using fields (explicit
// mappings, dotted paths allowed) and the field-name heuristics.
func FromJSON(payload any, fields models.FieldMap) []models.ParsedCandidate {
	records := JSONRecords(payload)
	if len(records) == 0 {
		return nil
	}

	keySet := make(map[string]bool)
	for _, r := range records {
		for k := range r {
			keySet[k] = true
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	resolved := resolveFields(keys, fields)

	out := make([]models.ParsedCandidate, 0, len(records))
	for _, r := range records {
		get := func(field string) any {
			key, ok := resolved[field]
			if !ok {
				return nil
			}
			return lookupPath(r, key)
		}

		promoRaw := get(models.FieldPromoPrice)
		currency := stringFromAny(get(models.FieldCurrency))
		if currency == "" {
			if s, ok := promoRaw.(string); ok {
				currency = parser.ExtractCurrency(s)
			}
		}

		var regular *float64
		if v := get(models.FieldRegularPrice); v != nil {
			regular = optionalPrice(priceFromAny(v))
		}

		raw, _ := json.Marshal(r)
		out = append(out, models.ParsedCandidate{
			ScrapedProduct: models.ScrapedProduct{
				Name:           stringFromAny(get(models.FieldName)),
				PromoPrice:     priceFromAny(promoRaw),
				RegularPrice:   regular,
				Currency:       parser.NormalizeCurrency(currency),
				EAN:            stringFromAny(get(models.FieldEAN)),
				Brand:          stringFromAny(get(models.FieldBrand)),
				Category:       stringFromAny(get(models.FieldCategory)),
				PromoStartDate: stringFromAny(get(models.FieldPromoStartDate)),
				PromoEndDate:   stringFromAny(get(models.FieldPromoEndDate)),
			},
			Raw:      truncateRaw(string(raw)),
			Strategy: StrategyJSON,
		})
	}
	return out
}

// lookupPath resolves a dotted path ("prices.sale") in a record. A key
// containing dots that exists verbatim wins over path traversal.
func lookupPath(record map[string]any, path string) any {
	if v, ok := record[path]; ok {
		return v
	}
	var cur any = record
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = m[part]; !ok {
			return nil
		}
	}
	return cur
}
