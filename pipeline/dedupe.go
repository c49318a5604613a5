package pipeline

import (
	"strings"

	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/parser"
)

// Dedupe collapses products sharing a name+EAN key, merging later
// occurrences into the first. A product without an EAN and a same-named
// product with one are the same product whichever comes first. Output
// keeps first-seen order.
func Dedupe(products []models.ScrapedProduct) []models.ScrapedProduct {
	out := make([]models.ScrapedProduct, 0, len(products))
	byKey := make(map[string]int, len(products))
	byName := make(map[string][]int, len(products))

	for _, p := range products {
		key := parser.DedupeKey(p.Name, p.EAN)
		name := strings.ToLower(parser.CleanName(p.Name))

		if idx, ok := byKey[key]; ok {
			out[idx] = Merge(out[idx], p)
			continue
		}

		if idx, ok := sameNameMatch(out, byName[name], p.EAN); ok {
			oldKey := parser.DedupeKey(out[idx].Name, out[idx].EAN)
			out[idx] = Merge(out[idx], p)
			if newKey := parser.DedupeKey(out[idx].Name, out[idx].EAN); newKey != oldKey {
				delete(byKey, oldKey)
				byKey[newKey] = idx
			}
			continue
		}

		byKey[key] = len(out)
		byName[name] = append(byName[name], len(out))
		out = append(out, p)
	}
	return out
}

// sameNameMatch pairs an EAN-less product with a same-named entry, or an
// EAN-carrying product with a same-named EAN-less entry.
func sameNameMatch(out []models.ScrapedProduct, candidates []int, ean string) (int, bool) {
	for _, idx := range candidates {
		if ean == "" || out[idx].EAN == "" {
			return idx, true
		}
	}
	return 0, false
}
