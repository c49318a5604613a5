package extract

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/parser"
)

const cardSelector = "article, div[class*='product'], div[class*='item'], div[class*='card']"

var (
	articleBlockRe = regexp.MustCompile(`(?is)<article\b[^>]*>(.*?)</article>`)
	divBlockRe     = regexp.MustCompile(`(?is)<div\b[^>]*class\s*=\s*["'][^"']*(?:product|item|card)[^"']*["'][^>]*>(.*?)</div>`)
	headingRe      = regexp.MustCompile(`(?is)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	altTitleRe     = regexp.MustCompile(`(?i)\b(?:alt|title)\s*=\s*["']([^"']+)["']`)
	dataPairRe     = regexp.MustCompile(`(?is)data-product-name\s*=\s*["']([^"']+)["'][^>]*?data-price\s*=\s*["']([^"']+)["']`)
	tagRe          = regexp.MustCompile(`(?s)<[^>]*>`)
	scriptStyleRe  = regexp.MustCompile(`(?is)<(script|style)\b.*?</(script|style)>`)
)

// Cards scans product-card-like blocks. The DOM scan is primary; the
// markup regex scan runs only when the DOM finds nothing, which happens on
// badly broken markup.
func Cards(page *Page) []models.ParsedCandidate {
	if page == nil {
		return nil
	}
	var out []models.ParsedCandidate
	if page.Doc != nil {
		out = append(out, cardsFromDOM(page.Doc)...)
		out = append(out, dataAttributesFromDOM(page.Doc)...)
	}
	if len(out) == 0 {
		out = append(out, cardsFromMarkup(page.Raw)...)
	}
	return out
}

func cardsFromDOM(doc *goquery.Document) []models.ParsedCandidate {
	var out []models.ParsedCandidate
	doc.Find(cardSelector).Each(func(_ int, s *goquery.Selection) {
		name, tokens, ok := cardContent(s)
		if !ok {
			return
		}
		// A block holding another complete card is a listing, not a product.
		nested := false
		s.Find(cardSelector).EachWithBreak(func(_ int, inner *goquery.Selection) bool {
			_, _, nested = cardContent(inner)
			return !nested
		})
		if nested {
			return
		}
		promo, regular := parser.PromoAndRegular(tokens)
		outer, _ := goquery.OuterHtml(s)
		out = append(out, models.ParsedCandidate{
			ScrapedProduct: models.ScrapedProduct{
				Name:         name,
				PromoPrice:   promo,
				RegularPrice: regular,
				Currency:     parser.TokensCurrency(tokens),
			},
			Raw:      truncateRaw(outer),
			Strategy: StrategyCards,
		})
	})
	return out
}

func cardContent(s *goquery.Selection) (string, []parser.PriceToken, bool) {
	tokens := parser.FindPriceTokens(spacedText(s))
	if len(tokens) == 0 {
		return "", nil, false
	}
	name := headingText(s)
	return name, tokens, name != ""
}

func dataAttributesFromDOM(doc *goquery.Document) []models.ParsedCandidate {
	var out []models.ParsedCandidate
	doc.Find("[data-product-name][data-price]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("data-product-name")
		price, _ := s.Attr("data-price")
		currency, _ := s.Attr("data-currency")
		if currency == "" {
			currency = parser.ExtractCurrency(price)
		}
		ean, _ := s.Attr("data-ean")
		brand, _ := s.Attr("data-brand")
		category, _ := s.Attr("data-category")
		outer, _ := goquery.OuterHtml(s)
		out = append(out, models.ParsedCandidate{
			ScrapedProduct: models.ScrapedProduct{
				Name:       name,
				PromoPrice: parser.NormalizePrice(price),
				Currency:   parser.NormalizeCurrency(currency),
				EAN:        strings.TrimSpace(ean),
				Brand:      strings.TrimSpace(brand),
				Category:   strings.TrimSpace(category),
			},
			Raw:      truncateRaw(outer),
			Strategy: StrategyCards,
		})
	})
	return out
}

func cardsFromMarkup(raw string) []models.ParsedCandidate {
	if raw == "" {
		return nil
	}
	raw = scriptStyleRe.ReplaceAllString(raw, " ")

	var out []models.ParsedCandidate
	for _, re := range []*regexp.Regexp{articleBlockRe, divBlockRe} {
		for _, m := range re.FindAllStringSubmatch(raw, -1) {
			block := m[1]
			tokens := parser.FindPriceTokens(stripTags(block))
			if len(tokens) == 0 {
				continue
			}
			name := ""
			if h := headingRe.FindStringSubmatch(block); h != nil {
				name = stripTags(h[1])
			}
			if name == "" {
				if a := altTitleRe.FindStringSubmatch(m[0]); a != nil {
					name = html.UnescapeString(a[1])
				}
			}
			if strings.TrimSpace(name) == "" {
				continue
			}
			promo, regular := parser.PromoAndRegular(tokens)
			out = append(out, models.ParsedCandidate{
				ScrapedProduct: models.ScrapedProduct{
					Name:         name,
					PromoPrice:   promo,
					RegularPrice: regular,
					Currency:     parser.TokensCurrency(tokens),
				},
				Raw:      truncateRaw(m[0]),
				Strategy: StrategyCards,
			})
		}
	}

	for _, m := range dataPairRe.FindAllStringSubmatch(raw, -1) {
		out = append(out, models.ParsedCandidate{
			ScrapedProduct: models.ScrapedProduct{
				Name:       html.UnescapeString(m[1]),
				PromoPrice: parser.NormalizePrice(m[2]),
				Currency:   parser.ExtractCurrency(m[2]),
			},
			Raw:      truncateRaw(m[0]),
			Strategy: StrategyCards,
		})
	}
	return out
}

func stripTags(fragment string) string {
	return parser.CleanText(html.UnescapeString(tagRe.ReplaceAllString(fragment, " ")))
}
