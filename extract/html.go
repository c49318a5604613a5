package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/parser"
)

// Page is a parsed HTML document plus its raw markup.
type Page struct {
	Doc *goquery.Document
	Raw string
}

// ParseHTML parses body into a Page.
func ParseHTML(body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{Doc: doc, Raw: string(body)}, nil
}

// FromHTML runs the HTML strategies against a page: configured selectors
// (falling back to the card scan when nothing matches) and JSON-LD.
func FromHTML(page *Page, cfg *models.ScraperConfig) []models.ParsedCandidate {
	if page == nil || page.Doc == nil {
		return nil
	}

	var out []models.ParsedCandidate
	var selectors *models.Selectors
	if cfg != nil {
		selectors = cfg.Selectors
	}
	if fromSelectors := BySelectors(page.Doc, selectors); len(fromSelectors) > 0 {
		out = append(out, fromSelectors...)
	} else {
		out = append(out, Cards(page)...)
	}
	out = append(out, JSONLD(page.Doc)...)
	return out
}

// BySelectors reads products using configured CSS selectors. It returns
// nil when no product container selector is configured or none matches.
func BySelectors(doc *goquery.Document, sel *models.Selectors) []models.ParsedCandidate {
	if doc == nil || sel.Empty() {
		return nil
	}

	var out []models.ParsedCandidate
	doc.Find(sel.Product).Each(func(_ int, s *goquery.Selection) {
		name := selectValue(s, sel.Name)
		if name == "" {
			name = headingText(s)
		}

		priceRaw := selectValue(s, sel.Price)
		regularRaw := selectValue(s, sel.RegularPrice)
		var promo float64
		var regular *float64
		if priceRaw != "" {
			promo = parser.NormalizePrice(priceRaw)
			if regularRaw != "" {
				regular = optionalPrice(parser.NormalizePrice(regularRaw))
			}
		} else {
			tokens := parser.FindPriceTokens(spacedText(s))
			promo, regular = parser.PromoAndRegular(tokens)
		}

		currency := parser.NormalizeCurrency(selectValue(s, sel.Currency))
		if currency == "" {
			currency = parser.ExtractCurrency(priceRaw + " " + regularRaw)
		}
		if currency == "" {
			currency = parser.ExtractCurrency(spacedText(s))
		}

		outer, _ := goquery.OuterHtml(s)
		out = append(out, models.ParsedCandidate{
			ScrapedProduct: models.ScrapedProduct{
				Name:         name,
				PromoPrice:   promo,
				RegularPrice: regular,
				Currency:     currency,
				EAN:          selectValue(s, sel.EAN),
				Brand:        selectValue(s, sel.Brand),
				Category:     selectValue(s, sel.Category),
			},
			Raw:      truncateRaw(outer),
			Strategy: StrategySelectors,
		})
	})
	return out
}

// selectValue evaluates a selector relative to s. "css@attr" reads an
// attribute, "@attr" reads it from s itself.
func selectValue(s *goquery.Selection, selector string) string {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return ""
	}

	css, attr := selector, ""
	if idx := strings.LastIndex(selector, "@"); idx >= 0 {
		css, attr = strings.TrimSpace(selector[:idx]), strings.TrimSpace(selector[idx+1:])
	}

	target := s
	if css != "" {
		target = s.Find(css).First()
	}
	if target.Length() == 0 {
		return ""
	}
	if attr != "" {
		value, _ := target.Attr(attr)
		return parser.CleanText(value)
	}
	return parser.CleanText(spacedText(target))
}

// headingText returns the first heading-like text in s, falling back to
// alt/title attributes.
func headingText(s *goquery.Selection) string {
	for _, css := range []string{"h1, h2, h3, h4, h5, h6", "[class*='name']", "[class*='title']"} {
		if text := parser.CleanText(spacedText(s.Find(css).First())); text != "" {
			return text
		}
	}
	for _, attr := range []string{"title", "alt"} {
		found := ""
		s.Find("[" + attr + "]").EachWithBreak(func(_ int, el *goquery.Selection) bool {
			value, _ := el.Attr(attr)
			found = parser.CleanText(value)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// spacedText concatenates text nodes separated by spaces so that adjacent
// elements ("<s>3,19 KM</s><b>2,49 KM</b>") stay tokenizable.
func spacedText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// SameOriginLinks returns absolute same-origin hrefs in document order.
func SameOriginLinks(doc *goquery.Document, resolve func(string) string, sameOrigin func(string) bool) []string {
	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") || strings.HasPrefix(strings.ToLower(href), "mailto:") {
			return
		}
		abs := resolve(href)
		if abs == "" || seen[abs] || !sameOrigin(abs) {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})
	return links
}
