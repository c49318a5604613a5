// Package parser normalizes the raw text scraped from competitor sources.
package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/aluiziolira/go-scrape-promos/models"
)

// MaxNameLength bounds product names in runes.
const MaxNameLength = 200

var (
	priceCharsRe    = regexp.MustCompile(`[^0-9.,\-]`)
	numericPrefixRe = regexp.MustCompile(`^-?(?:\d+\.?\d*|\.\d+)`)
	currencyRe      = regexp.MustCompile(`(?i)(BAM|KM|EUR|USD|GBP)\b|€`)
	priceTokenRe    = regexp.MustCompile(`(?i)(` + priceNumber + `)\s*((?:KM|BAM|EUR|USD|GBP)\b|€)|(€|\b(?:KM|BAM|EUR|USD|GBP))\s*(` + priceNumber + `)`)
)

// priceNumber matches a whole price run: grouped thousands with optional
// decimals, or plain digits with optional decimals.
const priceNumber = `\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?`

// NormalizePrice turns a raw price string into a number. It keeps digits,
// dots, commas and minus signs, treats the first comma as the decimal
// separator and parses the leading numeric part. NaN means unparseable.
func NormalizePrice(raw string) float64 {
	cleaned := priceCharsRe.ReplaceAllString(raw, "")
	cleaned = strings.Replace(cleaned, ",", ".", 1)
	prefix := numericPrefixRe.FindString(cleaned)
	if prefix == "" {
		return math.NaN()
	}
	value, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		return math.NaN()
	}
	return value
}

// IsValidPrice reports whether v is usable as a promo price.
func IsValidPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// ExtractCurrency returns the first currency label found in raw, or "".
func ExtractCurrency(raw string) string {
	match := currencyRe.FindString(raw)
	if match == "" {
		return ""
	}
	return NormalizeCurrency(match)
}

// NormalizeCurrency canonicalizes a currency label. Unknown codes are
// uppercased and passed through.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	switch code {
	case "":
		return ""
	case "KM", "BAM":
		return "BAM"
	case "€", "EUR":
		return "EUR"
	default:
		return code
	}
}

// PriceToken is a currency-tagged number found in free text.
type PriceToken struct {
	Raw      string
	Value    float64
	Currency string
}

// FindPriceTokens returns every currency-tagged price in text, in order.
// A number that is part of a longer numeric run is not a price.
func FindPriceTokens(text string) []PriceToken {
	var tokens []PriceToken
	for _, m := range priceTokenMatches(text) {
		var number, currency string
		if m[2] >= 0 {
			number, currency = text[m[2]:m[3]], text[m[4]:m[5]]
		} else {
			currency, number = text[m[6]:m[7]], text[m[8]:m[9]]
		}
		value := tokenValue(number)
		if !IsValidPrice(value) {
			continue
		}
		tokens = append(tokens, PriceToken{
			Raw:      text[m[0]:m[1]],
			Value:    value,
			Currency: NormalizeCurrency(currency),
		})
	}
	return tokens
}

// StripPriceTokens removes every currency-tagged price from text.
func StripPriceTokens(text string) string {
	matches := priceTokenMatches(text)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		b.WriteByte(' ')
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

// priceTokenMatches returns submatch indexes of the tokens whose number
// is not glued to surrounding digits.
func priceTokenMatches(text string) [][]int {
	all := priceTokenRe.FindAllStringSubmatchIndex(text, -1)
	out := all[:0]
	for _, m := range all {
		start, end := m[0], m[1]
		if m[2] < 0 {
			start = m[8]
		}
		if gluedBefore(text, start) || (m[2] < 0 && gluedAfter(text, end)) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func gluedBefore(text string, i int) bool {
	if i == 0 {
		return false
	}
	prev := text[i-1]
	if isDigit(prev) {
		return true
	}
	return (prev == '.' || prev == ',') && i >= 2 && isDigit(text[i-2])
}

func gluedAfter(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	next := text[i]
	if isDigit(next) {
		return true
	}
	return (next == '.' || next == ',') && i+1 < len(text) && isDigit(text[i+1])
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// tokenValue parses a price number as written in running text. The last
// separator is the decimal point unless exactly three digits follow it,
// in which case every separator groups thousands.
func tokenValue(number string) float64 {
	number = strings.TrimSpace(number)
	last := strings.LastIndexAny(number, ".,")
	if last < 0 {
		return NormalizePrice(number)
	}
	intPart := strings.NewReplacer(".", "", ",", "").Replace(number[:last])
	frac := number[last+1:]
	if len(frac) == 3 {
		return NormalizePrice(intPart + frac)
	}
	return NormalizePrice(intPart + "." + frac)
}

// PromoAndRegular applies the min/max rule: the lowest price is the promo
// price and the highest, when distinct, the regular price.
func PromoAndRegular(tokens []PriceToken) (float64, *float64) {
	if len(tokens) == 0 {
		return math.NaN(), nil
	}
	lo, hi := tokens[0].Value, tokens[0].Value
	for _, t := range tokens[1:] {
		lo = math.Min(lo, t.Value)
		hi = math.Max(hi, t.Value)
	}
	if hi == lo {
		return lo, nil
	}
	return lo, &hi
}

// TokensCurrency returns the first currency carried by tokens.
func TokensCurrency(tokens []PriceToken) string {
	for _, t := range tokens {
		if t.Currency != "" {
			return t.Currency
		}
	}
	return ""
}

// CleanName NFC-normalizes, collapses whitespace and truncates a name.
func CleanName(name string) string {
	name = strings.Join(strings.Fields(norm.NFC.String(name)), " ")
	if runes := []rune(name); len(runes) > MaxNameLength {
		name = strings.TrimSpace(string(runes[:MaxNameLength]))
	}
	return name
}

// CleanText trims and collapses whitespace in an optional text field.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DedupeKey builds the composite identity of a product.
func DedupeKey(name, ean string) string {
	return strings.ToLower(CleanName(name)) + "|" + strings.ToLower(strings.TrimSpace(ean))
}

// ValidateProduct ensures a finalized product can be persisted.
func ValidateProduct(p *models.ScrapedProduct) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("product missing name")
	}
	if !IsValidPrice(p.PromoPrice) {
		return fmt.Errorf("product %q has invalid promo price %v", p.Name, p.PromoPrice)
	}
	return nil
}
