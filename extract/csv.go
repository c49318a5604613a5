package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/parser"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText returns body as UTF-8 text. Bodies that are not valid UTF-8
// are decoded as Windows-1250, the usual encoding of regional exports.
func DecodeText(body []byte) string {
	body = bytes.TrimPrefix(body, utf8BOM)
	if utf8.Valid(body) {
		return string(body)
	}
	decoded, err := charmap.Windows1250.NewDecoder().Bytes(body)
	if err != nil {
		return strings.ToValidUTF8(string(body), "")
	}
	return string(decoded)
}

// FromCSV reads a header row and data rows. The delimiter is ';' when the
// header line contains one, ',' otherwise. Rows without a name or price
// column value are still returned; validation happens later.
func FromCSV(body []byte, fields models.FieldMap) []models.ParsedCandidate {
	text := DecodeText(body)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	header := text
	if idx := strings.IndexAny(text, "\r\n"); idx >= 0 {
		header = text[:idx]
	}

	r := csv.NewReader(strings.NewReader(text))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	if strings.Contains(header, ";") {
		r.Comma = ';'
	}

	columns, err := r.Read()
	if err != nil {
		return nil
	}
	for i := range columns {
		columns[i] = strings.TrimSpace(columns[i])
	}
	resolved := resolveFields(columns, fields)
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; !dup {
			index[c] = i
		}
	}

	var out []models.ParsedCandidate
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A malformed row ends the file; keep what was read.
			break
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}

		get := func(field string) string {
			col, ok := resolved[field]
			if !ok {
				return ""
			}
			i, ok := index[col]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		promoRaw := get(models.FieldPromoPrice)
		currency := get(models.FieldCurrency)
		if currency == "" {
			currency = parser.ExtractCurrency(promoRaw)
		}
		var regular *float64
		if v := get(models.FieldRegularPrice); v != "" {
			regular = optionalPrice(parser.NormalizePrice(v))
		}

		out = append(out, models.ParsedCandidate{
			ScrapedProduct: models.ScrapedProduct{
				Name:           get(models.FieldName),
				PromoPrice:     parser.NormalizePrice(promoRaw),
				RegularPrice:   regular,
				Currency:       parser.NormalizeCurrency(currency),
				EAN:            get(models.FieldEAN),
				Brand:          get(models.FieldBrand),
				Category:       get(models.FieldCategory),
				PromoStartDate: get(models.FieldPromoStartDate),
				PromoEndDate:   get(models.FieldPromoEndDate),
			},
			Raw:      truncateRaw(strings.Join(row, string(r.Comma))),
			Strategy: StrategyCSV,
		})
	}
	return out
}
