package extract

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"

	"github.com/aluiziolira/go-scrape-promos/models"
)

func TestResolveFields(t *testing.T) {
	tests := []struct {
		name     string
		keys     []string
		explicit models.FieldMap
		expected map[string]string
	}{
		{
			name:     "exact names",
			keys:     []string{"name", "price", "regular_price", "ean"},
			expected: map[string]string{"name": "name", "promoPrice": "price", "regularPrice": "regular_price", "ean": "ean"},
		},
		{
			name:     "local headers",
			keys:     []string{"Naziv artikla", "Akcijska cijena", "Redovna cijena", "Barkod", "Valuta"},
			expected: map[string]string{"name": "Naziv artikla", "promoPrice": "Akcijska cijena", "regularPrice": "Redovna cijena", "ean": "Barkod", "currency": "Valuta"},
		},
		{
			name:     "explicit mapping wins",
			keys:     []string{"title", "name", "cost"},
			explicit: models.FieldMap{"name": "title", "promoPrice": "cost"},
			expected: map[string]string{"name": "title", "promoPrice": "cost"},
		},
		{
			name:     "dotted path passes through",
			keys:     []string{"label", "pricing"},
			explicit: models.FieldMap{"name": "label", "promoPrice": "pricing.sale"},
			expected: map[string]string{"name": "label", "promoPrice": "pricing.sale"},
		},
		{
			name:     "brand column is not a name",
			keys:     []string{"brand_name", "product_name", "price"},
			expected: map[string]string{"name": "product_name", "promoPrice": "price", "brand": "brand_name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveFields(tt.keys, tt.explicit)
			for field, want := range tt.expected {
				if got[field] != want {
					t.Fatalf("field %s = %q, want %q (all: %v)", field, got[field], want, got)
				}
			}
		})
	}
}

func TestFromJSON(t *testing.T) {
	payload, err := DecodeJSON([]byte(`{"products":[
		{"title":"Riža 1kg","sale_price":"2,19 KM","old_price":2.79,"gtin":3870000000017,"brand":{"name":"Zlatno zrno"}},
		{"title":"Bez cijene"}
	]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	got := FromJSON(payload, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	riza := got[0]
	if riza.Name != "Riža 1kg" || riza.PromoPrice != 2.19 || riza.Currency != "BAM" {
		t.Fatalf("riza = %+v", riza.ScrapedProduct)
	}
	if riza.RegularPrice == nil || *riza.RegularPrice != 2.79 || riza.EAN != "3870000000017" || riza.Brand != "Zlatno zrno" {
		t.Fatalf("riza extras = %+v", riza.ScrapedProduct)
	}
	if !math.IsNaN(got[1].PromoPrice) {
		t.Fatalf("missing price should be NaN, got %v", got[1].PromoPrice)
	}
}

func TestFromJSONDottedMapping(t *testing.T) {
	payload, _ := DecodeJSON([]byte(`[{"label":"Kafa","pricing":{"sale":"5.49","list":"6.99","cur":"EUR"}}]`))
	fields := models.FieldMap{
		"name":         "label",
		"promoPrice":   "pricing.sale",
		"regularPrice": "pricing.list",
		"currency":     "pricing.cur",
	}

	got := FromJSON(payload, fields)
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].Name != "Kafa" || got[0].PromoPrice != 5.49 || *got[0].RegularPrice != 6.99 || got[0].Currency != "EUR" {
		t.Fatalf("mapped = %+v", got[0].ScrapedProduct)
	}
}

func TestFromJSONUnknownShape(t *testing.T) {
	payload, _ := DecodeJSON([]byte(`{"status":"ok"}`))
	if got := FromJSON(payload, nil); len(got) != 0 {
		t.Fatalf("expected no records, got %+v", got)
	}
}

func TestFromCSV(t *testing.T) {
	got := FromCSV([]byte("name,price\nMlijeko,1.99\nHljeb,0.89"), nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Name != "Mlijeko" || got[0].PromoPrice != 1.99 {
		t.Fatalf("first = %+v", got[0].ScrapedProduct)
	}
	if got[1].Name != "Hljeb" || got[1].PromoPrice != 0.89 {
		t.Fatalf("second = %+v", got[1].ScrapedProduct)
	}
	if got[0].Strategy != StrategyCSV {
		t.Fatalf("strategy = %q", got[0].Strategy)
	}
}

func TestFromCSVSemicolonAndWindows1250(t *testing.T) {
	text := "Naziv;Akcijska cijena;Redovna cijena;Valuta;Kategorija\r\n\"Šećer 1kg\";1,49;1,89;KM;Namirnice\r\nČaj;0,99;;KM;\r\n"
	encoded, err := charmap.Windows1250.NewEncoder().String(text)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got := FromCSV([]byte(encoded), nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Name != "Šećer 1kg" || got[0].PromoPrice != 1.49 || got[0].RegularPrice == nil || *got[0].RegularPrice != 1.89 {
		t.Fatalf("first = %+v", got[0].ScrapedProduct)
	}
	if got[0].Currency != "BAM" || got[0].Category != "Namirnice" {
		t.Fatalf("first extras = %+v", got[0].ScrapedProduct)
	}
	if got[1].Name != "Čaj" || got[1].RegularPrice != nil {
		t.Fatalf("second = %+v", got[1].ScrapedProduct)
	}
}

func TestFromCSVExplicitMapAndBOM(t *testing.T) {
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte("art,iznos\nSol,0.55")...)
	got := FromCSV(body, models.FieldMap{"name": "art", "promoPrice": "iznos"})
	if len(got) != 1 || got[0].Name != "Sol" || got[0].PromoPrice != 0.55 {
		t.Fatalf("mapped = %+v", got)
	}
}

func TestFromCSVEmpty(t *testing.T) {
	if got := FromCSV([]byte("  \n"), nil); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestFromText(t *testing.T) {
	text := strings.Join([]string{
		"AKCIJA TJEDNA",
		"Mlijeko 2.8%",
		"1L",
		"2,49 KM 1,99 KM",
		"Hljeb bijeli 0,89 KM",
		"",
		"samo tekst",
	}, "\n")

	got := FromText(text, StrategyPDF)
	if len(got) != 2 {
		t.Fatalf("expected 2 products, got %+v", got)
	}
	if got[0].Name != "Mlijeko 2.8% 1L" || got[0].PromoPrice != 1.99 || got[0].RegularPrice == nil || *got[0].RegularPrice != 2.49 {
		t.Fatalf("first = %+v", got[0].ScrapedProduct)
	}
	if got[1].Name != "Hljeb bijeli" || got[1].PromoPrice != 0.89 || got[1].RegularPrice != nil {
		t.Fatalf("second = %+v", got[1].ScrapedProduct)
	}
	if got[1].Currency != "BAM" || got[1].Strategy != StrategyPDF {
		t.Fatalf("second currency/strategy = %q/%q", got[1].Currency, got[1].Strategy)
	}
}

// buildLeafletPDF writes a one-page PDF whose lines are placed with Td,
// computing the xref offsets as it goes.
func buildLeafletPDF(lines ...string) []byte {
	var content strings.Builder
	content.WriteString("BT /F1 12 Tf 20 250 Td")
	for i, line := range lines {
		if i > 0 {
			content.WriteString(" 0 -20 Td")
		}
		fmt.Fprintf(&content, " (%s) Tj", line)
	}
	content.WriteString(" ET")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 300 300] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

func TestPDFTextKeepsPositionedLines(t *testing.T) {
	body := buildLeafletPDF("Mlijeko 1L", "Akcija 1,99 KM 2,49 KM", "Hljeb", "0,89 KM")

	text, err := PDFText(body)
	if err != nil {
		t.Fatalf("pdf text: %v", err)
	}
	want := "Mlijeko 1L\nAkcija 1,99 KM 2,49 KM\nHljeb\n0,89 KM\n"
	if text != want {
		t.Fatalf("text = %q, want %q", text, want)
	}

	got, err := FromPDF(body)
	if err != nil {
		t.Fatalf("from pdf: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 products, got %+v", got)
	}
	if got[0].Name != "Mlijeko 1L Akcija" || got[0].PromoPrice != 1.99 || got[0].RegularPrice == nil || *got[0].RegularPrice != 2.49 {
		t.Fatalf("first = %+v", got[0].ScrapedProduct)
	}
	if got[1].Name != "Hljeb" || got[1].PromoPrice != 0.89 || got[1].Strategy != StrategyPDF {
		t.Fatalf("second = %+v", got[1])
	}
}

func TestPDFLinesOrderAndGaps(t *testing.T) {
	glyphs := []pdf.Text{
		{FontSize: 10, X: 60, Y: 100, W: 5, S: "B"},
		{FontSize: 10, X: 10, Y: 200, W: 5, S: "t"},
		{FontSize: 10, X: 10, Y: 100.5, W: 5, S: "A"},
		{FontSize: 10, X: 15, Y: 200, W: 5, S: "op"},
		{FontSize: 10, X: 15, Y: 99.8, W: 5, S: "a"},
	}
	got := pdfLines(glyphs)
	if len(got) != 2 || got[0] != "top" || got[1] != "Aa B" {
		t.Fatalf("lines = %q", got)
	}
	if pdfLines(nil) != nil {
		t.Fatalf("no glyphs must yield no lines")
	}
}

func TestFromPDFInvalidDocument(t *testing.T) {
	got, err := FromPDF([]byte("not a pdf"))
	if err == nil {
		t.Fatalf("expected error for invalid pdf")
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %+v", got)
	}
}

func TestTruncateRawKeepsRunes(t *testing.T) {
	raw := strings.Repeat("ž", MaxRawLength)
	got := truncateRaw(raw)
	if len(got) > MaxRawLength || !strings.HasPrefix(raw, got) || strings.ToValidUTF8(got, "?") != got {
		t.Fatalf("truncated badly: len=%d", len(got))
	}
}
