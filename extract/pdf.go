package extract

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/aluiziolira/go-scrape-promos/models"
)

const (
	// pdfRowTolerance is the fraction of the font size two glyphs may
	// differ in baseline and still share a row.
	pdfRowTolerance = 0.5
	// pdfGapRatio is the fraction of the font size a horizontal gap must
	// exceed to count as a word break.
	pdfGapRatio = 0.2
)

// PDFText returns the text layer of a PDF, one line per text row. Rows
// are built from positioned glyphs, so lines placed with any text
// positioning operator stay apart.
func PDFText(body []byte) (text string, err error) {
	// The reader panics on some malformed documents.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, line := range pdfLines(page.Content().Text) {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// pdfLines groups glyphs into rows top to bottom and joins each row left
// to right. Glyphs sharing a position keep content stream order.
func pdfLines(glyphs []pdf.Text) []string {
	if len(glyphs) == 0 {
		return nil
	}
	glyphs = append([]pdf.Text(nil), glyphs...)
	sort.SliceStable(glyphs, func(i, j int) bool {
		return glyphs[i].Y > glyphs[j].Y
	})

	var rows [][]pdf.Text
	for _, g := range glyphs {
		if n := len(rows); n > 0 {
			first := rows[n-1][0]
			if math.Abs(first.Y-g.Y) <= pdfRowTolerance*math.Max(first.FontSize, 1) {
				rows[n-1] = append(rows[n-1], g)
				continue
			}
		}
		rows = append(rows, []pdf.Text{g})
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })

		var line strings.Builder
		for j, g := range row {
			if j > 0 {
				prev := row[j-1]
				gap := g.X - (prev.X + prev.W)
				if gap > pdfGapRatio*g.FontSize && !strings.HasSuffix(line.String(), " ") && !strings.HasPrefix(g.S, " ") {
					line.WriteByte(' ')
				}
			}
			line.WriteString(g.S)
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}

// FromPDF extracts candidates from a PDF's text layer. Rows read before a
// failure are still parsed.
func FromPDF(body []byte) ([]models.ParsedCandidate, error) {
	text, err := PDFText(body)
	return FromText(text, StrategyPDF), err
}
