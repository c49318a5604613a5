package extract

import (
	"bufio"
	"strings"

	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/parser"
)

const textContextLines = 2

// FromText parses free text line by line. Up to two preceding lines
// without prices are kept as context; the first line with price tokens
// emits a candidate named by the context plus that line's remaining text.
func FromText(text, strategy string) []models.ParsedCandidate {
	var out []models.ParsedCandidate
	var context []string

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := parser.CleanText(sc.Text())
		if line == "" {
			continue
		}
		tokens := parser.FindPriceTokens(line)
		if len(tokens) == 0 {
			context = append(context, line)
			if len(context) > textContextLines {
				context = context[len(context)-textContextLines:]
			}
			continue
		}

		parts := append(append([]string(nil), context...), parser.StripPriceTokens(line))
		name := parser.CleanText(strings.Join(parts, " "))
		promo, regular := parser.PromoAndRegular(tokens)
		out = append(out, models.ParsedCandidate{
			ScrapedProduct: models.ScrapedProduct{
				Name:         name,
				PromoPrice:   promo,
				RegularPrice: regular,
				Currency:     parser.TokensCurrency(tokens),
			},
			Raw:      truncateRaw(strings.Join(append(append([]string(nil), context...), line), "\n")),
			Strategy: strategy,
		})
		context = context[:0]
	}
	return out
}
