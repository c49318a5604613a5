package extract

import (
	"math"
	"testing"

	"github.com/aluiziolira/go-scrape-promos/models"
)

func mustPage(t *testing.T, markup string) *Page {
	t.Helper()
	page, err := ParseHTML([]byte(markup))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return page
}

func byName(candidates []models.ParsedCandidate) map[string]models.ParsedCandidate {
	out := make(map[string]models.ParsedCandidate, len(candidates))
	for _, c := range candidates {
		out[c.Name] = c
	}
	return out
}

func TestFromHTMLJSONLDAndCard(t *testing.T) {
	page := mustPage(t, `<html><head>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Product","name":"Sok od jabuke 1L","offers":{"@type":"Offer","price":"9.99","priceCurrency":"BAM"}}</script>
</head><body>
<div class="product-card"><h3>Čokolada 100g</h3><span class="old">3,19 KM</span><span class="new">2,49 KM</span></div>
</body></html>`)

	got := byName(FromHTML(page, nil))
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct products, got %v", got)
	}

	sok, ok := got["Sok od jabuke 1L"]
	if !ok || sok.PromoPrice != 9.99 || sok.Currency != "BAM" || sok.Strategy != StrategyJSONLD {
		t.Fatalf("json-ld product = %+v", sok)
	}

	cokolada, ok := got["Čokolada 100g"]
	if !ok || cokolada.PromoPrice != 2.49 || cokolada.RegularPrice == nil || *cokolada.RegularPrice != 3.19 {
		t.Fatalf("card product = %+v", cokolada)
	}
	if cokolada.Currency != "BAM" || cokolada.Strategy != StrategyCards {
		t.Fatalf("card currency/strategy = %q/%q", cokolada.Currency, cokolada.Strategy)
	}
}

func TestBySelectors(t *testing.T) {
	page := mustPage(t, `<ul>
<li class="tile" data-sku="3870001"><span class="t">Kafa 200g</span><b class="p">4,99 KM</b><s class="r">5,99 KM</s></li>
<li class="tile" data-sku="3870002"><span class="t">Čaj</span><em>1,29 €</em></li>
</ul>`)

	sel := &models.Selectors{Product: "li.tile", Name: ".t", Price: ".p", RegularPrice: ".r", EAN: "@data-sku"}
	got := BySelectors(page.Doc, sel)
	if len(got) != 2 {
		t.Fatalf("expected 2 products, got %d", len(got))
	}

	if got[0].Name != "Kafa 200g" || got[0].PromoPrice != 4.99 || got[0].RegularPrice == nil || *got[0].RegularPrice != 5.99 {
		t.Fatalf("first = %+v", got[0])
	}
	if got[0].EAN != "3870001" || got[0].Currency != "BAM" {
		t.Fatalf("first ean/currency = %q/%q", got[0].EAN, got[0].Currency)
	}
	// No price element: tokens from the block text are used.
	if got[1].PromoPrice != 1.29 || got[1].Currency != "EUR" {
		t.Fatalf("second = %+v", got[1])
	}
}

func TestFromHTMLSelectorsFallBackToCards(t *testing.T) {
	page := mustPage(t, `<article><h2>Jogurt</h2><p>0,79 KM</p></article>`)
	cfg := &models.ScraperConfig{Selectors: &models.Selectors{Product: ".missing"}}

	got := FromHTML(page, cfg)
	if len(got) != 1 || got[0].Name != "Jogurt" || got[0].Strategy != StrategyCards {
		t.Fatalf("expected card fallback, got %+v", got)
	}
}

func TestCardsSkipsListingContainers(t *testing.T) {
	page := mustPage(t, `<div class="product-list">
<h2>Akcije</h2>
<div class="product-item"><h3>Sir</h3><span>6,50 KM</span></div>
<div class="product-item"><h3>Maslac</h3><span>3,20 KM</span><div class="product-price">4,10 KM</div></div>
</div>`)

	got := Cards(page)
	names := byName(got)
	if len(got) != 2 {
		t.Fatalf("expected 2 cards, got %d: %+v", len(got), got)
	}
	if _, ok := names["Akcije"]; ok {
		t.Fatalf("listing container emitted as a product")
	}
	maslac := names["Maslac"]
	if maslac.PromoPrice != 3.20 || maslac.RegularPrice == nil || *maslac.RegularPrice != 4.10 {
		t.Fatalf("maslac = %+v", maslac)
	}
}

func TestCardsDataAttributes(t *testing.T) {
	page := mustPage(t, `<button data-product-name="Ulje 1L" data-price="3.49" data-currency="KM" data-ean="3871234567890">Kupi</button>`)

	got := Cards(page)
	if len(got) != 1 {
		t.Fatalf("expected 1 product, got %+v", got)
	}
	if got[0].Name != "Ulje 1L" || got[0].PromoPrice != 3.49 || got[0].Currency != "BAM" || got[0].EAN != "3871234567890" {
		t.Fatalf("data product = %+v", got[0])
	}
}

func TestCardsFromMarkupFallback(t *testing.T) {
	got := cardsFromMarkup(`<article class="x"><h4>Brašno &amp; kvasac</h4> 1,10 KM</article>`)
	if len(got) != 1 || got[0].Name != "Brašno & kvasac" || got[0].PromoPrice != 1.10 {
		t.Fatalf("markup cards = %+v", got)
	}
}

func TestJSONLDGraphAndOffers(t *testing.T) {
	page := mustPage(t, `<script type="application/ld+json">
{"@graph":[
 {"@type":"WebPage","name":"Akcije"},
 {"@type":"Product","name":"Deterdžent 3kg","gtin13":"3850000000001","brand":{"@type":"Brand","name":"Arf"},"category":"Kućna hemija",
  "offers":[{"@type":"Offer","price":12.99,"priceCurrency":"EUR","priceValidFrom":"2024-05-01","priceValidUntil":"2024-05-14",
   "priceSpecification":{"@type":"UnitPriceSpecification","priceType":"https://schema.org/ListPrice","price":15.49}}]}
]}
</script>
<script type="application/ld+json">{not json</script>
<script type="application/ld+json">{"@type":"ItemList","itemListElement":[{"@type":"ListItem","item":{"@type":"Product","name":"Pasta","offers":{"lowPrice":"1,05"}}}]}</script>`)

	got := byName(JSONLD(page.Doc))
	if len(got) != 2 {
		t.Fatalf("expected 2 products, got %+v", got)
	}

	det := got["Deterdžent 3kg"]
	if det.PromoPrice != 12.99 || det.RegularPrice == nil || *det.RegularPrice != 15.49 {
		t.Fatalf("prices = %+v", det)
	}
	if det.EAN != "3850000000001" || det.Brand != "Arf" || det.Category != "Kućna hemija" || det.Currency != "EUR" {
		t.Fatalf("fields = %+v", det.ScrapedProduct)
	}
	if det.PromoStartDate != "2024-05-01" || det.PromoEndDate != "2024-05-14" {
		t.Fatalf("dates = %q..%q", det.PromoStartDate, det.PromoEndDate)
	}

	if pasta := got["Pasta"]; pasta.PromoPrice != 1.05 {
		t.Fatalf("pasta = %+v", pasta)
	}
}

func TestJSONLDWithoutOffersHasNaNPrice(t *testing.T) {
	page := mustPage(t, `<script type="application/ld+json">{"@type":["Product","Thing"],"name":"Bez cijene"}</script>`)
	got := JSONLD(page.Doc)
	if len(got) != 1 || !math.IsNaN(got[0].PromoPrice) {
		t.Fatalf("expected one priceless candidate, got %+v", got)
	}
}

func TestSameOriginLinks(t *testing.T) {
	page := mustPage(t, `<a href="/akcije">a</a><a href="https://other.test/x">b</a><a href="#top">c</a><a href="/akcije">dup</a><a href="mailto:x@y">m</a>`)
	resolve := func(href string) string {
		if href[0] == '/' {
			return "https://shop.test" + href
		}
		return href
	}
	sameOrigin := func(u string) bool { return len(u) >= 17 && u[:17] == "https://shop.test" }

	got := SameOriginLinks(page.Doc, resolve, sameOrigin)
	if len(got) != 1 || got[0] != "https://shop.test/akcije" {
		t.Fatalf("links = %v", got)
	}
}
