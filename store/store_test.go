package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-promos/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "promos.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestActiveCompetitors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ai := true

	seed := []struct {
		c      models.CompetitorConfig
		active bool
	}{
		{models.CompetitorConfig{ID: "c1", Name: "Bingo", BaseURL: "https://bingo.test/akcije", SourceType: models.SourceHTML}, true},
		{models.CompetitorConfig{ID: "c2", Name: "Stari", BaseURL: "https://old.test", SourceType: models.SourceCSV}, false},
		{models.CompetitorConfig{ID: "c3", Name: "Feed", BaseURL: "https://feed.test/promo.json", SourceType: models.SourceJSON,
			ScraperConfig: &models.ScraperConfig{AIEnabled: &ai, JSONMap: models.FieldMap{models.FieldName: "naziv"}}}, true},
	}
	for _, row := range seed {
		if err := s.UpsertCompetitor(ctx, row.c, row.active); err != nil {
			t.Fatalf("upsert %s: %v", row.c.Name, err)
		}
	}

	got, err := s.ActiveCompetitors(ctx)
	if err != nil {
		t.Fatalf("active competitors: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c1" || got[1].ID != "c3" {
		t.Fatalf("active = %+v", got)
	}
	if got[0].ScraperConfig != nil {
		t.Fatalf("expected no scraper config for c1")
	}
	if !got[1].ScraperConfig.AI() || got[1].ScraperConfig.JSONMap[models.FieldName] != "naziv" {
		t.Fatalf("scraper config = %+v", got[1].ScraperConfig)
	}

	// Deactivating through upsert removes it from the active list.
	if err := s.UpsertCompetitor(ctx, seed[0].c, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, err = s.ActiveCompetitors(ctx)
	if err != nil || len(got) != 1 {
		t.Fatalf("after deactivate = %+v, %v", got, err)
	}
}

func TestUnreadableConfigIsIgnored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO competitors (id, name, base_url, source_type, config_json) VALUES ('x', 'Broken', 'https://b.test', 'html', '{not json')`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := s.ActiveCompetitors(ctx)
	if err != nil {
		t.Fatalf("active competitors: %v", err)
	}
	if len(got) != 1 || got[0].ScraperConfig != nil {
		t.Fatalf("got %+v", got)
	}
}

func TestUpsertCompetitorValidates(t *testing.T) {
	s := openTestStore(t)
	err := s.UpsertCompetitor(context.Background(), models.CompetitorConfig{ID: "c1", Name: "No URL"}, true)
	if !errors.Is(err, ErrEmptyCompetitor) {
		t.Fatalf("expected ErrEmptyCompetitor, got %v", err)
	}
}

func TestInsertPrices(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.UpsertCompetitor(ctx, models.CompetitorConfig{ID: "c1", Name: "Bingo", BaseURL: "https://bingo.test"}, true); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	regular := 2.49
	fetched := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	records := []*models.PriceRecord{
		{ID: "p1", RunID: "run-1", CompetitorID: "c1", ProductName: "Mlijeko", PromoPrice: 1.99, RegularPrice: &regular, Currency: "BAM", FetchedAt: fetched},
		{ID: "p2", RunID: "run-1", CompetitorID: "c1", ProductName: "Hljeb", PromoPrice: 0.89, FetchedAt: fetched},
	}
	if err := s.InsertPrices(ctx, records); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.PricesForRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].ProductName != "Mlijeko" || got[0].RegularPrice == nil || *got[0].RegularPrice != 2.49 || got[0].Currency != "BAM" {
		t.Fatalf("first row = %+v", got[0])
	}
	if got[1].RegularPrice != nil || got[1].Brand != "" || !got[1].FetchedAt.Equal(fetched) {
		t.Fatalf("second row = %+v", got[1])
	}
}

func TestPriceColumnsAreAllWritten(t *testing.T) {
	s := openTestStore(t)
	rows, err := s.db.QueryContext(context.Background(), `SELECT name FROM pragma_table_info('competitor_prices') ORDER BY cid`)
	if err != nil {
		t.Fatalf("table info: %v", err)
	}
	defer rows.Close()

	var got []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}

	want := []string{
		"id", "run_id", "competitor_id", "product_name", "category", "brand",
		"regular_price", "promo_price", "product_ean", "promo_start_date",
		"promo_end_date", "currency", "fetched_at",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("columns = %v, want %v", got, want)
	}
}

func TestInsertPricesIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.UpsertCompetitor(ctx, models.CompetitorConfig{ID: "c1", Name: "Bingo", BaseURL: "https://bingo.test"}, true); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	records := []*models.PriceRecord{
		{ID: "p1", RunID: "run-2", CompetitorID: "c1", ProductName: "Mlijeko", PromoPrice: 1.99},
		{ID: "p2", RunID: "run-2", CompetitorID: "missing", ProductName: "Hljeb", PromoPrice: 0.89},
	}
	if err := s.InsertPrices(ctx, records); err == nil {
		t.Fatalf("expected foreign key violation")
	}
	got, err := s.PricesForRun(ctx, "run-2")
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("partial insert left %d rows", len(got))
	}
}

func TestDefaultsApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	yamlDoc := `competitors:
  - id: c1
    config:
      selectors:
        product: ".product"
        name: "h3"
        price: ".price"
      urls: ["https://bingo.test/katalog"]
  - name: Konzum
    config:
      aiEnabled: true
      csvMap:
        name: Artikal
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write defaults: %v", err)
	}
	defaults, err := LoadDefaults(path)
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	stored := &models.ScraperConfig{URLs: []string{"https://bingo.test/stored"}}
	got := defaults.Apply([]models.CompetitorConfig{
		{ID: "c1", Name: "Bingo", ScraperConfig: stored},
		{ID: "c9", Name: " konzum "},
		{ID: "c5", Name: "Other"},
	})

	bingo := got[0].ScraperConfig
	if bingo.Selectors.Empty() || bingo.Selectors.Price != ".price" {
		t.Fatalf("selectors not filled: %+v", bingo)
	}
	if len(bingo.URLs) != 1 || bingo.URLs[0] != "https://bingo.test/stored" {
		t.Fatalf("stored urls must win: %v", bingo.URLs)
	}
	if stored.Selectors != nil {
		t.Fatalf("apply mutated the stored config")
	}

	konzum := got[1].ScraperConfig
	if konzum == nil || !konzum.AI() || konzum.CSVMap[models.FieldName] != "Artikal" {
		t.Fatalf("name match = %+v", konzum)
	}
	if got[2].ScraperConfig != nil {
		t.Fatalf("unmatched competitor got a config")
	}
}

func TestParseDefaultsRejectsAnonymousEntry(t *testing.T) {
	if _, err := ParseDefaults([]byte("competitors:\n  - config: {}\n")); err == nil {
		t.Fatalf("expected error")
	}
	defaults, err := LoadDefaults("")
	if err != nil || len(defaults) != 0 {
		t.Fatalf("empty path = %v, %v", defaults, err)
	}
}

func TestSeed(t *testing.T) {
	s := openTestStore(t)
	path := filepath.Join(t.TempDir(), "competitors.yaml")
	doc := `competitors:
  - id: c1
    name: Bingo
    baseUrl: https://bingo.test/akcije
    sourceType: HTML
  - id: c2
    name: Katalog
    baseUrl: https://katalog.test/letak.pdf
    sourceType: pdf
    active: false
  - id: c3
    name: Feed
    baseUrl: https://feed.test/akcije.csv
    sourceType: csv
    config:
      csvMap:
        name: Artikal
        promoPrice: Cijena
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	n, err := s.Seed(context.Background(), path)
	if err != nil || n != 3 {
		t.Fatalf("seed = %d, %v", n, err)
	}
	got, err := s.ActiveCompetitors(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(got) != 2 || got[0].SourceType != models.SourceHTML || got[1].ScraperConfig.CSVMap[models.FieldPromoPrice] != "Cijena" {
		t.Fatalf("active = %+v", got)
	}
}
