// Package store persists competitor definitions and scraped price rows in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-scrape-promos/models"
)

// ErrEmptyCompetitor is returned when a competitor lacks a name or URL.
var ErrEmptyCompetitor = errors.New("store: competitor needs a name and base url")

const schema = `
CREATE TABLE IF NOT EXISTS competitors (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	base_url         TEXT NOT NULL,
	source_type      TEXT NOT NULL DEFAULT 'html',
	config_json      TEXT,
	is_active        INTEGER NOT NULL DEFAULT 1,
	refresh_interval INTEGER,
	created_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS competitor_prices (
	id               TEXT PRIMARY KEY,
	run_id           TEXT,
	competitor_id    TEXT NOT NULL REFERENCES competitors(id),
	product_name     TEXT NOT NULL,
	category         TEXT,
	brand            TEXT,
	regular_price    REAL,
	promo_price      REAL,
	product_ean      TEXT,
	promo_start_date TEXT,
	promo_end_date   TEXT,
	currency         TEXT,
	fetched_at       TEXT
);

CREATE INDEX IF NOT EXISTS idx_competitor_prices_competitor ON competitor_prices(competitor_id);
CREATE INDEX IF NOT EXISTS idx_competitor_prices_run ON competitor_prices(run_id);
CREATE INDEX IF NOT EXISTS idx_competitor_prices_ean ON competitor_prices(product_ean);
`

// Store is a SQLite-backed competitor and price store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (and creates if needed) the database at path and applies
// the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// Pragmas in the DSN apply to every pooled connection.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ActiveCompetitors returns the active competitors in creation order. A
// row with unreadable config_json is returned without a scraper config.
func (s *Store) ActiveCompetitors(ctx context.Context) ([]models.CompetitorConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, base_url, source_type, config_json
		FROM competitors
		WHERE is_active = 1
		ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query competitors: %w", err)
	}
	defer rows.Close()

	var out []models.CompetitorConfig
	for rows.Next() {
		var (
			c          models.CompetitorConfig
			sourceType string
			configJSON sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.BaseURL, &sourceType, &configJSON); err != nil {
			return nil, fmt.Errorf("scan competitor: %w", err)
		}
		c.SourceType = models.SourceType(sourceType)
		if configJSON.Valid && strings.TrimSpace(configJSON.String) != "" {
			var sc models.ScraperConfig
			if err := json.Unmarshal([]byte(configJSON.String), &sc); err != nil {
				s.logger.Warn("ignoring unreadable scraper config",
					slog.String("competitor", c.Name),
					slog.Any("error", err),
				)
			} else {
				c.ScraperConfig = &sc
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read competitors: %w", err)
	}
	return out, nil
}

// UpsertCompetitor inserts or replaces a competitor definition.
func (s *Store) UpsertCompetitor(ctx context.Context, c models.CompetitorConfig, active bool) error {
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.BaseURL) == "" {
		return ErrEmptyCompetitor
	}

	var configJSON sql.NullString
	if c.ScraperConfig != nil {
		encoded, err := json.Marshal(c.ScraperConfig)
		if err != nil {
			return fmt.Errorf("encode scraper config: %w", err)
		}
		configJSON = sql.NullString{String: string(encoded), Valid: true}
	}

	sourceType := string(c.SourceType)
	if sourceType == "" {
		sourceType = string(models.SourceHTML)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO competitors (id, name, base_url, source_type, config_json, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			base_url = excluded.base_url,
			source_type = excluded.source_type,
			config_json = excluded.config_json,
			is_active = excluded.is_active`,
		c.ID, c.Name, c.BaseURL, sourceType, configJSON, active)
	if err != nil {
		return fmt.Errorf("upsert competitor %s: %w", c.Name, err)
	}
	return nil
}

// InsertPrices writes records in a single transaction. Either every row is
// stored or none is.
func (s *Store) InsertPrices(ctx context.Context, records []*models.PriceRecord) (err error) {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO competitor_prices (
			id, run_id, competitor_id, product_name, category, brand,
			regular_price, promo_price, product_ean, promo_start_date,
			promo_end_date, currency, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err = stmt.ExecContext(ctx,
			r.ID,
			nullString(r.RunID),
			r.CompetitorID,
			r.ProductName,
			nullString(r.Category),
			nullString(r.Brand),
			nullFloat(r.RegularPrice),
			r.PromoPrice,
			nullString(r.ProductEAN),
			nullString(r.PromoStartDate),
			nullString(r.PromoEndDate),
			nullString(r.Currency),
			r.FetchedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert price %q: %w", r.ProductName, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit prices: %w", err)
	}
	return nil
}

// PricesForRun returns the rows saved by one batch run.
func (s *Store) PricesForRun(ctx context.Context, runID string) ([]*models.PriceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, competitor_id, product_name, category, brand,
			regular_price, promo_price, product_ean, promo_start_date,
			promo_end_date, currency, fetched_at
		FROM competitor_prices
		WHERE run_id = ?
		ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	var out []*models.PriceRecord
	for rows.Next() {
		var (
			r                                           models.PriceRecord
			run, category, brand, ean, start, end, curr sql.NullString
			regular                                     sql.NullFloat64
			fetchedAt                                   sql.NullString
		)
		if err := rows.Scan(&r.ID, &run, &r.CompetitorID, &r.ProductName, &category, &brand,
			&regular, &r.PromoPrice, &ean, &start, &end, &curr, &fetchedAt); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		r.RunID, r.Category, r.Brand = run.String, category.String, brand.String
		r.ProductEAN, r.PromoStartDate, r.PromoEndDate, r.Currency = ean.String, start.String, end.String, curr.String
		if regular.Valid {
			v := regular.Float64
			r.RegularPrice = &v
		}
		if fetchedAt.Valid {
			r.FetchedAt, _ = time.Parse(time.RFC3339Nano, fetchedAt.String)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
