// Package batch runs one scrape over every active competitor, saves the
// products it finds and reports per-competitor outcomes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/store"
)

// CompetitorSource lists the competitors to scrape.
type CompetitorSource interface {
	ActiveCompetitors(ctx context.Context) ([]models.CompetitorConfig, error)
}

// PriceSink persists price rows in bulk.
type PriceSink interface {
	InsertPrices(ctx context.Context, records []*models.PriceRecord) error
}

// Scraper produces the products of one competitor.
type Scraper interface {
	Scrape(ctx context.Context, competitor models.CompetitorConfig) ([]models.ScrapedProduct, error)
}

// Exporter receives saved rows, e.g. a pipeline.Pipeline feeding a file.
type Exporter interface {
	Process(records []*models.PriceRecord) error
}

// Observer records competitor outcomes.
type Observer interface {
	ObserveCompetitor(success bool, d time.Duration)
}

// Options wires a Runner. Source, Sink and Scraper are required.
type Options struct {
	Source   CompetitorSource
	Sink     PriceSink
	Scraper  Scraper
	Defaults store.Defaults
	Exporter Exporter
	Observer Observer
	// Delay is slept after every competitor.
	Delay  time.Duration
	Logger *slog.Logger
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Runner executes batches sequentially. A Runner is not safe for
// concurrent Run calls.
type Runner struct {
	opts Options
}

// NewRunner validates opts and builds a Runner.
func NewRunner(opts Options) (*Runner, error) {
	switch {
	case opts.Source == nil:
		return nil, errors.New("batch: competitor source is required")
	case opts.Sink == nil:
		return nil, errors.New("batch: price sink is required")
	case opts.Scraper == nil:
		return nil, errors.New("batch: scraper is required")
	}
	if opts.Delay < 0 {
		return nil, fmt.Errorf("batch: negative delay %s", opts.Delay)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts}, nil
}

// Run scrapes every active competitor in order. It fails only when the
// competitor list cannot be read; per-competitor failures are reported in
// the results. Cancelling ctx stops the batch between competitors.
func (r *Runner) Run(ctx context.Context) (*models.BatchReport, error) {
	report := &models.BatchReport{
		RunID:     uuid.NewString(),
		StartTime: r.opts.Now(),
		Results:   []models.ScrapeResult{},
	}
	logger := r.opts.Logger.With(slog.String("run_id", report.RunID))

	competitors, err := r.opts.Source.ActiveCompetitors(ctx)
	if err != nil {
		return nil, fmt.Errorf("load competitors: %w", err)
	}
	competitors = r.opts.Defaults.Apply(competitors)
	logger.Info("starting batch", slog.Int("competitors", len(competitors)))

	for i, competitor := range competitors {
		if err := ctx.Err(); err != nil {
			logger.Warn("batch cancelled", slog.Int("remaining", len(competitors)-i))
			break
		}

		result := r.runCompetitor(ctx, report.RunID, competitor, logger)
		report.Results = append(report.Results, result)

		sleep(ctx, r.opts.Delay)
	}

	report.EndTime = r.opts.Now()
	report.Summary = models.Summarize(report.Results)
	logger.Info("batch finished",
		slog.Int("successful", report.Summary.Successful),
		slog.Int("failed", report.Summary.Failed),
		slog.Int("prices_saved", report.Summary.TotalPricesSaved),
		slog.Duration("duration", report.EndTime.Sub(report.StartTime)),
	)
	return report, nil
}

func (r *Runner) runCompetitor(ctx context.Context, runID string, competitor models.CompetitorConfig, logger *slog.Logger) (result models.ScrapeResult) {
	start := time.Now()
	result.Competitor = competitor.Name
	logger = logger.With(slog.String("competitor", competitor.Name))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("competitor panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			result = models.ScrapeResult{
				Competitor: competitor.Name,
				Error:      fmt.Sprintf("panic: %v", rec),
			}
		}
		if o := r.opts.Observer; o != nil {
			o.ObserveCompetitor(result.Success, time.Since(start))
		}
	}()

	products, err := r.opts.Scraper.Scrape(ctx, competitor)
	if err != nil {
		logger.Error("competitor failed", slog.Any("error", err))
		result.Error = err.Error()
		return result
	}

	if len(products) == 0 {
		logger.Info("no promotional products found")
		result.Success = true
		return result
	}

	records := r.records(runID, competitor, products)
	if err := r.opts.Sink.InsertPrices(ctx, records); err != nil {
		logger.Error("saving prices failed", slog.Any("error", err))
		result.Error = err.Error()
		return result
	}

	if r.opts.Exporter != nil {
		if err := r.opts.Exporter.Process(records); err != nil {
			logger.Warn("export failed", slog.Any("error", err))
		}
	}

	logger.Info("competitor saved", slog.Int("products", len(records)))
	result.Success = true
	result.ProductsFound = len(records)
	return result
}

func (r *Runner) records(runID string, competitor models.CompetitorConfig, products []models.ScrapedProduct) []*models.PriceRecord {
	fetchedAt := r.opts.Now().UTC()
	out := make([]*models.PriceRecord, 0, len(products))
	for _, p := range products {
		out = append(out, &models.PriceRecord{
			ID:             uuid.NewString(),
			RunID:          runID,
			CompetitorID:   competitor.ID,
			ProductName:    p.Name,
			Category:       p.Category,
			Brand:          p.Brand,
			RegularPrice:   p.RegularPrice,
			PromoPrice:     p.PromoPrice,
			ProductEAN:     p.EAN,
			PromoStartDate: p.PromoStartDate,
			PromoEndDate:   p.PromoEndDate,
			Currency:       p.Currency,
			FetchedAt:      fetchedAt,
		})
	}
	return out
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
