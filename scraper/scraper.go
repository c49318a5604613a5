// Package scraper turns one competitor definition into a list of products:
// it chooses extraction strategies by source type, crawls storefronts and
// hands the candidate pool to the finalizer.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-promos/config"
	"github.com/aluiziolira/go-scrape-promos/extract"
	"github.com/aluiziolira/go-scrape-promos/fetch"
	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/pipeline"
)

// ErrUnreachable is returned when every fetch made for a competitor failed.
var ErrUnreachable = errors.New("competitor unreachable")

// strategyFunc runs one source-type strategy for a competitor.
type strategyFunc func(s *Scraper, ctx context.Context, run *competitorRun) []models.ParsedCandidate

// strategies is the closed dispatch table from source type to strategy.
// api sources are read with the JSON extractor.
var strategies = map[models.SourceType]strategyFunc{
	models.SourceHTML:  (*Scraper).runHTML,
	models.SourceAPI:   (*Scraper).runJSON,
	models.SourceJSON:  (*Scraper).runJSON,
	models.SourceCSV:   (*Scraper).runCSV,
	models.SourcePDF:   (*Scraper).runPDF,
	models.SourceImage: (*Scraper).runImage,
}

// fallbackOrder lists the strategies tried after the declared one.
var fallbackOrder = []models.SourceType{
	models.SourceHTML,
	models.SourceJSON,
	models.SourceCSV,
	models.SourcePDF,
	models.SourceImage,
}

// StrategyOrder returns the strategies run for a declared source type:
// the declared type first, then the fallback order without repeats.
func StrategyOrder(declared models.SourceType) []models.SourceType {
	order := []models.SourceType{declared}
	for _, st := range fallbackOrder {
		if st == declared || (declared == models.SourceAPI && st == models.SourceJSON) {
			continue
		}
		order = append(order, st)
	}
	return order
}

// Options wires a Scraper's collaborators. Fetcher and Crawler are required.
type Options struct {
	Config    *config.Config
	Fetcher   fetch.Fetcher
	Crawler   *Crawler
	OCR       extract.OCR
	Finalizer *pipeline.Finalizer
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Scraper runs the strategy chain for one competitor at a time.
type Scraper struct {
	cfg       *config.Config
	fetcher   fetch.Fetcher
	crawler   *Crawler
	ocr       extract.OCR
	finalizer *pipeline.Finalizer
	Metrics   *Metrics
	logger    *slog.Logger
}

// NewScraper builds a Scraper from opts.
func NewScraper(opts Options) (*Scraper, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("scraper: fetcher is required")
	}
	if opts.Crawler == nil {
		return nil, fmt.Errorf("scraper: crawler is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	finalizer := opts.Finalizer
	if finalizer == nil {
		finalizer = pipeline.NewFinalizer(nil, opts.Metrics, logger)
	}
	return &Scraper{
		cfg:       cfg,
		fetcher:   opts.Fetcher,
		crawler:   opts.Crawler,
		ocr:       opts.OCR,
		finalizer: finalizer,
		Metrics:   opts.Metrics,
		logger:    logger,
	}, nil
}

// competitorRun holds per-competitor state: fetched bodies are reused
// across strategies and fetch outcomes decide reachability.
type competitorRun struct {
	competitor models.CompetitorConfig
	logger     *slog.Logger
	responses  map[string]*fetch.Response
	failures   map[string]error
	reached    int
	lastErr    error
}

func (r *competitorRun) fetchFailed(err error) {
	r.lastErr = err
}

// Scrape produces the finalized, deduplicated products of one competitor.
// It fails only when the competitor could not be reached at all.
func (s *Scraper) Scrape(ctx context.Context, competitor models.CompetitorConfig) ([]models.ScrapedProduct, error) {
	declared := models.ParseSourceType(string(competitor.SourceType))
	enrich := s.cfg.AIEnrichment || competitor.ScraperConfig.AI()
	logger := s.logger.With(
		slog.String("competitor", competitor.Name),
		slog.String("source_type", string(declared)),
	)

	if strings.TrimSpace(competitor.BaseURL) == "" {
		return nil, fmt.Errorf("competitor %q has no base url", competitor.Name)
	}

	if declared == models.SourceHTML || declared == models.SourceAPI {
		if products := s.tryStoreAPI(ctx, competitor, enrich, logger); len(products) > 0 {
			return products, nil
		}
	}

	run := &competitorRun{
		competitor: competitor,
		logger:     logger,
		responses:  make(map[string]*fetch.Response),
		failures:   make(map[string]error),
	}

	var pool []models.ParsedCandidate
	for _, st := range StrategyOrder(declared) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidates := strategies[st](s, ctx, run)
		if len(candidates) == 0 {
			continue
		}
		logger.Debug("strategy yielded candidates", slog.String("strategy", string(st)), slog.Int("candidates", len(candidates)))
		pool = append(pool, candidates...)
	}

	if len(pool) == 0 && run.reached == 0 && run.lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, run.lastErr)
	}

	products := s.finalizer.Finalize(ctx, pool, enrich)
	s.Metrics.AddProducts(len(products))
	logger.Info("competitor scraped",
		slog.Int("candidates", len(pool)),
		slog.Int("products", len(products)),
	)
	return products, nil
}

func (s *Scraper) tryStoreAPI(ctx context.Context, competitor models.CompetitorConfig, enrich bool, logger *slog.Logger) []models.ScrapedProduct {
	candidates, err := extract.StoreAPI(ctx, s.fetcher, competitor.BaseURL, s.cfg.StoreAPIPageSize, s.cfg.StoreAPIMaxPages)
	if err != nil {
		logger.Debug("store api unavailable", slog.Any("error", err))
	}
	s.Metrics.AddCandidates(extract.StrategyStoreAPI, len(candidates))
	if len(candidates) == 0 {
		return nil
	}

	products := s.finalizer.Finalize(ctx, candidates, enrich)
	if len(products) > 0 {
		s.Metrics.AddProducts(len(products))
		logger.Info("competitor scraped via store api", slog.Int("products", len(products)))
	}
	return products
}

func (s *Scraper) runHTML(ctx context.Context, run *competitorRun) []models.ParsedCandidate {
	result, err := s.crawler.Crawl(ctx, run.competitor)
	if err != nil {
		run.logger.Warn("crawl failed", slog.Any("error", err))
		run.fetchFailed(err)
		return nil
	}
	run.reached += result.Pages
	if result.Err != nil {
		run.fetchFailed(result.Err)
	}
	s.countCandidates(result.Candidates)
	return result.Candidates
}

func (s *Scraper) runJSON(ctx context.Context, run *competitorRun) []models.ParsedCandidate {
	var fields models.FieldMap
	if run.competitor.ScraperConfig != nil {
		fields = run.competitor.ScraperConfig.JSONMap
	}

	var out []models.ParsedCandidate
	for _, resp := range s.fetchEntries(ctx, run) {
		payload, err := extract.DecodeJSON(resp.Body)
		if err != nil {
			run.logger.Debug("not a json document", slog.String("url", resp.URL), slog.Any("error", err))
			continue
		}
		out = append(out, extract.FromJSON(payload, fields)...)
	}
	s.Metrics.AddCandidates(extract.StrategyJSON, len(out))
	return out
}

func (s *Scraper) runCSV(ctx context.Context, run *competitorRun) []models.ParsedCandidate {
	var fields models.FieldMap
	if run.competitor.ScraperConfig != nil {
		fields = run.competitor.ScraperConfig.CSVMap
	}

	var out []models.ParsedCandidate
	for _, resp := range s.fetchEntries(ctx, run) {
		if looksLikeMarkup(resp) {
			continue
		}
		out = append(out, extract.FromCSV(resp.Body, fields)...)
	}
	s.Metrics.AddCandidates(extract.StrategyCSV, len(out))
	return out
}

func (s *Scraper) runPDF(ctx context.Context, run *competitorRun) []models.ParsedCandidate {
	var out []models.ParsedCandidate
	for _, resp := range s.fetchEntries(ctx, run) {
		if !bytes.Contains(resp.Body[:min(len(resp.Body), 1024)], []byte("%PDF-")) {
			continue
		}
		candidates, err := extract.FromPDF(resp.Body)
		if err != nil {
			run.logger.Warn("pdf read failed", slog.String("url", resp.URL), slog.Any("error", err))
		}
		out = append(out, candidates...)
	}
	s.Metrics.AddCandidates(extract.StrategyPDF, len(out))
	return out
}

func (s *Scraper) runImage(ctx context.Context, run *competitorRun) []models.ParsedCandidate {
	if s.ocr == nil {
		return nil
	}

	var out []models.ParsedCandidate
	for _, resp := range s.fetchEntries(ctx, run) {
		contentType := resp.ContentType
		if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
			contentType = http.DetectContentType(resp.Body)
		}
		if !strings.HasPrefix(contentType, "image/") {
			continue
		}
		candidates, err := extract.FromImage(ctx, s.ocr, resp.Body, contentType)
		if err != nil {
			run.logger.Warn("ocr failed", slog.String("url", resp.URL), slog.Any("error", err))
			continue
		}
		out = append(out, candidates...)
	}
	s.Metrics.AddCandidates(extract.StrategyOCR, len(out))
	return out
}

// fetchEntries fetches every entry URL once per competitor run. Failed
// URLs are logged, remembered and skipped.
func (s *Scraper) fetchEntries(ctx context.Context, run *competitorRun) []*fetch.Response {
	var out []*fetch.Response
	for _, entry := range run.competitor.EntryURLs() {
		if resp, ok := run.responses[entry]; ok {
			out = append(out, resp)
			continue
		}
		if _, failed := run.failures[entry]; failed {
			continue
		}

		start := time.Now()
		resp, err := s.fetcher.Get(ctx, entry)
		if err != nil {
			run.failures[entry] = err
			run.fetchFailed(err)
			run.logger.Warn("fetch failed",
				slog.String("url", entry),
				slog.String("category", fetch.ErrorTypeLabel(err)),
				slog.Duration("elapsed", time.Since(start)),
				slog.Any("error", err),
			)
			continue
		}
		run.responses[entry] = resp
		run.reached++
		out = append(out, resp)
	}
	return out
}

func (s *Scraper) countCandidates(candidates []models.ParsedCandidate) {
	counts := make(map[string]int)
	for _, c := range candidates {
		counts[c.Strategy]++
	}
	for strategy, n := range counts {
		s.Metrics.AddCandidates(strategy, n)
	}
}

func looksLikeMarkup(resp *fetch.Response) bool {
	if strings.Contains(strings.ToLower(resp.ContentType), "html") {
		return true
	}
	head := strings.TrimSpace(string(resp.Body[:min(len(resp.Body), 512)]))
	return strings.HasPrefix(head, "<") || strings.HasPrefix(head, "{") || strings.HasPrefix(head, "[") || strings.HasPrefix(head, "%PDF")
}
