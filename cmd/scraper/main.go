package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-promos/api"
	"github.com/aluiziolira/go-scrape-promos/batch"
	"github.com/aluiziolira/go-scrape-promos/config"
	"github.com/aluiziolira/go-scrape-promos/enrich"
	"github.com/aluiziolira/go-scrape-promos/extract"
	"github.com/aluiziolira/go-scrape-promos/fetch"
	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/pipeline"
	"github.com/aluiziolira/go-scrape-promos/scraper"
	"github.com/aluiziolira/go-scrape-promos/store"
)

func main() {
	cfg := config.DefaultConfig()
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database path")
	flag.StringVar(&cfg.DefaultsFile, "defaults", cfg.DefaultsFile, "YAML file with default scraper configs")
	flag.StringVar(&cfg.SeedFile, "seed", cfg.SeedFile, "YAML file of competitors to upsert before running")
	flag.IntVar(&cfg.MaxPages, "pages", cfg.MaxPages, "Maximum pages crawled per competitor")
	flag.IntVar(&cfg.MaxQueued, "queue", cfg.MaxQueued, "Maximum discovered links queued per competitor")
	flag.DurationVar(&cfg.CompetitorDelay, "delay", cfg.CompetitorDelay, "Pause after each competitor")
	flag.Float64Var(&cfg.RequestsPerSec, "rps", cfg.RequestsPerSec, "Request rate limit (0 disables)")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout")
	flag.BoolVar(&cfg.RespectRobotsTxt, "respect-robots", cfg.RespectRobotsTxt, "Respect robots.txt directives")
	flag.StringVar(&cfg.OutputFile, "output", cfg.OutputFile, "Export saved prices to this file")
	flag.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Export format: csv, json, or dual")
	flag.BoolVar(&cfg.AIEnrichment, "ai", cfg.AIEnrichment, "Enrich incomplete products for every competitor")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	serve := flag.Bool("serve", false, "Serve POST /scrape instead of running one batch")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address for -serve")

	flag.Parse()
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *serve, logger); err != nil {
		slog.Error("scraper failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, serve bool, logger *slog.Logger) error {
	db, err := store.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.SeedFile != "" {
		n, err := db.Seed(ctx, cfg.SeedFile)
		if err != nil {
			return err
		}
		logger.Info("competitors seeded", slog.Int("count", n))
	}

	defaults, err := store.LoadDefaults(cfg.DefaultsFile)
	if err != nil {
		return err
	}

	metrics := scraper.NewMetrics()
	s, err := buildScraper(cfg, metrics, logger)
	if err != nil {
		return err
	}

	var exporter *pipeline.Pipeline
	if cfg.OutputFile != "" {
		writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
		if err != nil {
			return fmt.Errorf("creating writer: %w", err)
		}
		exporter = pipeline.NewPipeline(writer, 64)
		exporter.Start(1)
		if cfg.Verbose {
			exporter.StartMetricsReporting(10 * time.Second)
		}
		defer func() {
			if err := exporter.Close(); err != nil {
				logger.Error("export shutdown failed", slog.Any("error", err))
			}
			if err := writer.Validate(); err != nil {
				logger.Warn("export validation failed", slog.Any("error", err))
			}
			if err := writer.Close(); err != nil {
				logger.Error("close writer", slog.Any("error", err))
			}
		}()
	}

	runnerOpts := batch.Options{
		Source:   db,
		Sink:     db,
		Scraper:  s,
		Defaults: defaults,
		Observer: metrics,
		Delay:    cfg.CompetitorDelay,
		Logger:   logger,
	}
	if exporter != nil {
		runnerOpts.Exporter = exporter
	}
	runner, err := batch.NewRunner(runnerOpts)
	if err != nil {
		return err
	}

	if serve {
		if !cfg.Verbose {
			gin.SetMode(gin.ReleaseMode)
		}
		return serveHTTP(ctx, cfg, api.NewServer(runner, metrics.Registry, logger))
	}

	stopMetrics := startMetricsServer(cfg.MetricsAddr, metrics)
	defer stopMetrics()

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	printSummary(report, cfg.OutputFile)
	return nil
}

func buildScraper(cfg *config.Config, metrics *scraper.Metrics, logger *slog.Logger) (*scraper.Scraper, error) {
	client := fetch.NewClient(fetch.Options{
		Timeout:        cfg.Timeout,
		UserAgent:      cfg.UserAgent,
		RequestsPerSec: cfg.RequestsPerSec,
		Observer:       metrics,
	})

	crawlerOpts := scraper.CrawlerOptions{
		MaxPages:         cfg.MaxPages,
		MaxQueued:        cfg.MaxQueued,
		Timeout:          cfg.Timeout,
		UserAgent:        cfg.UserAgent,
		RequestsPerSec:   cfg.RequestsPerSec,
		RespectRobotsTxt: cfg.RespectRobotsTxt,
		Metrics:          metrics,
		Logger:           logger,
	}
	if cfg.RenderServiceURL != "" {
		renderer := fetch.NewFirecrawlClient(cfg.RenderServiceURL, cfg.RenderAPIKey, client)
		crawlerOpts.Transport = &fetch.RenderTransport{Renderer: renderer}
		logger.Info("rendering storefront pages", slog.String("service", cfg.RenderServiceURL))
	}

	var ocr extract.OCR
	if cfg.OCRServiceURL != "" {
		ocr = extract.NewOCRService(cfg.OCRServiceURL, client)
	}

	var enricher pipeline.Enricher
	if cfg.AIConfigured() {
		ai, err := enrich.New(enrich.Options{
			APIKey:     cfg.AIAPIKey,
			Model:      cfg.AIModel,
			BaseURL:    cfg.AIBaseURL,
			Timeout:    cfg.Timeout,
			CacheSize:  cfg.AICacheSize,
			HTTPClient: client.HTTPClient(),
		})
		if err != nil {
			return nil, err
		}
		enricher = ai
	} else if cfg.AIEnrichment {
		logger.Warn("ai enrichment requested but ANTHROPIC_API_KEY is not set; continuing without it")
	}

	return scraper.NewScraper(scraper.Options{
		Config:    cfg,
		Fetcher:   client,
		Crawler:   scraper.NewCrawler(crawlerOpts),
		OCR:       ocr,
		Finalizer: pipeline.NewFinalizer(enricher, metrics, logger),
		Metrics:   metrics,
		Logger:    logger,
	})
}

func serveHTTP(ctx context.Context, cfg *config.Config, server *api.Server) error {
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", slog.String("addr", cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutdown signal received, waiting for in-flight batch to finish")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func startMetricsServer(addr string, metrics *scraper.Metrics) func() {
	if addr == "" {
		return func() {}
	}
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(report *models.BatchReport, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")
	fmt.Printf("  Run:           %s\n", report.RunID)
	fmt.Printf("  Competitors:   %d\n", report.Summary.TotalCompetitors)
	fmt.Printf("  Successful:    %d\n", report.Summary.Successful)
	fmt.Printf("  Failed:        %d\n", report.Summary.Failed)
	fmt.Printf("  Prices saved:  %d\n", report.Summary.TotalPricesSaved)
	for _, r := range report.Results {
		if r.Success {
			fmt.Printf("    %-24s %d products\n", r.Competitor, r.ProductsFound)
		} else {
			fmt.Printf("    %-24s failed: %s\n", r.Competitor, r.Error)
		}
	}
	fmt.Printf("  Duration:      %v\n", report.EndTime.Sub(report.StartTime))
	if outputFile != "" {
		fmt.Printf("  Output file:   %s\n", outputFile)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
