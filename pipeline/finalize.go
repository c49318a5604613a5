package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/parser"
)

// Drop reasons reported to the Observer.
const (
	DropMissingName  = "missing_name"
	DropInvalidPrice = "invalid_price"
)

// Enrichment outcomes reported to the Observer.
const (
	EnrichOK      = "ok"
	EnrichError   = "error"
	EnrichSkipped = "skipped"
)

// Enricher fills gaps in a product from its raw source snippet. Absent
// fields in the result are empty strings, nil or NaN.
type Enricher interface {
	Enrich(ctx context.Context, raw string) (models.ScrapedProduct, error)
}

// Observer receives finalizer events.
type Observer interface {
	ObserveDropped(reason string)
	ObserveEnrichment(outcome string)
}

var (
	errMissingName  = errors.New("missing name")
	errInvalidPrice = errors.New("invalid promo price")
)

// Finalizer normalizes, validates, optionally enriches and deduplicates
// extraction candidates.
type Finalizer struct {
	enricher Enricher
	observer Observer
	logger   *slog.Logger
	metrics  metrics
}

// NewFinalizer builds a Finalizer. enricher and observer may be nil.
func NewFinalizer(enricher Enricher, observer Observer, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{
		enricher: enricher,
		observer: observer,
		logger:   logger,
		metrics:  newMetrics(),
	}
}

// Finalize turns candidates into valid, deduplicated products. Candidates
// without a name or a positive finite promo price are dropped. When enrich
// is set, products missing EAN, brand, category, currency or regular price
// are sent to the enricher; enrichment failures keep the product as is.
func (f *Finalizer) Finalize(ctx context.Context, candidates []models.ParsedCandidate, enrich bool) []models.ScrapedProduct {
	products := make([]models.ScrapedProduct, 0, len(candidates))
	for _, c := range candidates {
		p, err := Normalize(c.ScrapedProduct)
		if err != nil {
			f.drop(err)
			continue
		}

		if enrich && f.enricher != nil && NeedsEnrichment(p) {
			p = f.enrich(ctx, p, c)
		}

		f.metrics.incrementProcessed()
		products = append(products, p)
	}
	return Dedupe(products)
}

// GetMetrics returns a snapshot of the internal counters.
func (f *Finalizer) GetMetrics() map[string]interface{} {
	return f.metrics.snapshot()
}

func (f *Finalizer) enrich(ctx context.Context, p models.ScrapedProduct, c models.ParsedCandidate) models.ScrapedProduct {
	if strings.TrimSpace(c.Raw) == "" {
		f.observeEnrichment(EnrichSkipped)
		return p
	}

	extra, err := f.enricher.Enrich(ctx, c.Raw)
	if err != nil {
		f.observeEnrichment(EnrichError)
		f.logger.Warn("enrichment failed",
			slog.String("product", p.Name),
			slog.String("strategy", c.Strategy),
			slog.Any("error", err),
		)
		return p
	}

	merged, err := Normalize(Merge(p, extra))
	if err != nil {
		f.observeEnrichment(EnrichError)
		return p
	}
	f.observeEnrichment(EnrichOK)
	return merged
}

func (f *Finalizer) drop(err error) {
	reason := DropInvalidPrice
	if errors.Is(err, errMissingName) {
		reason = DropMissingName
	}
	f.metrics.addValidation(reason)
	if f.observer != nil {
		f.observer.ObserveDropped(reason)
	}
}

func (f *Finalizer) observeEnrichment(outcome string) {
	if f.observer != nil {
		f.observer.ObserveEnrichment(outcome)
	}
}

// Normalize cleans every field of p and validates it.
func Normalize(p models.ScrapedProduct) (models.ScrapedProduct, error) {
	p.Name = parser.CleanName(p.Name)
	p.Currency = parser.NormalizeCurrency(p.Currency)
	p.EAN = strings.ReplaceAll(parser.CleanText(p.EAN), " ", "")
	p.Brand = parser.CleanText(p.Brand)
	p.Category = parser.CleanText(p.Category)
	p.PromoStartDate = parser.CleanText(p.PromoStartDate)
	p.PromoEndDate = parser.CleanText(p.PromoEndDate)
	if p.RegularPrice != nil && !parser.IsValidPrice(*p.RegularPrice) {
		p.RegularPrice = nil
	}

	if p.Name == "" {
		return p, errMissingName
	}
	if !parser.IsValidPrice(p.PromoPrice) {
		return p, errInvalidPrice
	}
	return p, nil
}

// NeedsEnrichment reports whether any optional descriptive field is absent.
func NeedsEnrichment(p models.ScrapedProduct) bool {
	return p.EAN == "" || p.Brand == "" || p.Category == "" || p.Currency == "" || p.RegularPrice == nil
}

// Merge overlays the defined fields of incoming onto base. Empty strings,
// nil and non-positive or NaN prices count as undefined.
func Merge(base, incoming models.ScrapedProduct) models.ScrapedProduct {
	out := base
	overlay := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	overlay(&out.Name, incoming.Name)
	overlay(&out.Currency, incoming.Currency)
	overlay(&out.EAN, incoming.EAN)
	overlay(&out.Brand, incoming.Brand)
	overlay(&out.Category, incoming.Category)
	overlay(&out.PromoStartDate, incoming.PromoStartDate)
	overlay(&out.PromoEndDate, incoming.PromoEndDate)
	if parser.IsValidPrice(incoming.PromoPrice) {
		out.PromoPrice = incoming.PromoPrice
	}
	if incoming.RegularPrice != nil && parser.IsValidPrice(*incoming.RegularPrice) {
		regular := *incoming.RegularPrice
		out.RegularPrice = &regular
	}
	return out
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_products": m.processed,
		"validation_errors":  copyValidation,
	}
}
