// Package enrich asks a Claude model to fill missing product fields from the
// raw snippet a candidate was extracted from.
package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/parser"
)

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("enrich: missing api key")

// ErrNoJSON is returned when the model answer holds no JSON object.
var ErrNoJSON = errors.New("enrich: response contains no json object")

const systemPrompt = `You extract retail product data from HTML or text snippets of promotional listings.
Answer with a single JSON object and nothing else. Use these keys and omit any you cannot determine:
name (string), promoPrice (number), regularPrice (number), currency (ISO 4217 code, "KM" means "BAM"),
ean (string of digits), brand (string), category (string), promoStartDate (YYYY-MM-DD), promoEndDate (YYYY-MM-DD).`

// Options configures a Client.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	CacheSize  int
	MaxTokens  int64
	HTTPClient *http.Client
}

// Client is a cached pipeline.Enricher backed by the Anthropic Messages API.
type Client struct {
	api       anthropic.Client
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration
	cache     *lru.Cache[string, models.ScrapedProduct]
}

// New builds a Client. Requests are never retried.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 512
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		requestOpts = append(requestOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	cache, err := lru.New[string, models.ScrapedProduct](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create enrichment cache: %w", err)
	}

	return &Client{
		api:       anthropic.NewClient(requestOpts...),
		model:     anthropic.Model(opts.Model),
		maxTokens: opts.MaxTokens,
		timeout:   opts.Timeout,
		cache:     cache,
	}, nil
}

// Enrich implements pipeline.Enricher. Successful answers are cached per
// snippet; failures are not.
func (c *Client) Enrich(ctx context.Context, raw string) (models.ScrapedProduct, error) {
	key := cacheKey(raw)
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Snippet:\n" + raw)),
		},
	})
	if err != nil {
		return models.ScrapedProduct{}, fmt.Errorf("enrich request: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	product, err := ParseAnswer(text.String())
	if err != nil {
		return models.ScrapedProduct{}, err
	}
	c.cache.Add(key, product)
	return product, nil
}

// Len reports the number of cached answers.
func (c *Client) Len() int {
	return c.cache.Len()
}

// ParseAnswer decodes the first JSON object in a model answer. Missing or
// unusable prices are NaN, missing strings empty.
func ParseAnswer(text string) (models.ScrapedProduct, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return models.ScrapedProduct{}, ErrNoJSON
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &fields); err != nil {
		return models.ScrapedProduct{}, fmt.Errorf("decode enrichment: %w", err)
	}

	str := func(key string) string {
		switch v := fields[key].(type) {
		case string:
			return strings.TrimSpace(v)
		case float64:
			return strings.TrimSpace(fmt.Sprintf("%.0f", v))
		}
		return ""
	}
	num := func(key string) float64 {
		switch v := fields[key].(type) {
		case float64:
			return v
		case string:
			return parser.NormalizePrice(v)
		}
		return math.NaN()
	}

	product := models.ScrapedProduct{
		Name:           str(models.FieldName),
		PromoPrice:     num(models.FieldPromoPrice),
		Currency:       parser.NormalizeCurrency(str(models.FieldCurrency)),
		EAN:            str(models.FieldEAN),
		Brand:          str(models.FieldBrand),
		Category:       str(models.FieldCategory),
		PromoStartDate: str(models.FieldPromoStartDate),
		PromoEndDate:   str(models.FieldPromoEndDate),
	}
	if regular := num(models.FieldRegularPrice); parser.IsValidPrice(regular) {
		product.RegularPrice = &regular
	}
	return product, nil
}

func cacheKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
