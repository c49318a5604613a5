package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-promos/fetch"
	"github.com/aluiziolira/go-scrape-promos/models"
	"github.com/aluiziolira/go-scrape-promos/parser"
)

// StoreAPIPath is the public product endpoint of WooCommerce storefronts.
const StoreAPIPath = "/wp-json/wc/store/v1/products"

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

type storeTerm struct {
	Name string `json:"name"`
}

type storeProduct struct {
	ID     json.Number `json:"id"`
	Name   string      `json:"name"`
	SKU    string      `json:"sku"`
	Prices struct {
		Price             flexString `json:"price"`
		RegularPrice      flexString `json:"regular_price"`
		SalePrice         flexString `json:"sale_price"`
		CurrencyCode      string     `json:"currency_code"`
		CurrencyMinorUnit *int       `json:"currency_minor_unit"`
	} `json:"prices"`
	Brands     []storeTerm `json:"brands"`
	Categories []storeTerm `json:"categories"`
}

// StoreAPIURL builds the page URL for the store endpoint at origin.
func StoreAPIURL(baseURL string, pageSize, page int) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q", baseURL)
	}
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(page))
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: StoreAPIPath, RawQuery: q.Encode()}).String(), nil
}

// StoreAPI pages through the store endpoint until a short or empty page,
// a fetch error, or maxPages. Products read before an error are kept.
func StoreAPI(ctx context.Context, f fetch.Fetcher, baseURL string, pageSize, maxPages int) ([]models.ParsedCandidate, error) {
	var out []models.ParsedCandidate
	for page := 1; page <= maxPages; page++ {
		pageURL, err := StoreAPIURL(baseURL, pageSize, page)
		if err != nil {
			return out, err
		}
		var products []storeProduct
		if err := fetch.GetJSON(ctx, f, pageURL, &products); err != nil {
			return out, err
		}
		for _, p := range products {
			out = append(out, storeCandidate(p))
		}
		if len(products) < pageSize {
			break
		}
	}
	return out, nil
}

func storeCandidate(p storeProduct) models.ParsedCandidate {
	scale := func(v flexString) float64 {
		f := parser.NormalizePrice(string(v))
		if math.IsNaN(f) {
			return f
		}
		if p.Prices.CurrencyMinorUnit != nil && *p.Prices.CurrencyMinorUnit > 0 {
			f /= math.Pow10(*p.Prices.CurrencyMinorUnit)
		}
		return f
	}

	promo := scale(p.Prices.SalePrice)
	if !parser.IsValidPrice(promo) {
		promo = scale(p.Prices.Price)
	}
	var regular *float64
	if r := scale(p.Prices.RegularPrice); parser.IsValidPrice(r) && r != promo {
		regular = &r
	}

	var brand, category string
	if len(p.Brands) > 0 {
		brand = html.UnescapeString(p.Brands[0].Name)
	}
	if len(p.Categories) > 0 {
		category = html.UnescapeString(p.Categories[0].Name)
	}

	raw, _ := json.Marshal(p)
	return models.ParsedCandidate{
		ScrapedProduct: models.ScrapedProduct{
			Name:         html.UnescapeString(strings.TrimSpace(p.Name)),
			PromoPrice:   promo,
			RegularPrice: regular,
			Currency:     parser.NormalizeCurrency(p.Prices.CurrencyCode),
			Brand:        brand,
			Category:     category,
		},
		Raw:      truncateRaw(string(raw)),
		Strategy: StrategyStoreAPI,
	}
}
