package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-promos/fetch"
)

func newMockClient(transport http.RoundTripper) *fetch.Client {
	return fetch.NewClient(fetch.Options{Timeout: time.Second, Transport: transport})
}

func TestStoreAPIURL(t *testing.T) {
	got, err := StoreAPIURL("https://shop.test/akcije/?x=1", 100, 2)
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if got != "https://shop.test/wp-json/wc/store/v1/products?page=2&per_page=100" {
		t.Fatalf("url = %s", got)
	}
	if _, err := StoreAPIURL("not a url", 100, 1); err == nil {
		t.Fatalf("expected error for relative url")
	}
}

func TestStoreAPIPaging(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.test/wp-json/wc/store/v1/products",
		func(req *http.Request) (*http.Response, error) {
			switch req.URL.Query().Get("page") {
			case "1":
				return httpmock.NewStringResponse(http.StatusOK, `[
					{"id":1,"name":"Kafa &amp; mlijeko","prices":{"price":"499","regular_price":"599","sale_price":"499","currency_code":"BAM","currency_minor_unit":2},"brands":[{"name":"Franck"}],"categories":[{"name":"Napici"}]},
					{"id":2,"name":"Sok","prices":{"price":1.5,"regular_price":"1.5","sale_price":"","currency_code":"EUR"}}
				]`), nil
			case "2":
				return httpmock.NewStringResponse(http.StatusOK, `[{"id":3,"name":"Keks","prices":{"price":"129","regular_price":"129","currency_code":"BAM","currency_minor_unit":2}}]`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `[]`), nil
		})

	got, err := StoreAPI(context.Background(), newMockClient(transport), "https://shop.test/", 2, 10)
	if err != nil {
		t.Fatalf("store api: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 products, got %d", len(got))
	}
	// A short second page ends paging.
	if calls := transport.GetTotalCallCount(); calls != 2 {
		t.Fatalf("expected 2 requests, got %d", calls)
	}

	kafa := got[0]
	if kafa.Name != "Kafa & mlijeko" || kafa.PromoPrice != 4.99 || kafa.RegularPrice == nil || *kafa.RegularPrice != 5.99 {
		t.Fatalf("kafa = %+v", kafa.ScrapedProduct)
	}
	if kafa.Brand != "Franck" || kafa.Category != "Napici" || kafa.Currency != "BAM" || kafa.Strategy != StrategyStoreAPI {
		t.Fatalf("kafa extras = %+v", kafa.ScrapedProduct)
	}
	if got[1].PromoPrice != 1.5 || got[1].RegularPrice != nil {
		t.Fatalf("sok = %+v", got[1].ScrapedProduct)
	}
	if got[2].PromoPrice != 1.29 {
		t.Fatalf("keks = %+v", got[2].ScrapedProduct)
	}
}

func TestStoreAPIMissingEndpoint(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(httpmock.NewStringResponder(http.StatusNotFound, "no route"))

	got, err := StoreAPI(context.Background(), newMockClient(transport), "https://plain.test", 100, 10)
	if fetch.ErrorTypeLabel(err) != "not_found" {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no products, got %+v", got)
	}
}

func TestStoreAPIStopsAtMaxPages(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://big.test/wp-json/wc/store/v1/products",
		func(req *http.Request) (*http.Response, error) {
			page := req.URL.Query().Get("page")
			return httpmock.NewStringResponse(http.StatusOK, fmt.Sprintf(`[{"name":"P%s","prices":{"price":"1.00"}}]`, page)), nil
		})

	got, err := StoreAPI(context.Background(), newMockClient(transport), "https://big.test", 1, 3)
	if err != nil {
		t.Fatalf("store api: %v", err)
	}
	if len(got) != 3 || transport.GetTotalCallCount() != 3 {
		t.Fatalf("expected 3 pages, got %d products and %d calls", len(got), transport.GetTotalCallCount())
	}
}

func TestOCRServiceFromImage(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("POST", "http://ocr.test/ocr", func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		if req.Header.Get("Content-Type") != "image/png" || string(body) != "PNGDATA" {
			return httpmock.NewStringResponse(http.StatusBadRequest, `{"error":"bad image"}`), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"text":"Jaja M 10/1\n2,99 KM\n"}`), nil
	})

	service := NewOCRService("http://ocr.test/", newMockClient(transport))
	got, err := FromImage(context.Background(), service, []byte("PNGDATA"), "image/png")
	if err != nil {
		t.Fatalf("from image: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Jaja M 10/1" || got[0].PromoPrice != 2.99 || got[0].Strategy != StrategyOCR {
		t.Fatalf("ocr products = %+v", got)
	}
}

func TestOCRServiceErrors(t *testing.T) {
	if _, err := FromImage(context.Background(), nil, nil, ""); !errors.Is(err, ErrOCRUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("POST", "http://ocr.test/ocr",
		httpmock.NewStringResponder(http.StatusOK, `{"error":"unreadable"}`))
	_, err := NewOCRService("http://ocr.test", newMockClient(transport)).Recognize(context.Background(), []byte("x"), "")
	if err == nil || !strings.Contains(err.Error(), "unreadable") {
		t.Fatalf("expected service error, got %v", err)
	}
}
