package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RenderedFetcher returns a page's HTML after JavaScript rendering.
type RenderedFetcher interface {
	FetchRenderedHTML(ctx context.Context, pageURL string) (string, error)
}

// FirecrawlClient renders pages through a Firecrawl-compatible scrape API.
type FirecrawlClient struct {
	baseURL string
	apiKey  string
	client  *Client
}

// NewFirecrawlClient builds a renderer that posts to {baseURL}/v1/scrape.
func NewFirecrawlClient(baseURL, apiKey string, client *Client) *FirecrawlClient {
	return &FirecrawlClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

type firecrawlRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type firecrawlResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		HTML    string `json:"html"`
		RawHTML string `json:"rawHtml"`
	} `json:"data"`
}

// FetchRenderedHTML implements RenderedFetcher.
func (f *FirecrawlClient) FetchRenderedHTML(ctx context.Context, pageURL string) (string, error) {
	payload, err := json.Marshal(firecrawlRequest{
		URL:     pageURL,
		Formats: []string{"html", "rawHtml"},
	})
	if err != nil {
		return "", fmt.Errorf("encode render request: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.apiKey)
	resp, err := f.client.Post(ctx, f.baseURL+"/v1/scrape", "application/json", payload, header)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}

	var decoded firecrawlResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return "", fmt.Errorf("decode render response: %w", err)
	}
	if !decoded.Success {
		return "", fmt.Errorf("render %s: %s", pageURL, decoded.Error)
	}
	if decoded.Data.RawHTML != "" {
		return decoded.Data.RawHTML, nil
	}
	return decoded.Data.HTML, nil
}

// RenderTransport serves GET requests from a RenderedFetcher so a collector
// can crawl JavaScript-rendered storefronts unchanged.
type RenderTransport struct {
	Renderer RenderedFetcher
}

// RoundTrip implements http.RoundTripper.
func (t *RenderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return nil, fmt.Errorf("render transport: unsupported method %s", req.Method)
	}
	html, err := t.Renderer.FetchRenderedHTML(req.Context(), req.URL.String())
	if err != nil {
		return nil, err
	}
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(html)),
		ContentLength: int64(len(html)),
		Request:       req,
	}, nil
}
