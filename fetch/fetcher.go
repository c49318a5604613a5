// Package fetch issues the rate-limited, time-bounded HTTP requests used by
// every extraction strategy.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// MaxBodyBytes is the default cap on a response body.
const MaxBodyBytes = 25 << 20

// Response is a fully read HTTP response.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher retrieves a URL.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*Response, error)
}

// Observer receives per-request outcomes. errType is empty on success.
type Observer interface {
	ObserveFetch(d time.Duration, errType string)
}

// Options configures a Client.
type Options struct {
	Timeout        time.Duration
	UserAgent      string
	RequestsPerSec float64
	Transport      http.RoundTripper
	Observer       Observer
	// MaxBodyBytes overrides the body cap when positive.
	MaxBodyBytes int64
}

// Client is the default Fetcher. Every request shares one rate limiter and
// is bounded by the configured timeout.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	observer  Observer
	maxBody   int64
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   opts.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        20,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}

	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = MaxBodyBytes
	}

	return &Client{
		http:      &http.Client{Timeout: opts.Timeout, Transport: transport},
		limiter:   rate.NewLimiter(limit, 1),
		userAgent: opts.UserAgent,
		observer:  opts.Observer,
		maxBody:   maxBody,
	}
}

// HTTPClient exposes the underlying client for SDKs that need one.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Get fetches rawURL. Non-2xx responses are returned as classified errors.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.Do(req)
}

// Post sends body to rawURL with the given content type.
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body []byte, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return c.Do(req)
}

// Do waits for the rate limiter, executes req and reads the body.
func (c *Client) Do(req *http.Request) (*Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, Classify(err, 0)
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		classified := Classify(err, 0)
		c.observe(start, classified)
		return nil, classified
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		classified := Classify(fmt.Errorf("read body: %w", err), 0)
		c.observe(start, classified)
		return nil, classified
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		classified := Classify(&StatusError{Code: resp.StatusCode, URL: req.URL.String()}, resp.StatusCode)
		c.observe(start, classified)
		return nil, classified
	}

	if int64(len(body)) > c.maxBody {
		err := fmt.Errorf("%w: %s is larger than %d bytes", ErrBodyTooLarge, req.URL, c.maxBody)
		c.observe(start, err)
		return nil, err
	}

	c.observe(start, nil)
	return &Response{
		URL:         req.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (c *Client) observe(start time.Time, err error) {
	if c.observer == nil {
		return
	}
	errType := ""
	if err != nil {
		errType = ErrorTypeLabel(err)
	}
	c.observer.ObserveFetch(time.Since(start), errType)
}

// GetJSON fetches rawURL and decodes the body into v.
func GetJSON(ctx context.Context, f Fetcher, rawURL string, v any) error {
	resp, err := f.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode json from %s: %w", rawURL, err)
	}
	return nil
}
