package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-promos/extract"
	"github.com/aluiziolira/go-scrape-promos/fetch"
	"github.com/aluiziolira/go-scrape-promos/models"
)

var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
}

// CrawlerOptions configures a Crawler.
type CrawlerOptions struct {
	MaxPages         int
	MaxQueued        int
	Timeout          time.Duration
	UserAgent        string
	RequestsPerSec   float64
	RespectRobotsTxt bool
	// Transport replaces colly's HTTP transport, e.g. with a rendering
	// transport or a test double.
	Transport http.RoundTripper
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Crawler walks a competitor storefront breadth-first over same-origin
// links and runs the HTML strategies on every page.
type Crawler struct {
	opts CrawlerOptions
}

// CrawlResult is the outcome of one crawl.
type CrawlResult struct {
	Candidates []models.ParsedCandidate
	Pages      int
	// Err is the last fetch error seen, if any.
	Err error
}

// NewCrawler builds a Crawler, applying defaults for unset limits.
func NewCrawler(opts CrawlerOptions) *Crawler {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 6
	}
	if opts.MaxQueued <= 0 {
		opts.MaxQueued = 15
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Crawler{opts: opts}
}

// Crawl visits the competitor's entry URLs and the same-origin pages they
// link to, up to MaxPages pages and MaxQueued discovered links.
func (c *Crawler) Crawl(ctx context.Context, competitor models.CompetitorConfig) (*CrawlResult, error) {
	base, err := url.Parse(competitor.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector, err := c.newCollector(siteHosts(base)...)
	if err != nil {
		return nil, err
	}

	result := &CrawlResult{}
	var discovered []string
	logger := c.opts.Logger.With(slog.String("competitor", competitor.Name))

	collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
	})

	collector.OnResponse(func(r *colly.Response) {
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			c.opts.Metrics.ObserveFetch(time.Since(start), "")
		}
		result.Pages++
		c.opts.Metrics.IncPages()

		contentType := ""
		if r.Headers != nil {
			contentType = strings.ToLower(r.Headers.Get("Content-Type"))
		}
		if contentType != "" && !strings.Contains(contentType, "html") {
			logger.Debug("skipping non-html page", slog.String("url", r.Request.URL.String()), slog.String("content_type", contentType))
			return
		}

		page, err := extract.ParseHTML(r.Body)
		if err != nil {
			logger.Warn("html parse failed", slog.String("url", r.Request.URL.String()), slog.Any("error", err))
			return
		}

		candidates := extract.FromHTML(page, competitor.ScraperConfig)
		result.Candidates = append(result.Candidates, candidates...)
		logger.Debug("page extracted",
			slog.String("url", r.Request.URL.String()),
			slog.Int("candidates", len(candidates)),
		)

		discovered = append(discovered, extract.SameOriginLinks(page.Doc, r.Request.AbsoluteURL, func(link string) bool {
			return sameOrigin(base, link)
		})...)
	})

	collector.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		pageURL := ""
		if r != nil {
			statusCode = r.StatusCode
			if r.Request != nil && r.Request.URL != nil {
				pageURL = r.Request.URL.String()
			}
		}
		classified := fetch.Classify(err, statusCode)
		category := fetch.ErrorTypeLabel(classified)
		if r != nil && r.Request != nil {
			if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
				c.opts.Metrics.ObserveFetch(time.Since(start), category)
			} else {
				c.opts.Metrics.IncError(category)
			}
		}
		result.Err = fmt.Errorf("crawl %s: %w", pageURL, classified)
		logger.Warn("page fetch failed",
			slog.String("url", pageURL),
			slog.String("category", category),
			slog.Any("error", err),
		)
	})

	seen := make(map[string]struct{})
	var frontier []string
	enqueue := func(link string) bool {
		key := visitKey(link)
		if key == "" {
			return false
		}
		if _, ok := seen[key]; ok {
			return false
		}
		seen[key] = struct{}{}
		frontier = append(frontier, stripFragment(link))
		return true
	}

	for _, entry := range competitor.EntryURLs() {
		if sameOrigin(base, entry) {
			enqueue(entry)
		}
	}

	queued := 0
	visited := 0
	for len(frontier) > 0 && visited < c.opts.MaxPages {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		next := frontier[0]
		frontier = frontier[1:]
		visited++

		discovered = discovered[:0]
		if err := collector.Visit(next); err != nil {
			// Visit reports request errors through OnError; the remaining
			// errors are colly refusals (robots, domain filter).
			logger.Debug("visit refused", slog.String("url", next), slog.Any("error", err))
			continue
		}

		for _, link := range discovered {
			if queued >= c.opts.MaxQueued {
				break
			}
			if enqueue(link) {
				queued++
			}
		}
	}

	return result, nil
}

func (c *Crawler) newCollector(hosts ...string) (*colly.Collector, error) {
	options := []colly.CollectorOption{colly.AllowedDomains(hosts...)}
	if c.opts.UserAgent != "" {
		options = append(options, colly.UserAgent(c.opts.UserAgent))
	}
	collector := colly.NewCollector(options...)

	if c.opts.Timeout > 0 {
		collector.SetRequestTimeout(c.opts.Timeout)
	}
	collector.IgnoreRobotsTxt = !c.opts.RespectRobotsTxt
	if c.opts.Transport != nil {
		collector.WithTransport(c.opts.Transport)
	}

	var delay time.Duration
	if c.opts.RequestsPerSec > 0 {
		delay = time.Duration(float64(time.Second) / c.opts.RequestsPerSec)
	}
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       delay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}
	return collector, nil
}

// sameOrigin reports whether link belongs to the competitor's site. The
// bare host and its "www." form are one site, and so are http and https,
// so redirects between them keep the crawl going.
func sameOrigin(base *url.URL, link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}
	return siteHost(u) == siteHost(base) && u.Port() == base.Port()
}

// siteHost is the lowercase hostname without a leading "www.".
func siteHost(u *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// siteHosts lists the hostnames colly may fetch for the site of base.
func siteHosts(base *url.URL) []string {
	host := siteHost(base)
	return []string{host, "www." + host}
}

func stripFragment(link string) string {
	if i := strings.IndexByte(link, '#'); i >= 0 {
		return link[:i]
	}
	return link
}

// visitKey normalizes a link for the visited set: no scheme, lowercase
// host without "www.", no fragment, no tracking parameters, sorted query,
// no trailing slash.
func visitKey(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return ""
	}
	port := u.Port()
	u.Scheme = ""
	u.Host = siteHost(u)
	if port != "" {
		u.Host += ":" + port
	}
	u.Fragment = ""

	query := u.Query()
	for param := range query {
		if _, ok := trackingParams[strings.ToLower(param)]; ok {
			query.Del(param)
		}
	}
	u.RawQuery = query.Encode()
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}
