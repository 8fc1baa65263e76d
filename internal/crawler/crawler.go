package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
)

// Crawler fetches pages, extracts their anchors and probes link reachability.
type Crawler struct {
	config  *Config
	colly   *colly.Collector
	client  *http.Client
	limiter *hostLimiter
	id      string
}

// GetUserAgent returns the user agent string for this crawler
func (c *Crawler) GetUserAgent() string {
	return c.config.UserAgent
}

// Config returns the Crawler's configuration.
func (c *Crawler) Config() *Config {
	return c.config
}

// New creates a new Crawler instance with the given configuration and optional ID
// If config is nil, default configuration is used
func New(config *Config, id ...string) *Crawler {
	if config == nil {
		config = DefaultConfig()
	}

	crawlerID := ""
	if len(id) > 0 {
		crawlerID = id[0]
	}

	userAgent := config.UserAgent
	if crawlerID != "" {
		userAgent = fmt.Sprintf("%s Worker-%s", config.UserAgent, crawlerID)
	}

	parallelism := config.PageConcurrency
	if parallelism < 1 {
		parallelism = 1
	}

	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.MaxDepth(1),
		colly.Async(true),
		colly.AllowURLRevisit(),
	)

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: parallelism,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to apply crawler limit rule")
	}

	transport := newTransport(config)
	c.SetClient(&http.Client{
		Timeout:   config.DefaultTimeout,
		Transport: transport,
	})

	limiter := newHostLimiter(config.RateLimit)

	return &Crawler{
		config: config,
		colly:  c,
		client: &http.Client{
			Timeout:   config.DefaultTimeout,
			Transport: transport,
		},
		limiter: limiter,
		id:      crawlerID,
	}
}

// validatePageURL checks the page URL is absolute before it is fetched.
func validatePageURL(ctx context.Context, pageURL string) (*url.URL, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid URL format: %s", pageURL)
	}

	return parsed, nil
}

// ExtractLinks fetches pageURL and returns the raw href value of every anchor
// in document order, plus the URL they are relative to. Non-2xx responses and
// non-HTML bodies yield an error or no links respectively; malformed HTML is
// parsed leniently.
func (c *Crawler) ExtractLinks(ctx context.Context, pageURL string) (*PageLinks, error) {
	if _, err := validatePageURL(ctx, pageURL); err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		hrefs    []string
		baseURL  = pageURL
		fetchErr error
	)

	collyClone := c.colly.Clone()
	collyClone.Context = ctx

	// Callbacks are not inherited by clones, so headers are set here.
	collyClone.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")

		log.Debug().
			Str("url", r.URL.String()).
			Str("user_agent", c.GetUserAgent()).
			Msg("Crawler sending request")

		if err := c.limiter.wait(ctx, r.URL.Host); err != nil {
			mu.Lock()
			fetchErr = err
			mu.Unlock()
			r.Abort()
		}
	})

	collyClone.OnHTML("html", func(e *colly.HTMLElement) {
		mu.Lock()
		baseURL = documentBase(e)
		mu.Unlock()

		e.DOM.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			mu.Lock()
			hrefs = append(hrefs, href)
			mu.Unlock()
		})
	})

	collyClone.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("fetch %s: status %d: %w", pageURL, r.StatusCode, err)
		} else {
			fetchErr = fmt.Errorf("fetch %s: %w", pageURL, err)
		}
		mu.Unlock()
	})

	done := make(chan error, 1)

	go func() {
		if err := collyClone.Visit(pageURL); err != nil {
			done <- err
			return
		}
		collyClone.Wait()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn().
				Err(err).
				Str("url", pageURL).
				Msg("Colly visit failed")
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()

	if fetchErr != nil {
		if !errors.Is(fetchErr, context.Canceled) && !errors.Is(fetchErr, context.DeadlineExceeded) {
			log.Warn().
				Err(fetchErr).
				Str("url", pageURL).
				Msg("Page fetch failed")
		}
		return nil, fetchErr
	}

	log.Debug().
		Str("url", pageURL).
		Str("base_url", baseURL).
		Int("links_found", len(hrefs)).
		Msg("Extracted links from page")

	return &PageLinks{BaseURL: baseURL, Hrefs: hrefs}, nil
}

// documentBase returns the URL the document's relative links resolve against.
// e.Request.URL is already the post-redirect URL.
func documentBase(e *colly.HTMLElement) string {
	base := e.Request.URL
	if href, ok := e.DOM.Find("base[href]").First().Attr("href"); ok {
		if u, err := base.Parse(strings.TrimSpace(href)); err == nil {
			return u.String()
		}
	}
	return base.String()
}
