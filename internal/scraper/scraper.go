package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"golang.org/x/sync/errgroup"

	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/fetcher"
	"github.com/ryosukesatoh/feed-digest/internal/retry"
)

const (
	defaultMaxContentLen = 8000
	defaultMaxBodyBytes  = 2 << 20
)

// Scraper extracts readable article text from web pages.
type Scraper struct {
	httpClient    *http.Client
	userAgent     string
	maxContentLen int
	maxBodyBytes  int64
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scraper) {
		s.httpClient.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header sent with each request.
func WithUserAgent(ua string) Option {
	return func(s *Scraper) {
		s.userAgent = ua
	}
}

// WithMaxContentLength caps the returned text, in runes.
func WithMaxContentLength(n int) Option {
	return func(s *Scraper) {
		s.maxContentLen = n
	}
}

// WithMaxBodySize caps how many bytes of the page are read.
func WithMaxBodySize(n int64) Option {
	return func(s *Scraper) {
		s.maxBodyBytes = n
	}
}

func NewScraper(opts ...Option) *Scraper {
	s := &Scraper{
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		userAgent:     "feed-digest/1.0",
		maxContentLen: defaultMaxContentLen,
		maxBodyBytes:  defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrape returns the readable text content of rawURL.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("scraper: invalid URL %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("scraper: failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("scraper: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scraper: %w", &retry.StatusError{Code: resp.StatusCode})
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, s.maxBodyBytes), parsedURL)
	if err != nil {
		return "", fmt.Errorf("scraper: failed to parse content: %w", err)
	}

	content := strings.Join(strings.Fields(article.TextContent), " ")
	return fetcher.Truncate(content, s.maxContentLen), nil
}

// Enricher replaces short feed bodies with the linked page's full text.
type Enricher struct {
	scraper     *Scraper
	minChars    int
	concurrency int
	logger      *slog.Logger
}

// NewEnricher returns nil when full-text extraction is disabled.
func NewEnricher(cfg *config.Config, logger *slog.Logger) *Enricher {
	if !cfg.Fetch.FullText {
		return nil
	}
	return &Enricher{
		scraper:     NewScraper(WithTimeout(cfg.Fetch.Timeout), WithUserAgent(cfg.Fetch.UserAgent)),
		minChars:    cfg.Fetch.FullTextMinChars,
		concurrency: cfg.Fetch.Concurrency,
		logger:      logger,
	}
}

// Enrich updates articles in place. Failures keep the feed body.
func (e *Enricher) Enrich(ctx context.Context, articles []fetcher.Article) {
	if e == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	for i := range articles {
		a := &articles[i]
		if a.Link == "" || len([]rune(a.Body)) >= e.minChars {
			continue
		}
		g.Go(func() error {
			text, err := e.scraper.Scrape(gctx, a.Link)
			if err != nil {
				e.logger.Debug("full text unavailable", "source", a.Source, "title", a.Title, "error", err)
				return nil
			}
			if len([]rune(text)) > len([]rune(a.Body)) {
				a.Body = text
			}
			return nil
		})
	}
	_ = g.Wait()
}
