package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/fetcher"
	"github.com/ryosukesatoh/feed-digest/internal/logging"
)

const articlePage = `<!DOCTYPE html>
<html>
<head><title>Test Article</title></head>
<body>
<nav>Home | About</nav>
<article>
<h1>Test Article Title</h1>
<p>This is the main content of the article. It contains important information that should be extracted by the readability parser.</p>
<p>Second paragraph with more details about the topic, long enough to be considered readable body text.</p>
</article>
</body>
</html>`

func pageServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestScrapeArticle(t *testing.T) {
	server := pageServer(t, http.StatusOK, articlePage)

	content, err := NewScraper(WithTimeout(5*time.Second)).Scrape(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if !strings.Contains(content, "main content") {
		t.Errorf("content should contain 'main content', got: %s", content)
	}
}

func TestScrapeContentLimit(t *testing.T) {
	server := pageServer(t, http.StatusOK, `<html><body><p>`+strings.Repeat("word ", 2000)+`</p></body></html>`)

	content, err := NewScraper(WithMaxContentLength(1000)).Scrape(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if n := len([]rune(content)); n > 1000 {
		t.Errorf("content length = %d, want <= 1000", n)
	}
}

func TestScrapeReadsAtMostMaxBodySize(t *testing.T) {
	page := strings.Replace(articlePage, "</article>", "</article>"+strings.Repeat("<!-- padding -->", 4096)+"<p>UNREACHED tail paragraph</p>", 1)
	server := pageServer(t, http.StatusOK, page)

	content, err := NewScraper(WithMaxBodySize(int64(len(articlePage)))).Scrape(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if strings.Contains(content, "UNREACHED") {
		t.Error("content past the body size limit was read")
	}
	if !strings.Contains(content, "main content") {
		t.Errorf("content should contain 'main content', got: %s", content)
	}
}

func TestScrapeServerError(t *testing.T) {
	server := pageServer(t, http.StatusInternalServerError, "")

	if _, err := NewScraper().Scrape(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for server error response")
	}
}

func TestScrapeInvalidURL(t *testing.T) {
	if _, err := NewScraper().Scrape(context.Background(), "not-a-valid-url"); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestScrapeContextCancellation(t *testing.T) {
	server := pageServer(t, http.StatusOK, articlePage)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewScraper().Scrape(ctx, server.URL); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNewEnricherDisabled(t *testing.T) {
	cfg := &config.Config{}
	if e := NewEnricher(cfg, logging.Discard()); e != nil {
		t.Fatal("expected nil enricher when full_text is off")
	}
	var e *Enricher
	e.Enrich(context.Background(), []fetcher.Article{{Body: "x"}})
}

func TestEnrichReplacesShortBodies(t *testing.T) {
	server := pageServer(t, http.StatusOK, articlePage)
	cfg := &config.Config{Fetch: config.FetchConfig{
		Timeout:          5 * time.Second,
		Concurrency:      2,
		UserAgent:        "feed-digest-test",
		FullText:         true,
		FullTextMinChars: 50,
	}}

	long := strings.Repeat("already long enough ", 10)
	articles := []fetcher.Article{
		{Title: "short", Link: server.URL, Body: "teaser"},
		{Title: "long", Link: server.URL, Body: long},
		{Title: "no link", Body: "teaser"},
	}
	NewEnricher(cfg, logging.Discard()).Enrich(context.Background(), articles)

	if !strings.Contains(articles[0].Body, "main content") {
		t.Errorf("expected short body to be replaced, got %q", articles[0].Body)
	}
	if articles[1].Body != long {
		t.Errorf("expected long body to be untouched")
	}
	if articles[2].Body != "teaser" {
		t.Errorf("expected article without link to be untouched")
	}
}

func TestEnrichKeepsFeedBodyOnFailure(t *testing.T) {
	server := pageServer(t, http.StatusNotFound, "")
	cfg := &config.Config{Fetch: config.FetchConfig{FullText: true, FullTextMinChars: 50, Timeout: 5 * time.Second}}

	articles := []fetcher.Article{{Title: "short", Link: server.URL, Body: "teaser"}}
	NewEnricher(cfg, logging.Discard()).Enrich(context.Background(), articles)

	if articles[0].Body != "teaser" {
		t.Errorf("expected feed body to survive a failed scrape, got %q", articles[0].Body)
	}
}
