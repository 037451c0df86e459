package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/logging"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Tech Weekly</title>
    <item>
      <title>  Go 1.30 released  </title>
      <link>https://example.com/go-130</link>
      <guid>post-130</guid>
      <pubDate>Mon, 15 Jan 2024 02:00:00 GMT</pubDate>
      <author>editor@example.com (Jane)</author>
      <description><![CDATA[<p>The <b>new</b> release</p><p>is out.</p>]]></description>
    </item>
    <item>
      <title>Undated entry</title>
      <link>https://example.com/undated</link>
      <pubDate>sometime last week</pubDate>
      <description>plain text body</description>
    </item>
    <item>
      <title>No guid</title>
      <link>https://example.com/no-guid</link>
      <pubDate>Mon, 15 Jan 2024 03:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

var plus8 = time.FixedZone("+08:00", 8*3600)

func newFeedServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "feed-digest-test" {
			t.Errorf("Expected custom user agent, got %q", got)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestFetchParsesRSS(t *testing.T) {
	ts := newFeedServer(t, sampleRSS, http.StatusOK)
	f := NewRSSFetcher(5*time.Second, "feed-digest-test", plus8)

	articles, err := f.Fetch(context.Background(), config.NewSource("tech", ts.URL))
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(articles) != 3 {
		t.Fatalf("Expected 3 articles, got %d", len(articles))
	}

	a := articles[0]
	if a.Title != "Go 1.30 released" {
		t.Errorf("Expected trimmed title, got %q", a.Title)
	}
	if a.Source != "tech" {
		t.Errorf("Expected source 'tech', got %q", a.Source)
	}
	if a.Link != "https://example.com/go-130" {
		t.Errorf("Unexpected link %q", a.Link)
	}
	if a.ID != ID("post-130") {
		t.Errorf("Expected ID derived from GUID")
	}
	if a.Body != "The new release is out." {
		t.Errorf("Expected HTML stripped body, got %q", a.Body)
	}
	if a.Excerpt != a.Body {
		t.Errorf("Expected excerpt to equal short body, got %q", a.Excerpt)
	}
	if _, off := a.Published.Zone(); off != 8*3600 {
		t.Errorf("Expected +08:00 offset, got %d", off)
	}
	if a.Published.Hour() != 10 {
		t.Errorf("Expected 10:00 local time, got %v", a.Published)
	}

	if !articles[1].Published.IsZero() {
		t.Errorf("Expected zero time for unparseable date, got %v", articles[1].Published)
	}
	if articles[2].ID != ID("", "https://example.com/no-guid") {
		t.Errorf("Expected ID derived from link when GUID is missing")
	}
}

func TestFetchHTTPError(t *testing.T) {
	ts := newFeedServer(t, "not found", http.StatusNotFound)
	f := NewRSSFetcher(5*time.Second, "feed-digest-test", plus8)

	_, err := f.Fetch(context.Background(), config.NewSource("broken", ts.URL))
	if err == nil {
		t.Fatal("Expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("Expected error to name the source, got %v", err)
	}
}

func TestFetchMalformedFeed(t *testing.T) {
	ts := newFeedServer(t, "<html><body>definitely not a feed", http.StatusOK)
	f := NewRSSFetcher(5*time.Second, "feed-digest-test", plus8)

	if _, err := f.Fetch(context.Background(), config.NewSource("html", ts.URL)); err == nil {
		t.Fatal("Expected parse error for non-feed body")
	}
}

func TestID(t *testing.T) {
	if ID("guid", "link") != ID("guid", "other-link") {
		t.Error("GUID should take precedence over link")
	}
	if ID("", "link") == ID("", "other-link") {
		t.Error("Different links should produce different IDs")
	}
	if ID("  ", "", "title") != ID("title") {
		t.Error("Blank keys should be skipped")
	}
	if len(ID("x")) != 32 {
		t.Errorf("Expected 32-char hex ID, got %q", ID("x"))
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"<p>Hello</p><p>World</p>", "Hello World"},
		{"<b>Bold</b> and <i>italic</i>", "Bold and italic"},
		{"No tags here", "No tags here"},
		{"<div>  Multiple   spaces  </div>", "Multiple spaces"},
		{"line<br>break", "line break"},
		{"<script>alert(1)</script>visible", "visible"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := HTMLToText(tt.input); got != tt.want {
			t.Errorf("HTMLToText(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"this is a long string", 10, "this is..."},
		{"abcd", 3, "abc"},
		{"こんにちは世界です", 5, "こん..."},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.input, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}

type fakeFetcher struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, src config.Source) ([]Article, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	if f.fail[src.Name] {
		return nil, errors.New("boom")
	}
	return []Article{{ID: ID(src.Name), Source: src.Name, Title: src.Name}}, nil
}

func TestFetchAllSkipsFailingSources(t *testing.T) {
	f := &fakeFetcher{fail: map[string]bool{"b": true}}
	sources := []config.Source{
		config.NewSource("a", "http://a"),
		config.NewSource("b", "http://b"),
		config.NewSource("c", "http://c"),
	}

	res := FetchAll(context.Background(), f, sources, 2, logging.Discard())
	if len(res.Articles) != 2 {
		t.Fatalf("Expected 2 articles, got %d", len(res.Articles))
	}
	if res.Articles[0].Source != "a" || res.Articles[1].Source != "c" {
		t.Errorf("Expected results in source order, got %s, %s", res.Articles[0].Source, res.Articles[1].Source)
	}
	if len(res.Failed) != 1 || res.Failed[0].Source != "b" {
		t.Errorf("Expected source b to be reported failed, got %+v", res.Failed)
	}
	if res.AllFailed() {
		t.Error("AllFailed should be false when some sources succeed")
	}
	if p := f.peak.Load(); p > 2 {
		t.Errorf("Expected at most 2 concurrent fetches, saw %d", p)
	}
}

func TestFetchAllEverySourceFails(t *testing.T) {
	f := &fakeFetcher{fail: map[string]bool{"a": true, "b": true}}
	sources := []config.Source{config.NewSource("a", "http://a"), config.NewSource("b", "http://b")}

	res := FetchAll(context.Background(), f, sources, 4, logging.Discard())
	if !res.AllFailed() {
		t.Error("Expected AllFailed when every source errors")
	}
	if len(res.Articles) != 0 {
		t.Errorf("Expected no articles, got %d", len(res.Articles))
	}
}
