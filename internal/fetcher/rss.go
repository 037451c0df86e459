package fetcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"

	"github.com/ryosukesatoh/feed-digest/internal/config"
)

const excerptRunes = 200

// RSSFetcher reads RSS, Atom and JSON feeds.
type RSSFetcher struct {
	parser  *gofeed.Parser
	timeout time.Duration
	loc     *time.Location
}

func NewRSSFetcher(timeout time.Duration, userAgent string, loc *time.Location) *RSSFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: timeout}
	p.UserAgent = userAgent
	return &RSSFetcher{parser: p, timeout: timeout, loc: loc}
}

func (f *RSSFetcher) Fetch(ctx context.Context, source config.Source) ([]Article, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	feed, err := f.parser.ParseURLWithContext(source.URL(), ctx)
	if err != nil {
		return nil, fmt.Errorf("rss: fetching %s: %w", source.Name, redact(err, source))
	}

	articles := make([]Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		articles = append(articles, f.convert(item, source))
	}
	return articles, nil
}

func (f *RSSFetcher) convert(item *gofeed.Item, source config.Source) Article {
	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}
	excerpt := item.Description
	if strings.TrimSpace(excerpt) == "" {
		excerpt = item.Content
	}

	bodyText := HTMLToText(body)
	return Article{
		ID:        articleID(item),
		Title:     strings.TrimSpace(HTMLToText(item.Title)),
		Link:      strings.TrimSpace(item.Link),
		Source:    source.Name,
		Author:    itemAuthor(item),
		Published: f.published(item),
		Body:      bodyText,
		Excerpt:   Truncate(HTMLToText(excerpt), excerptRunes),
	}
}

// published picks the best available timestamp and moves it into the
// configured zone. Unparseable dates yield the zero time.
func (f *RSSFetcher) published(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.In(f.loc)
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.In(f.loc)
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if t, err := dateparse.ParseIn(strings.TrimSpace(raw), f.loc); err == nil {
			return t.In(f.loc)
		}
	}
	return time.Time{}
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

// articleID derives a stable identifier from the GUID, falling back to the
// link and then the title.
func articleID(item *gofeed.Item) string {
	return ID(item.GUID, item.Link, item.Title)
}

// ID hashes the first non-empty key.
func ID(keys ...string) string {
	var key string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			key = k
			break
		}
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h[:16])
}

// redact strips the resolved URL, which may carry an access token, from
// transport errors.
func redact(err error, source config.Source) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s %s: %w", ue.Op, source.URLTemplate, ue.Err)
	}
	if resolved := source.URL(); resolved != source.URLTemplate && strings.Contains(err.Error(), resolved) {
		return errors.New(strings.ReplaceAll(err.Error(), resolved, source.URLTemplate))
	}
	return err
}
