package fetcher

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ryosukesatoh/feed-digest/internal/config"
)

// Article is one feed entry, normalized across sources.
type Article struct {
	ID        string
	Title     string
	Link      string
	Source    string
	Author    string
	Published time.Time // zero when the feed carried no parseable date
	Body      string    // plain text, possibly long
	Excerpt   string    // short plain text used when no AI summary is available
}

// Fetcher retrieves the entries of a single source.
type Fetcher interface {
	Fetch(ctx context.Context, source config.Source) ([]Article, error)
}

// New creates the RSS fetcher described by the configuration.
func New(cfg *config.Config) *RSSFetcher {
	return NewRSSFetcher(cfg.Fetch.Timeout, cfg.Fetch.UserAgent, cfg.Location())
}

// SourceError records a source that was skipped this run.
type SourceError struct {
	Source string
	Err    error
}

// Result is the merged outcome of fetching every enabled source.
type Result struct {
	Articles  []Article
	Failed    []SourceError
	Attempted int
}

// AllFailed reports whether every attempted source failed.
func (r Result) AllFailed() bool {
	return r.Attempted > 0 && len(r.Failed) == r.Attempted
}

// FetchAll fetches every source with at most concurrency requests in flight.
// A failing source is logged and skipped; results are merged in source order.
func FetchAll(ctx context.Context, f Fetcher, sources []config.Source, concurrency int, logger *slog.Logger) Result {
	type outcome struct {
		articles []Article
		err      error
	}
	outcomes := make([]outcome, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, src := range sources {
		g.Go(func() error {
			start := time.Now()
			articles, err := f.Fetch(gctx, src)
			outcomes[i] = outcome{articles: articles, err: err}
			if err != nil {
				logger.Warn("source fetch failed, skipping", "source", src.Name, "error", err)
				return nil
			}
			logger.Info("source fetched", "source", src.Name, "articles", len(articles), "duration", time.Since(start).Round(time.Millisecond))
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Attempted: len(sources)}
	for i, o := range outcomes {
		if o.err != nil {
			res.Failed = append(res.Failed, SourceError{Source: sources[i].Name, Err: o.err})
			continue
		}
		res.Articles = append(res.Articles, o.articles...)
	}
	return res
}
