package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ryosukesatoh/feed-digest/internal/archive"
	"github.com/ryosukesatoh/feed-digest/internal/classify"
	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/digest"
	"github.com/ryosukesatoh/feed-digest/internal/fetcher"
	"github.com/ryosukesatoh/feed-digest/internal/publisher"
	"github.com/ryosukesatoh/feed-digest/internal/retry"
	"github.com/ryosukesatoh/feed-digest/internal/scraper"
	"github.com/ryosukesatoh/feed-digest/internal/store"
	"github.com/ryosukesatoh/feed-digest/internal/summarizer"
)

var (
	// ErrNoData is returned when every source failed and there is no cached
	// seen-set to fall back on.
	ErrNoData = errors.New("runner: every source failed and no state is cached")
	// ErrDelivery is returned when the notification could not be delivered
	// after retries. The seen-set is left untouched.
	ErrDelivery = errors.New("runner: delivery failed")
)

// Outcome describes how a successful run ended.
type Outcome string

const (
	Delivered  Outcome = "delivered"   // a digest was sent
	NothingNew Outcome = "nothing-new" // the empty-run confirmation was sent
	Suppressed Outcome = "suppressed"  // empty run inside quiet hours, nothing sent
	Bootstrap  Outcome = "bootstrap"   // first run, baseline recorded without notifying
)

// Report summarizes one run.
type Report struct {
	Outcome    Outcome
	Stats      digest.Stats
	ArchiveURL string
	Recorded   int
	Pruned     int
	Duration   time.Duration

	// SaveErr is set when the seen-set could not be persisted after a
	// successful delivery. The run still counts as successful.
	SaveErr error
}

// Summarizer produces the summary of one article and never fails.
type Summarizer interface {
	Summarize(ctx context.Context, a fetcher.Article) summarizer.Result
}

// Enricher may replace article bodies in place before summarization.
type Enricher interface {
	Enrich(ctx context.Context, articles []fetcher.Article)
}

// Options are the collaborators of a Runner. Enricher and Archiver are
// optional; Now defaults to time.Now.
type Options struct {
	Fetcher    fetcher.Fetcher
	Enricher   Enricher
	Classifier *classify.Classifier
	Summarizer Summarizer
	Archiver   archive.Archiver
	Publisher  publisher.Publisher
	Store      store.Backend
	Now        func() time.Time
}

// Runner orchestrates the fetch -> diff -> classify -> summarize -> compose
// -> deliver -> persist pipeline.
type Runner struct {
	sources     []config.Source
	concurrency int
	titlePrefix string
	quiet       digest.QuietHours
	retention   time.Duration
	delivery    retry.Policy
	loc         *time.Location

	fetcher    fetcher.Fetcher
	enricher   Enricher
	classifier *classify.Classifier
	summarizer Summarizer
	archiver   archive.Archiver
	publisher  publisher.Publisher
	store      store.Backend
	now        func() time.Time
	logger     *slog.Logger
}

func New(cfg *config.Config, opts Options, logger *slog.Logger) *Runner {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		sources:     cfg.EnabledSources(),
		concurrency: cfg.Fetch.Concurrency,
		titlePrefix: cfg.Publisher.TitlePrefix,
		quiet:       digest.QuietHoursFrom(cfg),
		retention:   cfg.RetentionDuration(),
		delivery:    retry.FromConfig(cfg.Publisher.Retry),
		loc:         cfg.Location(),
		fetcher:     opts.Fetcher,
		enricher:    opts.Enricher,
		classifier:  opts.Classifier,
		summarizer:  opts.Summarizer,
		archiver:    opts.Archiver,
		publisher:   opts.Publisher,
		store:       opts.Store,
		now:         now,
		logger:      logger,
	}
}

// NewFromConfig wires the production collaborators. The caller must Close
// the runner to release the store.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Runner, error) {
	cls, err := classify.New(cfg)
	if err != nil {
		return nil, err
	}
	sum, err := summarizer.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	pub, err := publisher.New(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}

	opts := Options{
		Fetcher:    fetcher.New(cfg),
		Classifier: cls,
		Summarizer: sum,
		Archiver:   archive.New(cfg),
		Publisher:  pub,
		Store:      backend,
	}
	if e := scraper.NewEnricher(cfg, logger); e != nil {
		opts.Enricher = e
	}
	return New(cfg, opts, logger), nil
}

func (r *Runner) Close() error {
	return r.store.Close()
}

// Run executes the full pipeline once. The seen-set is written only after
// the notification was delivered or deliberately suppressed.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	start := r.now()
	now := start.In(r.loc)
	var rep Report

	seen, err := store.Load(ctx, r.store)
	if err != nil {
		r.logger.Warn("seen-set unreadable, continuing from an empty baseline", "error", err)
	}
	r.logger.Info("starting run", "sources", len(r.sources), "seen", seen.Len())

	fetched := fetcher.FetchAll(ctx, r.fetcher, r.sources, r.concurrency, r.logger)
	stats := digest.Stats{Fetched: len(fetched.Articles)}
	for _, f := range fetched.Failed {
		stats.FailedSources = append(stats.FailedSources, f.Source)
	}
	r.logger.Info("fetched articles", "articles", len(fetched.Articles), "failed_sources", len(fetched.Failed))

	if fetched.AllFailed() && !seen.Initialized() {
		return rep, ErrNoData
	}

	if !seen.Initialized() {
		rep.Outcome = Bootstrap
		rep.Stats = stats
		r.commit(ctx, seen, fetched.Articles, fetched.Articles, now, &rep)
		r.logger.Info("first run, recorded baseline without notifying", "recorded", rep.Recorded)
		rep.Duration = r.now().Sub(start)
		return rep, nil
	}

	fresh := seen.Diff(fetched.Articles)
	stats.New = len(fresh)

	cls := r.classifier.Apply(fresh, now)
	stats.Flagged = len(cls.Flagged)
	stats.Dropped = len(cls.Dropped)
	stats.Stale = len(cls.Stale)
	stats.Deferred = len(cls.Deferred)
	stats.Categories = make(map[classify.Category]int)
	for cat, n := range cls.Counts() {
		stats.Categories[cat] = n
	}
	r.logger.Info("classified new articles",
		"new", len(fresh),
		"summarize", len(cls.Summarize),
		"flagged", stats.Flagged,
		"dropped", stats.Dropped,
		"stale", stats.Stale,
		"deferred", stats.Deferred,
	)

	entries := r.summarize(ctx, cls.Summarize, &stats)
	for _, it := range cls.Flagged {
		entries = append(entries, digest.Entry{
			Article:  it.Article,
			Category: it.Category,
			Summary:  summarizer.Excerpt(it.Article),
			Fallback: true,
		})
	}

	d := digest.Compose(entries, r.sourceNames(), now, stats)
	rep.Stats = stats

	var msg publisher.Message
	switch {
	case !d.Empty():
		msg = r.message(ctx, d)
		rep.Outcome = Delivered
		rep.ArchiveURL = msg.ArchiveURL
	case r.quiet.Contains(now):
		r.logger.Info("no new articles during quiet hours, notification suppressed")
		rep.Outcome = Suppressed
		r.commit(ctx, seen, cls.Processed(), fetched.Articles, now, &rep)
		rep.Duration = r.now().Sub(start)
		return rep, nil
	default:
		title, body := digest.NoNewArticles(r.titlePrefix, now, len(r.sources), stats)
		msg = publisher.Message{Title: title, Body: body}
		rep.Outcome = NothingNew
	}

	if err := r.deliver(ctx, msg); err != nil {
		rep.Duration = r.now().Sub(start)
		return rep, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	r.logger.Info("notification delivered", "outcome", rep.Outcome, "entries", d.Count())

	r.commit(ctx, seen, cls.Processed(), fetched.Articles, now, &rep)
	rep.Duration = r.now().Sub(start)
	return rep, nil
}

// summarize runs the summarizer over the selected articles. Short bodies are
// enriched with the page's full text first when an enricher is configured.
func (r *Runner) summarize(ctx context.Context, items []classify.Item, stats *digest.Stats) []digest.Entry {
	if len(items) == 0 {
		return nil
	}
	articles := make([]fetcher.Article, len(items))
	for i, it := range items {
		articles[i] = it.Article
	}
	if r.enricher != nil {
		r.enricher.Enrich(ctx, articles)
	}

	entries := make([]digest.Entry, 0, len(items))
	for i, a := range articles {
		res := r.summarizer.Summarize(ctx, a)
		stats.Summarized++
		if res.Fallback {
			stats.Fallback++
		}
		entries = append(entries, digest.Entry{
			Article:  a,
			Category: items[i].Category,
			Summary:  res.Summary,
			Tags:     res.Tags,
			Fallback: res.Fallback,
		})
	}
	return entries
}

// message renders the digest notification, archiving the full text when an
// archiver is configured. An archive failure keeps the digest inline.
func (r *Runner) message(ctx context.Context, d *digest.Digest) publisher.Message {
	msg := publisher.Message{Title: d.Title(r.titlePrefix), Digest: d}
	if r.archiver != nil {
		name := "digest-" + d.GeneratedAt.Format("20060102-1504") + ".md"
		url, err := r.archiver.Archive(ctx, name, d.Markdown())
		if err != nil {
			r.logger.Warn("archive upload failed, sending the full digest inline", "error", err)
		} else {
			r.logger.Info("digest archived", "url", url)
			msg.ArchiveURL = url
		}
	}
	msg.Body = d.Body(msg.ArchiveURL)
	return msg
}

func (r *Runner) deliver(ctx context.Context, msg publisher.Message) error {
	return r.delivery.Do(ctx, func(ctx context.Context) error {
		return r.publisher.Publish(ctx, msg)
	}, func(attempt int, err error, wait time.Duration) {
		r.logger.Warn("delivery failed, retrying", "attempt", attempt, "wait", wait.Round(time.Millisecond), "error", err)
	})
}

// commit records the processed articles, prunes expired entries and writes
// the seen-set. Entries for articles still listed in a feed are never pruned.
// A write failure is logged but does not fail the run.
func (r *Runner) commit(ctx context.Context, seen *store.Set, processed, listed []fetcher.Article, now time.Time, rep *Report) {
	rep.Recorded = seen.Record(processed, now)
	if r.retention > 0 {
		rep.Pruned = seen.Prune(now.Add(-r.retention), listed)
	}
	if err := store.Save(ctx, r.store, seen); err != nil {
		r.logger.Error("failed to persist seen-set, delivered articles may be notified again", "error", err)
		rep.SaveErr = err
		return
	}
	r.logger.Debug("seen-set saved", "entries", seen.Len(), "recorded", rep.Recorded, "pruned", rep.Pruned)
}

func (r *Runner) sourceNames() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name
	}
	return names
}
