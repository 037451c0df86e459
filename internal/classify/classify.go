package classify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/fetcher"
)

// Category represents an article classification.
type Category string

const (
	Normal        Category = "normal"
	Recruiting    Category = "recruiting"
	Promotional   Category = "promotional"
	Advertisement Category = "advertisement"
	OtherNoise    Category = "other-noise"
)

// AllCategories returns all valid categories in canonical order.
func AllCategories() []Category {
	return []Category{Normal, Recruiting, Promotional, Advertisement, OtherNoise}
}

func (c Category) Valid() bool {
	for _, v := range AllCategories() {
		if c == v {
			return true
		}
	}
	return false
}

// Policy decides what happens to articles of a category.
type Policy string

const (
	// Summarize sends the article to the summarizer and lists it.
	Summarize Policy = "summarize"
	// Flag lists the article with its category badge and feed excerpt.
	Flag Policy = "flag"
	// Drop omits the article from the digest.
	Drop Policy = "drop"
)

// DefaultPolicies returns the per-category policy used when the
// configuration does not override it.
func DefaultPolicies() map[Category]Policy {
	return map[Category]Policy{
		Normal:        Summarize,
		Recruiting:    Flag,
		Promotional:   Drop,
		Advertisement: Drop,
		OtherNoise:    Flag,
	}
}

// Item is a classified article.
type Item struct {
	Article  fetcher.Article
	Category Category
	Policy   Policy
}

// Result partitions a batch of new articles.
type Result struct {
	Summarize []Item // most recent first, capped
	Flagged   []Item
	Dropped   []Item

	Stale    []fetcher.Article // outside the max_hours window
	Deferred []Item            // over max_articles_per_run, retried next run
}

// Processed returns the articles that may be recorded as seen once the
// digest has been delivered.
func (r Result) Processed() []fetcher.Article {
	out := make([]fetcher.Article, 0, len(r.Summarize)+len(r.Flagged)+len(r.Dropped))
	for _, group := range [][]Item{r.Summarize, r.Flagged, r.Dropped} {
		for _, it := range group {
			out = append(out, it.Article)
		}
	}
	return out
}

// Counts returns the number of classified articles per category.
func (r Result) Counts() map[Category]int {
	counts := make(map[Category]int)
	for _, group := range [][]Item{r.Summarize, r.Flagged, r.Dropped, r.Deferred} {
		for _, it := range group {
			counts[it.Category]++
		}
	}
	return counts
}

// Classifier applies the time window, the rule table and the per-run cap.
type Classifier struct {
	rules    []Rule
	policies map[Category]Policy
	maxAge   time.Duration
	limit    int // 0 = unlimited
}

// New builds a Classifier from the filters and classify sections.
func New(cfg *config.Config) (*Classifier, error) {
	rules, err := CompileRules(cfg.Classify.Rules)
	if err != nil {
		return nil, err
	}
	policies := DefaultPolicies()
	for name, p := range cfg.Classify.Policies {
		cat := Category(name)
		if !cat.Valid() {
			return nil, fmt.Errorf("classify: unknown category %q in policies", name)
		}
		policies[cat] = Policy(p)
	}
	limit := 0
	if cfg.Filters.MaxArticlesPerRun != nil {
		limit = *cfg.Filters.MaxArticlesPerRun
	}
	return NewClassifier(rules, policies, time.Duration(cfg.Filters.MaxHours)*time.Hour, limit), nil
}

// NewClassifier creates a Classifier. maxAge <= 0 disables the window and
// limit <= 0 disables the cap.
func NewClassifier(rules []Rule, policies map[Category]Policy, maxAge time.Duration, limit int) *Classifier {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Classifier{rules: rules, policies: policies, maxAge: maxAge, limit: limit}
}

// Categorize returns the category of the first matching rule, or Normal.
func (c *Classifier) Categorize(a fetcher.Article) Category {
	text := strings.ToLower(a.Title + "\n" + a.Body)
	for _, r := range c.rules {
		if r.Match(text) {
			return r.Category
		}
	}
	return Normal
}

func (c *Classifier) policyFor(cat Category) Policy {
	if p, ok := c.policies[cat]; ok {
		return p
	}
	return Summarize
}

// Stale reports whether a was published outside the window. Articles
// without a parseable date are never stale.
func (c *Classifier) Stale(a fetcher.Article, now time.Time) bool {
	if c.maxAge <= 0 || a.Published.IsZero() {
		return false
	}
	return now.Sub(a.Published) > c.maxAge
}

// Apply classifies a batch of new articles at run time now.
func (c *Classifier) Apply(articles []fetcher.Article, now time.Time) Result {
	var res Result
	for _, a := range articles {
		if c.Stale(a, now) {
			res.Stale = append(res.Stale, a)
			continue
		}
		cat := c.Categorize(a)
		it := Item{Article: a, Category: cat, Policy: c.policyFor(cat)}
		switch it.Policy {
		case Drop:
			res.Dropped = append(res.Dropped, it)
		case Flag:
			res.Flagged = append(res.Flagged, it)
		default:
			res.Summarize = append(res.Summarize, it)
		}
	}

	sortRecentFirst(res.Summarize)
	if c.limit > 0 && len(res.Summarize) > c.limit {
		res.Deferred = append(res.Deferred, res.Summarize[c.limit:]...)
		res.Summarize = res.Summarize[:c.limit]
	}
	return res
}

// sortRecentFirst orders by published time, newest first; undated articles
// go last.
func sortRecentFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		pi, pj := items[i].Article.Published, items[j].Article.Published
		if pi.IsZero() != pj.IsZero() {
			return pj.IsZero()
		}
		return pi.After(pj)
	})
}
