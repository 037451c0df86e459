package digest

import (
	"sort"
	"time"

	"github.com/ryosukesatoh/feed-digest/internal/classify"
	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/fetcher"
)

// Entry is one article as it appears in the digest.
type Entry struct {
	Article  fetcher.Article
	Category classify.Category
	Summary  string
	Tags     []string
	Fallback bool // Summary is the feed excerpt rather than an AI summary
}

// Section groups the entries of one source.
type Section struct {
	Source  string
	Entries []Entry
}

// Stats is the run metadata shown in the digest footer.
type Stats struct {
	Fetched       int
	New           int
	Summarized    int
	Fallback      int
	Flagged       int
	Dropped       int
	Stale         int
	Deferred      int
	FailedSources []string
	Categories    map[classify.Category]int
}

// Digest is the transient result of one run.
type Digest struct {
	GeneratedAt time.Time
	Sections    []Section
	Stats       Stats
}

// Compose groups entries by source. Sections follow sourceOrder, with any
// unknown sources appended alphabetically; entries are newest first.
func Compose(entries []Entry, sourceOrder []string, now time.Time, stats Stats) *Digest {
	bySource := make(map[string][]Entry)
	for _, e := range entries {
		bySource[e.Article.Source] = append(bySource[e.Article.Source], e)
	}

	order := make([]string, 0, len(bySource))
	known := make(map[string]bool, len(sourceOrder))
	for _, name := range sourceOrder {
		known[name] = true
		if _, ok := bySource[name]; ok {
			order = append(order, name)
		}
	}
	var extra []string
	for name := range bySource {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	d := &Digest{GeneratedAt: now, Stats: stats}
	for _, name := range order {
		es := bySource[name]
		sort.SliceStable(es, func(i, j int) bool {
			pi, pj := es[i].Article.Published, es[j].Article.Published
			if pi.IsZero() != pj.IsZero() {
				return pj.IsZero()
			}
			return pi.After(pj)
		})
		d.Sections = append(d.Sections, Section{Source: name, Entries: es})
	}
	return d
}

// Count returns the number of entries across all sections.
func (d *Digest) Count() int {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Entries)
	}
	return n
}

func (d *Digest) Empty() bool {
	return d.Count() == 0
}

// QuietHours is a daily window, possibly wrapping midnight, during which
// empty-run notifications are suppressed.
type QuietHours struct {
	Start   time.Duration // offset from local midnight
	End     time.Duration
	Enabled bool
}

// QuietHoursFrom reads filters.quiet_hours.
func QuietHoursFrom(cfg *config.Config) QuietHours {
	start, end, ok := cfg.QuietWindow()
	return QuietHours{Start: start, End: end, Enabled: ok}
}

// Contains reports whether t, in its own location, falls inside the window.
// Start is inclusive and End exclusive.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled || q.Start == q.End {
		return false
	}
	tod := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
	if q.Start < q.End {
		return tod >= q.Start && tod < q.End
	}
	return tod >= q.Start || tod < q.End
}
