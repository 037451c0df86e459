package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/fetcher"
)

// ErrCorrupt is returned by Load when the persisted state cannot be decoded.
// The accompanying entries are empty and safe to use.
var ErrCorrupt = errors.New("store: corrupt state")

// State is what a backend holds. Initialized stays false until the first
// Save, so a set emptied by pruning is not mistaken for a first run.
type State struct {
	Entries     map[string]time.Time
	Initialized bool
}

// Backend persists the seen-set between runs.
type Backend interface {
	// Load returns the persisted state. A missing store is not an error.
	Load(ctx context.Context) (State, error)
	// Save replaces the persisted state atomically.
	Save(ctx context.Context, entries map[string]time.Time) error
	Close() error
}

// Open creates the backend selected by the store configuration.
func Open(cfg config.StoreConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "json":
		return NewJSONBackend(cfg.Path), nil
	case "sqlite":
		return NewSQLiteBackend(cfg.Path)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

// Set maps article identifiers to the time they were first seen.
type Set struct {
	seen        map[string]time.Time
	initialized bool
}

func NewSet(entries map[string]time.Time) *Set {
	seen := make(map[string]time.Time, len(entries))
	for id, at := range entries {
		seen[id] = at
	}
	return &Set{seen: seen}
}

// Load reads the backend into a Set. On error the returned Set is empty but
// usable, so callers can log and continue from a clean baseline.
func Load(ctx context.Context, b Backend) (*Set, error) {
	st, err := b.Load(ctx)
	if err != nil {
		return NewSet(nil), err
	}
	s := NewSet(st.Entries)
	s.initialized = st.Initialized || len(st.Entries) > 0
	return s, nil
}

// Save writes the Set through the backend.
func Save(ctx context.Context, b Backend, s *Set) error {
	return b.Save(ctx, s.Entries())
}

func (s *Set) Len() int {
	return len(s.seen)
}

func (s *Set) Empty() bool {
	return len(s.seen) == 0
}

// Initialized reports whether the set was loaded from previously saved
// state, even if that state holds no entries.
func (s *Set) Initialized() bool {
	return s.initialized
}

// Contains reports whether the article was already processed. Entries
// migrated from link-keyed state match on the link hash.
func (s *Set) Contains(a fetcher.Article) bool {
	if _, ok := s.seen[a.ID]; ok {
		return true
	}
	if a.Link != "" {
		_, ok := s.seen[fetcher.ID(a.Link)]
		return ok
	}
	return false
}

// Diff returns the articles not yet in the set, dropping repeats within the
// batch itself. Input order is preserved.
func (s *Set) Diff(articles []fetcher.Article) []fetcher.Article {
	batch := make(map[string]bool, len(articles))
	var fresh []fetcher.Article
	for _, a := range articles {
		if s.Contains(a) || batch[a.ID] {
			continue
		}
		batch[a.ID] = true
		fresh = append(fresh, a)
	}
	return fresh
}

// Record marks the articles as seen at the given time. Existing entries
// keep their original first-seen timestamp.
func (s *Set) Record(articles []fetcher.Article, at time.Time) int {
	added := 0
	for _, a := range articles {
		if _, ok := s.seen[a.ID]; ok {
			continue
		}
		s.seen[a.ID] = at
		added++
	}
	return added
}

// Prune removes entries first seen before cutoff and returns how many went.
// Entries matching an article in keep survive regardless of age.
func (s *Set) Prune(cutoff time.Time, keep []fetcher.Article) int {
	protected := make(map[string]bool, 2*len(keep))
	for _, a := range keep {
		protected[a.ID] = true
		if a.Link != "" {
			protected[fetcher.ID(a.Link)] = true
		}
	}
	removed := 0
	for id, at := range s.seen {
		if at.Before(cutoff) && !protected[id] {
			delete(s.seen, id)
			removed++
		}
	}
	return removed
}

// IDs returns the identifiers in sorted order.
func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.seen))
	for id := range s.seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entries returns a copy of the underlying mapping.
func (s *Set) Entries() map[string]time.Time {
	out := make(map[string]time.Time, len(s.seen))
	for id, at := range s.seen {
		out[id] = at
	}
	return out
}

// Span returns the oldest and newest first-seen timestamps.
func (s *Set) Span() (oldest, newest time.Time) {
	for _, at := range s.seen {
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
		if at.After(newest) {
			newest = at
		}
	}
	return oldest, newest
}
