package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/fetcher"
)

func article(key string) fetcher.Article {
	return fetcher.Article{ID: fetcher.ID(key), Title: key, Link: "https://example.com/" + key}
}

func TestSetDiffAndRecord(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	s := NewSet(nil)
	require.True(t, s.Empty())

	batch := []fetcher.Article{article("a"), article("b"), article("a")}
	fresh := s.Diff(batch)
	require.Len(t, fresh, 2, "duplicate within a batch should be dropped")

	assert.Equal(t, 2, s.Record(fresh, now))
	assert.Empty(t, s.Diff(batch), "recorded articles must never be returned again")

	later := now.Add(time.Hour)
	assert.Equal(t, 0, s.Record(fresh, later))
	assert.Equal(t, now, s.Entries()[fetcher.ID("a")], "first-seen timestamp must be kept")
}

func TestSetDiffMatchesLegacyLinkKeys(t *testing.T) {
	a := fetcher.Article{ID: fetcher.ID("guid-1"), Link: "https://example.com/post"}
	s := NewSet(map[string]time.Time{fetcher.ID("https://example.com/post"): time.Now()})

	assert.True(t, s.Contains(a))
	assert.Empty(t, s.Diff([]fetcher.Article{a}))
}

func TestSetPrune(t *testing.T) {
	now := time.Now()
	s := NewSet(map[string]time.Time{
		"old":    now.Add(-40 * 24 * time.Hour),
		"recent": now.Add(-time.Hour),
	})

	assert.Equal(t, 1, s.Prune(now.Add(-30*24*time.Hour), nil))
	assert.Equal(t, []string{"recent"}, s.IDs())
}

func TestSetPruneKeepsArticlesStillInFeed(t *testing.T) {
	now := time.Now()
	still := article("still-listed")
	legacy := fetcher.Article{ID: fetcher.ID("guid-9"), Link: "https://example.com/legacy"}
	s := NewSet(map[string]time.Time{
		still.ID:                                 now.Add(-40 * 24 * time.Hour),
		fetcher.ID("https://example.com/legacy"): now.Add(-40 * 24 * time.Hour),
		"gone":                                   now.Add(-40 * 24 * time.Hour),
	})

	assert.Equal(t, 1, s.Prune(now.Add(-30*24*time.Hour), []fetcher.Article{still, legacy}))
	assert.True(t, s.Contains(still))
	assert.True(t, s.Contains(legacy))
}

func TestSetSpan(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	oldest, newest := NewSet(map[string]time.Time{"a": t2, "b": t1}).Span()
	assert.Equal(t, t1, oldest)
	assert.Equal(t, t2, newest)

	oldest, newest = NewSet(nil).Span()
	assert.True(t, oldest.IsZero())
	assert.True(t, newest.IsZero())
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()
	sqlite, err := NewSQLiteBackend(filepath.Join(dir, "seen.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Backend{
		"json":   NewJSONBackend(filepath.Join(dir, "nested", "seen.json")),
		"sqlite": sqlite,
	}
}

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 10, 0, 0, 123456789, time.UTC)

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			empty, err := Load(ctx, b)
			require.NoError(t, err, "missing state is a clean bootstrap")
			require.True(t, empty.Empty())
			require.False(t, empty.Initialized())

			s := NewSet(nil)
			for i, key := range []string{"a", "b", "c"} {
				s.Record([]fetcher.Article{article(key)}, base.Add(time.Duration(i)*time.Minute))
			}
			require.NoError(t, Save(ctx, b, s))

			loaded, err := Load(ctx, b)
			require.NoError(t, err)
			assert.Equal(t, s.IDs(), loaded.IDs())
			for id, at := range s.Entries() {
				assert.True(t, at.Equal(loaded.Entries()[id]), "timestamp for %s", id)
			}

			loaded.Prune(base.Add(30*time.Second), nil)
			require.NoError(t, Save(ctx, b, loaded))
			again, err := Load(ctx, b)
			require.NoError(t, err)
			assert.Equal(t, 2, again.Len(), "save must replace, not merge")
		})
	}
}

func TestBackendEmptiedSetStaysInitialized(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewSet(map[string]time.Time{"old": base})
			require.NoError(t, Save(ctx, b, s))

			loaded, err := Load(ctx, b)
			require.NoError(t, err)
			require.True(t, loaded.Initialized())
			require.Equal(t, 1, loaded.Prune(base.Add(time.Hour), nil))
			require.NoError(t, Save(ctx, b, loaded))

			again, err := Load(ctx, b)
			require.NoError(t, err)
			assert.True(t, again.Empty())
			assert.True(t, again.Initialized(), "a pruned-to-empty store is not a first run")
		})
	}
}

func TestJSONBackendCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := Load(context.Background(), NewJSONBackend(path))
	require.ErrorIs(t, err, ErrCorrupt)
	assert.True(t, s.Empty())
	assert.False(t, s.Initialized())
}

func TestJSONBackendEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	s, err := Load(context.Background(), NewJSONBackend(path))
	require.NoError(t, err)
	assert.True(t, s.Empty())
}

func TestJSONBackendLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	legacy := `{"seen_links": ["https://example.com/1", "https://example.com/2"], "updated_at": "2024-01-01T00:00:00+08:00"}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	migratedAt := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	b := NewJSONBackend(path)
	b.now = func() time.Time { return migratedAt }

	s, err := Load(context.Background(), b)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	assert.True(t, s.Initialized())
	assert.Equal(t, migratedAt, s.Entries()[fetcher.ID("https://example.com/1")])

	require.NoError(t, Save(context.Background(), b, s))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "seen_links", "legacy key is not written back")
}

func TestJSONBackendLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	b := NewJSONBackend(filepath.Join(dir, "seen.json"))
	require.NoError(t, Save(context.Background(), b, NewSet(map[string]time.Time{"x": time.Now()})))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "seen.json", files[0].Name())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(config.StoreConfig{Backend: "json", Path: filepath.Join(dir, "s.json")})
	require.NoError(t, err)
	assert.IsType(t, &JSONBackend{}, b)

	b, err = Open(config.StoreConfig{Backend: "sqlite", Path: filepath.Join(dir, "s.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteBackend{}, b)
	require.NoError(t, b.Close())

	_, err = Open(config.StoreConfig{Backend: "redis"})
	assert.Error(t, err)
}
