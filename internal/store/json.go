package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ryosukesatoh/feed-digest/internal/fetcher"
)

type jsonState struct {
	Seen      map[string]time.Time `json:"seen"`
	UpdatedAt time.Time            `json:"updated_at"`

	// Link-keyed state written by earlier releases.
	SeenLinks []string `json:"seen_links,omitempty"`
}

// JSONBackend keeps the seen-set in a single JSON file that is replaced
// atomically on every save.
type JSONBackend struct {
	path string
	now  func() time.Time
}

func NewJSONBackend(path string) *JSONBackend {
	return &JSONBackend{path: path, now: time.Now}
}

func (b *JSONBackend) Path() string {
	return b.path
}

// Load reads the state file. Any decodable file counts as initialized, even
// one with no entries.
func (b *JSONBackend) Load(ctx context.Context) (State, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{Entries: map[string]time.Time{}}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("store: failed to read %s: %w", b.path, err)
	}
	if len(data) == 0 {
		return State{Entries: map[string]time.Time{}}, nil
	}

	var st jsonState
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, b.path, err)
	}

	entries := make(map[string]time.Time, len(st.Seen)+len(st.SeenLinks))
	for id, at := range st.Seen {
		entries[id] = at
	}
	if len(st.SeenLinks) > 0 {
		migratedAt := b.now()
		for _, link := range st.SeenLinks {
			id := fetcher.ID(link)
			if _, ok := entries[id]; !ok {
				entries[id] = migratedAt
			}
		}
	}
	return State{Entries: entries, Initialized: true}, nil
}

func (b *JSONBackend) Save(ctx context.Context, entries map[string]time.Time) error {
	if entries == nil {
		entries = map[string]time.Time{}
	}
	data, err := json.MarshalIndent(jsonState{Seen: entries, UpdatedAt: b.now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("store: failed to encode state: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".seen-*.tmp")
	if err != nil {
		return fmt.Errorf("store: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("store: failed to replace %s: %w", b.path, err)
	}
	return nil
}

func (b *JSONBackend) Close() error {
	return nil
}
