package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

const (
	seenTable      = "seen_articles"
	metaTable      = "store_meta"
	insertPageSize = 400
)

// SQLiteBackend keeps the seen-set in a SQLite table. Save replaces the
// table contents inside one transaction.
type SQLiteBackend struct {
	path string
	conn *sql.DB
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: failed to create %s: %w", dir, err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	b := &SQLiteBackend{path: path, conn: conn}
	if err := b.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	_, err := b.conn.Exec(`
	CREATE TABLE IF NOT EXISTS seen_articles (
		id TEXT PRIMARY KEY,
		first_seen INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_seen_articles_first_seen ON seen_articles(first_seen);
	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`)
	return err
}

func (b *SQLiteBackend) Path() string {
	return b.path
}

// Load reads every row. The database counts as initialized once a Save has
// stamped store_meta.
func (b *SQLiteBackend) Load(ctx context.Context) (State, error) {
	saved, err := b.savedBefore(ctx)
	if err != nil {
		return State{}, err
	}

	query, args, err := sq.Select("id", "first_seen").From(seenTable).ToSql()
	if err != nil {
		return State{}, fmt.Errorf("store: build query: %w", err)
	}
	rows, err := b.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return State{}, fmt.Errorf("store: query seen articles: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]time.Time)
	for rows.Next() {
		var (
			id   string
			nano int64
		)
		if err := rows.Scan(&id, &nano); err != nil {
			return State{}, fmt.Errorf("%w: scan row: %v", ErrCorrupt, err)
		}
		entries[id] = time.Unix(0, nano).UTC()
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("store: iterate seen articles: %w", err)
	}
	return State{Entries: entries, Initialized: saved}, nil
}

func (b *SQLiteBackend) savedBefore(ctx context.Context) (bool, error) {
	query, args, err := sq.Select("COUNT(*)").From(metaTable).Where(sq.Eq{"key": "updated_at"}).ToSql()
	if err != nil {
		return false, fmt.Errorf("store: build query: %w", err)
	}
	var n int
	if err := b.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("store: query store meta: %w", err)
	}
	return n > 0, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, entries map[string]time.Time) error {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	del, args, err := sq.Delete(seenTable).ToSql()
	if err != nil {
		return fmt.Errorf("store: build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return fmt.Errorf("store: clear seen articles: %w", err)
	}

	ids := NewSet(entries).IDs()
	for start := 0; start < len(ids); start += insertPageSize {
		end := min(start+insertPageSize, len(ids))
		ins := sq.Insert(seenTable).Columns("id", "first_seen")
		for _, id := range ids[start:end] {
			ins = ins.Values(id, entries[id].UnixNano())
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("store: build insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("store: insert seen articles: %w", err)
		}
	}

	stamp, args, err := sq.Insert(metaTable).Options("OR REPLACE").
		Columns("key", "value").
		Values("updated_at", time.Now().UnixNano()).
		ToSql()
	if err != nil {
		return fmt.Errorf("store: build meta insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, stamp, args...); err != nil {
		return fmt.Errorf("store: stamp store meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.conn.Close()
}
