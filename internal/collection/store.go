// Package collection is the desktop-side collection capability: an
// identity-key membership test plus insert, backed by SQLite.
package collection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/panelbase/comicscan/pkg/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS comics (
	upc        TEXT PRIMARY KEY,
	extension  TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	added_at   INTEGER NOT NULL
);
`

// Store is a SQLite-backed collection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the collection database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open collection db: %w", err)
	}
	// A single writer keeps SQLite happy without WAL tuning.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init collection schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Has reports whether the identity key is already in the collection.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	key = NormalizeKey(key)
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM comics WHERE upc = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("collection lookup %s: %w", key, err)
	}
	return true, nil
}

// Add inserts an item. Inserting an existing key is a no-op, so Add is safe
// to call after a racing scan.
func (s *Store) Add(ctx context.Context, item protocol.Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO comics (upc, extension, title, added_at) VALUES (?, ?, ?, ?)`,
		NormalizeKey(item.UPC), item.Extension, item.Title, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("collection insert %s: %w", item.UPC, err)
	}
	return nil
}

// Count returns the collection size.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comics`).Scan(&n); err != nil {
		return 0, fmt.Errorf("collection count: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
