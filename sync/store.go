package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// Store is an IndexBackend on the SQLite index database.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// OpenStore opens the database at path and returns a Store that owns it.
func OpenStore(path string) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

// Set inserts or replaces the pickcode for name.
func (s *Store) Set(ctx context.Context, name, pickcode string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO names (name, pickcode, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			pickcode   = excluded.pickcode,
			updated_at = excluded.updated_at
	`, name, pickcode, nowFunc().UnixNano())
	if err != nil {
		sub("store").Error("Set failed", "name", name, "err", err)
		return fmt.Errorf("upsert name: %w", err)
	}
	return nil
}

// Get returns the pickcode for name, or ErrNotFound.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	var pc string
	err := s.db.QueryRowContext(ctx, `SELECT pickcode FROM names WHERE name = ?`, name).Scan(&pc)
	if errors.Is(err, sql.ErrNoRows) {
		if logEnabled(slog.LevelDebug) {
			sub("store").Debug("Get", "name", name, "found", false)
		}
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get name: %w", err)
	}
	if logEnabled(slog.LevelDebug) {
		sub("store").Debug("Get", "name", name, "found", true)
	}
	return pc, nil
}

// Has reports whether name has a row.
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM names WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has name: %w", err)
	}
	return true, nil
}

// Len returns the number of rows in names.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM names`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count names: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
