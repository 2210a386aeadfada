package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/asdine/storm/v3"
)

// nameRecord is the storm row for one index entry.
type nameRecord struct {
	Name     string `storm:"id"`
	Pickcode string
}

// BoltIndex is an IndexBackend in a single bolt file, accessed through storm.
type BoltIndex struct {
	db *storm.DB
}

// OpenBoltIndex opens (or creates) the bolt file at path.
func OpenBoltIndex(path string) (*BoltIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	db, err := storm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bolt index: %w", err)
	}
	sub("db").Info("opened bolt index", "path", path)
	return &BoltIndex{db: db}, nil
}

func (b *BoltIndex) Get(_ context.Context, name string) (string, error) {
	var rec nameRecord
	if err := b.db.One("Name", name, &rec); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("bolt get: %w", err)
	}
	return rec.Pickcode, nil
}

func (b *BoltIndex) Set(_ context.Context, name, pickcode string) error {
	if err := b.db.Save(&nameRecord{Name: name, Pickcode: pickcode}); err != nil {
		return fmt.Errorf("bolt save: %w", err)
	}
	return nil
}

func (b *BoltIndex) Has(ctx context.Context, name string) (bool, error) {
	_, err := b.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *BoltIndex) Len(_ context.Context) (int, error) {
	n, err := b.db.Count(&nameRecord{})
	if err != nil {
		return 0, fmt.Errorf("bolt count: %w", err)
	}
	return n, nil
}

func (b *BoltIndex) Close() error {
	return b.db.Close()
}
