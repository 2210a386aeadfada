package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"

	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is returned when a name has no entry in the index.
var ErrNotFound = errors.New("not found")

// IndexBackend is the key/value storage behind a NameIndex. Each Set must be
// a single atomic write.
type IndexBackend interface {
	Get(ctx context.Context, name string) (string, error) // ErrNotFound if absent
	Set(ctx context.Context, name, pickcode string) error
	Has(ctx context.Context, name string) (bool, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// NameIndex maps file names to pickcodes. Names are normalized to NFC so
// that a name coming from the remote and one coming from a URL path compare
// equal regardless of their original normal form.
type NameIndex struct {
	backend IndexBackend
}

// NewNameIndex wraps a backend. A nil backend means an in-memory index.
func NewNameIndex(backend IndexBackend) *NameIndex {
	if backend == nil {
		backend = NewMemoryIndex()
	}
	return &NameIndex{backend: backend}
}

func normalizeName(name string) string {
	return norm.NFC.String(name)
}

// Get returns the pickcode for name, or ErrNotFound.
func (x *NameIndex) Get(ctx context.Context, name string) (string, error) {
	pc, err := x.backend.Get(ctx, normalizeName(name))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("index get: %w", err)
	}
	return pc, nil
}

// Set records name → pickcode. The last write for a name wins.
func (x *NameIndex) Set(ctx context.Context, name, pickcode string) error {
	if err := x.backend.Set(ctx, normalizeName(name), pickcode); err != nil {
		return fmt.Errorf("index set %q: %w", name, err)
	}
	if logEnabled(slog.LevelDebug) {
		sub("index").Debug("set", "name", name, "pickcode", pickcode)
	}
	return nil
}

// Has reports whether name is indexed.
func (x *NameIndex) Has(ctx context.Context, name string) (bool, error) {
	ok, err := x.backend.Has(ctx, normalizeName(name))
	if err != nil {
		return false, fmt.Errorf("index has: %w", err)
	}
	return ok, nil
}

// Len returns the number of indexed names.
func (x *NameIndex) Len(ctx context.Context) (int, error) {
	n, err := x.backend.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("index len: %w", err)
	}
	return n, nil
}

// Close releases the backend.
func (x *NameIndex) Close() error {
	return x.backend.Close()
}

// MemoryIndex is a process-local IndexBackend; contents are lost on exit.
type MemoryIndex struct {
	mu    gosync.RWMutex
	names map[string]string
}

// NewMemoryIndex creates an empty in-memory backend.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{names: make(map[string]string)}
}

func (m *MemoryIndex) Get(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pc, ok := m.names[name]
	if !ok {
		return "", ErrNotFound
	}
	return pc, nil
}

func (m *MemoryIndex) Set(_ context.Context, name, pickcode string) error {
	m.mu.Lock()
	m.names[name] = pickcode
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Has(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.names[name]
	return ok, nil
}

func (m *MemoryIndex) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.names), nil
}

func (m *MemoryIndex) Close() error { return nil }

// BackendConfig selects and configures an IndexBackend.
type BackendConfig struct {
	Kind          string // "memory", "sqlite", "bolt" or "redis"
	Path          string // database file for sqlite and bolt
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

// OpenIndexBackend opens the backend named by cfg.Kind. An empty kind picks
// sqlite when a path is given and memory otherwise.
func OpenIndexBackend(ctx context.Context, cfg BackendConfig) (IndexBackend, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = "memory"
		if cfg.Path != "" {
			kind = "sqlite"
		}
	}
	sub("db").Info("opening index backend", "kind", kind, "path", cfg.Path)

	switch kind {
	case "memory":
		return NewMemoryIndex(), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite index requires a file path")
		}
		s, err := OpenStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "bolt":
		if cfg.Path == "" {
			return nil, fmt.Errorf("bolt index requires a file path")
		}
		b, err := OpenBoltIndex(cfg.Path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis index requires an address")
		}
		r, err := OpenRedisIndex(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKey)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q (must be memory, sqlite, bolt or redis)", kind)
	}
}
