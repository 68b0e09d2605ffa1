// Package persist stores the watchlist and the alert history across
// restarts.
//
// Documents are versioned JSON blobs kept in a Backend: a directory of files,
// a redis keyspace or process memory. Every failure is reported as *Error and
// never corrupts in-memory state; a missing document loads as empty.
package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/squeezewatch/squeezewatch/internal/config"
)

// ErrNotExist is returned by Backend.Get for keys that were never written.
var ErrNotExist = errors.New("persist: document does not exist")

// Backend is a flat key/value blob store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Close() error
}

// Open returns the backend selected by cfg. The redis backend is pinged so a
// bad address fails at startup instead of on the first save.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "file":
		return NewFile(cfg.Path)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password(),
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("persist: redis %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedis(client, cfg.Redis.KeyPrefix), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("persist: unsupported backend %q", cfg.Backend)
	}
}

// --- file -------------------------------------------------------------------

// File keeps one <key>.json file per document under a directory. Writes go
// to a temporary file that is renamed into place, so a crash never leaves a
// half-written document behind.
type File struct {
	dir string
}

// NewFile creates dir if needed and returns a File backend rooted there.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create %q: %w", dir, err)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

// Get reads the document for key.
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotExist
	}
	return data, err
}

// Put atomically replaces the document for key.
func (f *File) Put(_ context.Context, key string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, f.path(key)); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// Close is a no-op.
func (f *File) Close() error { return nil }

// --- redis ------------------------------------------------------------------

// Redis keeps documents as plain string values under prefix+key.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client. The backend owns the client from here on.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Get reads the document for key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotExist
	}
	return data, err
}

// Put replaces the document for key. Documents never expire.
func (r *Redis) Put(ctx context.Context, key string, data []byte) error {
	return r.client.Set(ctx, r.prefix+key, data, 0).Err()
}

// Close releases the client's connections.
func (r *Redis) Close() error { return r.client.Close() }

// --- memory -----------------------------------------------------------------

// Memory is a thread-safe in-process Backend, used for dry runs and tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
	fail error
}

// NewMemory creates an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get returns a copy of the document for key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[key]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), d...), nil
}

// Put stores a copy of data under key.
func (m *Memory) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.data[key] = append([]byte(nil), data...)
	return nil
}

// FailPuts makes every later Put return err until called again with nil.
func (m *Memory) FailPuts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Keys lists stored keys.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
