// Package checkpoint persists the end of the last scanned telemetry window.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/miradorstack/mirador-hotspots/internal/cache"
)

// Store loads, saves and clears the checkpoint. Load never fails for a missing
// value; it returns the default lookback instead.
type Store interface {
	Load(ctx context.Context) (time.Time, error)
	Save(ctx context.Context, ts time.Time) error
	Clear(ctx context.Context) error
}

// Default returns the start used when nothing was persisted: two search
// intervals back, so a restart never leaves a gap.
func Default(now time.Time, searchInterval time.Duration) time.Time {
	return now.UTC().Add(-2 * searchInterval)
}

type payload struct {
	LastTimestamp time.Time `json:"last_timestamp"`
}

// FileStore keeps the checkpoint in a JSON file.
type FileStore struct {
	path     string
	interval time.Duration
	now      func() time.Time
}

// NewFileStore returns a file-backed store at path.
func NewFileStore(path string, searchInterval time.Duration) *FileStore {
	return &FileStore{path: path, interval: searchInterval, now: time.Now}
}

// Load implements Store.
func (s *FileStore) Load(context.Context) (time.Time, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(s.now(), s.interval), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read checkpoint: %w", err)
	}
	return decode(data)
}

// Save implements Store. The file is replaced atomically.
func (s *FileStore) Save(_ context.Context, ts time.Time) error {
	data, err := json.Marshal(payload{LastTimestamp: ts.UTC()})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *FileStore) Clear(context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// CacheStore keeps the checkpoint under a cache key with no expiry.
type CacheStore struct {
	cache    cache.Provider
	key      string
	interval time.Duration
	now      func() time.Time
}

// NewCacheStore returns a cache-backed store.
func NewCacheStore(provider cache.Provider, key string, searchInterval time.Duration) *CacheStore {
	return &CacheStore{cache: provider, key: key, interval: searchInterval, now: time.Now}
}

// Load implements Store.
func (s *CacheStore) Load(ctx context.Context) (time.Time, error) {
	data, err := s.cache.Get(ctx, s.key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return Default(s.now(), s.interval), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read checkpoint: %w", err)
	}
	return decode(data)
}

// Save implements Store.
func (s *CacheStore) Save(ctx context.Context, ts time.Time) error {
	data, err := json.Marshal(payload{LastTimestamp: ts.UTC()})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.cache.Set(ctx, s.key, data, 0); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *CacheStore) Clear(ctx context.Context) error {
	if err := s.cache.Del(ctx, s.key); err != nil {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

func decode(data []byte) (time.Time, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return time.Time{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return p.LastTimestamp.UTC(), nil
}
