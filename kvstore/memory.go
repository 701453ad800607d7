package kvstore

import (
	"bytes"
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Store. It does not survive restarts and is not
// shared between processes; use it for development and tests.
type Memory struct {
	c *gocache.Cache
}

var _ Store = (*Memory)(nil)

// NewMemory creates a Memory store that purges expired entries every
// cleanupInterval.
func NewMemory(cleanupInterval time.Duration) *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(b), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, maxAge time.Duration) error {
	if maxAge <= 0 {
		return ErrInvalidMaxAge
	}
	m.c.Set(key, bytes.Clone(value), maxAge)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Len returns the number of stored items, including expired items not yet
// purged.
func (m *Memory) Len() int {
	return m.c.ItemCount()
}
