// Package kvstore provides the byte-blob storage used for in-flight login
// state and sessions. Values are opaque to the store; each write carries its
// own maximum age.
//
// Three backends are provided: a per-request cookie jar sealed with an AEAD
// (no server-side state), an in-process memory store, and Redis.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrInvalidMaxAge is returned by Set when maxAge is not positive.
	ErrInvalidMaxAge = errors.New("kvstore: max age must be positive")
)

// Store is a key/value capability over opaque byte blobs.
//
// Implementations are last-writer-wins; there is no compare-and-set.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key for maxAge.
	Set(ctx context.Context, key string, value []byte, maxAge time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Scoped returns a Store that prefixes every key with scope and ":". It is
// used to give each browser its own keyspace in a shared backend.
func Scoped(s Store, scope string) Store {
	return &scoped{s: s, scope: scope}
}

type scoped struct {
	s     Store
	scope string
}

func (s *scoped) key(k string) string {
	return s.scope + ":" + k
}

func (s *scoped) Get(ctx context.Context, key string) ([]byte, error) {
	return s.s.Get(ctx, s.key(key))
}

func (s *scoped) Set(ctx context.Context, key string, value []byte, maxAge time.Duration) error {
	return s.s.Set(ctx, s.key(key), value, maxAge)
}

func (s *scoped) Delete(ctx context.Context, key string) error {
	return s.s.Delete(ctx, s.key(key))
}
