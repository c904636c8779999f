// Package memory is an in-process db.Store backed by an expiring LRU.
package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kailas-cloud/addrscore/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// DefaultSize bounds the entry count when Config.Size is not positive.
const DefaultSize = 10_000

// Config sizes the in-process store.
type Config struct {
	Size int
	// TTL applies to every Set; zero keeps entries until evicted.
	TTL time.Duration
}

// Store keeps values in memory. Values are copied on the way in and out.
type Store struct {
	lru    *expirable.LRU[string, []byte]
	closed atomic.Bool
}

// NewStore creates an in-process store.
func NewStore(cfg Config) *Store {
	size := cfg.Size
	if size <= 0 {
		size = DefaultSize
	}
	return &Store{lru: expirable.NewLRU[string, []byte](size, nil, cfg.TTL)}
}

// Ping reports whether the store is still open.
func (s *Store) Ping(_ context.Context) error {
	if s.closed.Load() {
		return &db.Error{Op: db.OpPing, Err: db.ErrClosed}
	}
	return nil
}

// Get retrieves a copy of the value at key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, &db.Error{Op: db.OpGet, Err: db.ErrClosed}
	}
	v, ok := s.lru.Get(key)
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value at key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return &db.Error{Op: db.OpSet, Err: db.ErrClosed}
	}
	s.lru.Add(key, append([]byte(nil), value...))
	return nil
}

// SetWithTTL stores value under the store-wide TTL. The LRU has no
// per-entry expiry, so ttl is ignored.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, _ time.Duration) error {
	return s.Set(ctx, key, value)
}

// Len returns the number of live entries.
func (s *Store) Len() int { return s.lru.Len() }

// Close drops every entry; later calls fail with db.ErrClosed.
func (s *Store) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.lru.Purge()
	}
}

// WaitForReady returns immediately: an open in-process store is always ready.
func (s *Store) WaitForReady(ctx context.Context, _ time.Duration) error {
	return s.Ping(ctx)
}
