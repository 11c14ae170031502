// Package cacher implements bhdir's process-local cache: a map from path to
// a record, a first-class negative entry, or "not present". Grounded on
// petomalina-pot.Server's getOrCreateLocalLock lazily-populated map idiom,
// generalized here to cached records instead of mutexes.
package cacher

import (
	"context"
	"sync"

	"github.com/bhdir/bhdir/internal/model"
)

// Entry is a cached value. Present distinguishes a first-class negative
// entry (Record == nil, Present == true, meaning "definitively absent")
// from "not in cache" (Present == false), per spec.md §4.3.
type Entry struct {
	Record  *model.Record
	Present bool
}

// Backend is the optional pass-through to an external in-memory KV such as
// Redis. A nil Backend means the Cacher is purely local.
type Backend interface {
	Get(ctx context.Context, key string) (data []byte, negative bool, found bool, err error)
	Set(ctx context.Context, key string, data []byte, negative bool) error
	Unset(ctx context.Context, key string) error
	FlushAll(ctx context.Context) error
}

// Cacher is bhdir's in-process cache, optionally backed by an external KV.
type Cacher struct {
	mu      sync.RWMutex
	entries map[string]Entry
	backend Backend
}

// New constructs a Cacher. backend may be nil for a purely local cache.
func New(backend Backend) *Cacher {
	return &Cacher{
		entries: make(map[string]Entry),
		backend: backend,
	}
}

// Get returns the cached entry for p. ok is false when nothing is cached.
func (c *Cacher) Get(ctx context.Context, p string) (entry Entry, ok bool) {
	c.mu.RLock()
	e, found := c.entries[p]
	c.mu.RUnlock()
	if found {
		return e, true
	}

	if c.backend == nil {
		return Entry{}, false
	}

	data, negative, found, err := c.backend.Get(ctx, p)
	if err != nil || !found {
		return Entry{}, false
	}
	if negative {
		return Entry{Present: true}, true
	}
	rec := &model.Record{}
	if err := unmarshalRecord(data, rec); err != nil {
		return Entry{}, false
	}
	return Entry{Record: rec, Present: true}, true
}

// Set stores rec for p. rec == nil stores a negative (definitively absent)
// entry.
func (c *Cacher) Set(ctx context.Context, p string, rec *model.Record) {
	c.mu.Lock()
	c.entries[p] = Entry{Record: rec, Present: true}
	c.mu.Unlock()

	if c.backend == nil {
		return
	}
	data, negative, err := marshalRecord(rec)
	if err != nil {
		return
	}
	_ = c.backend.Set(ctx, p, data, negative)
}

// Unset removes any cache entry for p, positive or negative.
func (c *Cacher) Unset(ctx context.Context, p string) {
	c.mu.Lock()
	delete(c.entries, p)
	c.mu.Unlock()

	if c.backend != nil {
		_ = c.backend.Unset(ctx, p)
	}
}

// Flush drops every cache entry. When a Redis-compatible backend is
// configured this issues its FLUSHDB-equivalent, per spec.md §4.3.
func (c *Cacher) Flush(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	if c.backend != nil {
		return c.backend.FlushAll(ctx)
	}
	return nil
}
