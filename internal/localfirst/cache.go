// Package localfirst holds the pieces shared by every local-first aggregate:
// an in-memory cache that is the source of truth for the user, its durable
// snapshot, and an outbox of changes still owed to the remote system.
package localfirst

import (
	"context"
	"sync"
)

// Persister loads and stores a full snapshot of a cache.
type Persister[K comparable, V any] interface {
	Load(ctx context.Context) (map[K]V, error)
	Save(ctx context.Context, items map[K]V) error
}

type Cache[K comparable, V any] struct {
	mu        sync.RWMutex
	items     map[K]V
	persister Persister[K, V]

	persistMu sync.Mutex
}

// NewCache creates an empty cache. persister may be nil for a memory-only cache.
func NewCache[K comparable, V any](persister Persister[K, V]) *Cache[K, V] {
	return &Cache[K, V]{
		items:     make(map[K]V),
		persister: persister,
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *Cache[K, V]) Has(key K) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

// PutIfAbsent stores value only when key is not present and reports whether it did.
func (c *Cache[K, V]) PutIfAbsent(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; ok {
		return false
	}
	c.items[key] = value
	return true
}

// Update replaces the value under key with fn's result while holding the lock.
func (c *Cache[K, V]) Update(key K, fn func(current V, ok bool) V) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.items[key]
	next := fn(current, ok)
	c.items[key] = next
	return next
}

func (c *Cache[K, V]) Values() []V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	values := make([]V, 0, len(c.items))
	for _, v := range c.items {
		values = append(values, v)
	}
	return values
}

func (c *Cache[K, V]) Snapshot() map[K]V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[K]V, len(c.items))
	for k, v := range c.items {
		snapshot[k] = v
	}
	return snapshot
}

func (c *Cache[K, V]) Replace(items map[K]V) {
	next := make(map[K]V, len(items))
	for k, v := range items {
		next[k] = v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = next
}

func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Persist writes the current snapshot through the persister. Concurrent calls
// are serialized so an older snapshot never overwrites a newer one.
func (c *Cache[K, V]) Persist(ctx context.Context) error {
	if c.persister == nil {
		return nil
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	return c.persister.Save(ctx, c.Snapshot())
}

// Load replaces the cache contents with the persisted snapshot.
func (c *Cache[K, V]) Load(ctx context.Context) error {
	if c.persister == nil {
		return nil
	}
	items, err := c.persister.Load(ctx)
	if err != nil {
		return err
	}
	c.Replace(items)
	return nil
}
