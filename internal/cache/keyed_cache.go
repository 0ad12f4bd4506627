package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultLockTimeout bounds how long a caller waits for another caller's
// in-flight computation of the same key. A wedged upstream call must not
// block every future caller of that key forever.
const DefaultLockTimeout = 45 * time.Second

type entry struct {
	value     interface{}
	expiresAt time.Time
}

type keyLock struct {
	ch chan struct{} // capacity 1, token = lock held
}

// KeyedCache is a TTL cache with per-key mutual exclusion. Concurrent Get
// calls for the same key run the fetcher exactly once; distinct keys do not
// contend. Keys are process-local: this does not coordinate across replicas,
// which is why a multi-instance deployment needs an external lock in front
// of anything with side effects.
type KeyedCache struct {
	mu          sync.RWMutex
	entries     map[string]entry
	locks       map[string]*keyLock
	lockTimeout time.Duration
}

// New creates a KeyedCache with the default lock acquire timeout.
func New() *KeyedCache {
	return NewWithTimeout(DefaultLockTimeout)
}

// NewWithTimeout creates a KeyedCache with an explicit lock acquire timeout.
func NewWithTimeout(timeout time.Duration) *KeyedCache {
	return &KeyedCache{
		entries:     make(map[string]entry),
		locks:       make(map[string]*keyLock),
		lockTimeout: timeout,
	}
}

// Get returns the cached value for key, or runs fetch under the key's lock
// and caches the result for ttl. The check-lock-check sequence guarantees a
// slow fetcher is invoked once no matter how many callers pile up on the key.
func (c *KeyedCache) Get(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if value, ok := c.lookup(key); ok {
		return value, nil
	}

	unlock, err := c.lockKey(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another caller may have populated the key while we waited.
	if value, ok := c.lookup(key); ok {
		return value, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.store(key, value, ttl)
	return value, nil
}

// WithLock runs fn while holding the key's lock, without touching the cached
// value. Used for side-effecting operations that must be serialized per key,
// like claim signing.
func (c *KeyedCache) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	unlock, err := c.lockKey(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// Invalidate drops the cached value for key, if any.
func (c *KeyedCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *KeyedCache) lookup(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.Invalidate(key)
		return nil, false
	}
	return e.value, true
}

func (c *KeyedCache) store(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// lockKey acquires the per-key lock, waiting at most lockTimeout. Locks are
// created lazily with a double check so the map stays read-mostly.
func (c *KeyedCache) lockKey(ctx context.Context, key string) (func(), error) {
	lock := c.getOrCreateLock(key)

	timer := time.NewTimer(c.lockTimeout)
	defer timer.Stop()

	select {
	case lock.ch <- struct{}{}:
		return func() { <-lock.ch }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("keyed cache: lock %q: %w", key, ctx.Err())
	case <-timer.C:
		return nil, fmt.Errorf("keyed cache: lock %q: timed out after %s", key, c.lockTimeout)
	}
}

func (c *KeyedCache) getOrCreateLock(key string) *keyLock {
	c.mu.RLock()
	lock, exists := c.locks[key]
	c.mu.RUnlock()
	if exists {
		return lock
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if lock, exists := c.locks[key]; exists {
		return lock
	}
	lock = &keyLock{ch: make(chan struct{}, 1)}
	c.locks[key] = lock
	return lock
}
