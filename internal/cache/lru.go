// Package cache provides caching implementations for Kestrel.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/openreturns/kestrel/internal/domain"
)

// LRUCache is an in-process cache with per-entry TTL. It is the community
// tier cache and the L1 of the two-phase cache. Keys are scoped by tenant
// so one tenant's policy can never be served to another.
type LRUCache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	counters map[string]*windowCounter
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// windowCounter backs IncrementCounter: a count that resets when its
// window elapses.
type windowCounter struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*windowCounter),
	}
}

func scoped(tenantID, key string) string {
	return tenantID + ":" + key
}

// Get returns the cached value, or (nil, nil) on a miss or expired entry.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[scoped(tenantID, key)]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.evict(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value with the given TTL, evicting the least recently used
// entries when the cache is full.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	full := scoped(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[full]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return nil
	}

	elem := c.order.PushFront(&lruEntry{
		key:       full,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
	c.entries[full] = elem

	for c.order.Len() > c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.evict(oldest)
		}
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[scoped(tenantID, key)]; ok {
		c.evict(elem)
	}
	return nil
}

// GetActivePolicy retrieves the cached active policy for a tenant.
func (c *LRUCache) GetActivePolicy(ctx context.Context, tenantID string) (*domain.Policy, error) {
	data, err := c.Get(ctx, tenantID, activePolicyKey)
	if err != nil || data == nil {
		return nil, err
	}

	var policy domain.Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// SetActivePolicy caches a tenant's active policy.
func (c *LRUCache) SetActivePolicy(ctx context.Context, tenantID string, policy *domain.Policy, ttl time.Duration) error {
	bytes, err := json.Marshal(policy)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, activePolicyKey, bytes, ttl)
}

// InvalidateActivePolicy drops the cached active policy.
func (c *LRUCache) InvalidateActivePolicy(ctx context.Context, tenantID string) error {
	return c.Delete(ctx, tenantID, activePolicyKey)
}

// IncrementCounter bumps a windowed counter and returns the new count.
// The first increment after a window elapses starts a fresh window at 1.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	full := scoped(tenantID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if counter, ok := c.counters[full]; ok && now.Before(counter.expiresAt) {
		counter.count++
		return counter.count, nil
	}

	c.counters[full] = &windowCounter{count: 1, expiresAt: now.Add(window)}
	return 1, nil
}

func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops all entries and counters.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	c.counters = make(map[string]*windowCounter)
	return nil
}

// Stats returns the current entry count and the configured capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.capacity
}

// evict removes an element; caller holds the write lock.
func (c *LRUCache) evict(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).key)
}
