package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/openreturns/kestrel/internal/domain"
)

// activePolicyKey is the per-tenant cache key for the active policy.
const activePolicyKey = "policy:active"

// New builds the cache named by cfg.Type. Community deployments run the
// in-process LRU; Pro deployments run Redis, optionally fronted by the
// LRU as L1 (two-phase).
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache reads through a local LRU (L1) into Redis (L2). Writes go
// to both layers; L1 entries carry a short TTL so a policy change on
// another node converges within the L1 window.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache builds the L1+L2 pair from one cache config.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  NewLRUCache(cfg.LocalMaxSize),
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// localTTL clamps the L1 TTL so L1 never outlives the L2 entry.
func (c *TwoPhaseCache) localTTL(ttl time.Duration) time.Duration {
	if ttl < c.l1TTL {
		return ttl
	}
	return c.l1TTL
}

// Get reads L1 first, then L2, populating L1 on an L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes both layers.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes the key from both layers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetActivePolicy reads the active policy, L1 first.
func (c *TwoPhaseCache) GetActivePolicy(ctx context.Context, tenantID string) (*domain.Policy, error) {
	policy, err := c.local.GetActivePolicy(ctx, tenantID)
	if err != nil || policy != nil {
		return policy, err
	}

	policy, err = c.remote.GetActivePolicy(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if policy != nil {
		_ = c.local.SetActivePolicy(ctx, tenantID, policy, c.l1TTL)
	}
	return policy, nil
}

// SetActivePolicy caches the active policy in both layers.
func (c *TwoPhaseCache) SetActivePolicy(ctx context.Context, tenantID string, policy *domain.Policy, ttl time.Duration) error {
	if err := c.local.SetActivePolicy(ctx, tenantID, policy, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.SetActivePolicy(ctx, tenantID, policy, ttl)
}

// InvalidateActivePolicy drops the cached active policy from both layers.
func (c *TwoPhaseCache) InvalidateActivePolicy(ctx context.Context, tenantID string) error {
	if err := c.local.InvalidateActivePolicy(ctx, tenantID); err != nil {
		return err
	}
	return c.remote.InvalidateActivePolicy(ctx, tenantID)
}

// IncrementCounter goes straight to Redis. Counters must be exact across
// nodes, so L1 is never consulted.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports the L1 entry count and capacity.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
